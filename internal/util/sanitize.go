package util

import "strings"

// NormalizePlate uppercases a plate number and strips spaces and dashes,
// so "B 123 ABC" and "b-123-abc" store identically.
func NormalizePlate(plate string) string {
	plate = strings.ToUpper(strings.TrimSpace(plate))
	plate = strings.ReplaceAll(plate, " ", "")
	return strings.ReplaceAll(plate, "-", "")
}
