// Package optout implements the reversible phone-to-token encoding used in
// SMS unsubscribe links. The token is a compactness optimization for the
// 160-character SMS budget, not a security mechanism: anyone can invert it.
package optout

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/trollofun/uitdeitp/internal/phone"
)

// ErrInvalidToken covers unparseable tokens and tokens that decode to
// something other than a Romanian mobile number.
var ErrInvalidToken = errors.New("invalid opt-out token")

// Encode turns a canonical "+40XXXXXXXXX" phone number into a short
// lowercase base-36 token (at most 6 characters for the mobile range).
func Encode(canonical string) (string, error) {
	if !phone.IsCanonical(canonical) {
		return "", phone.ErrInvalidNumber
	}
	national, err := strconv.ParseUint(canonical[3:], 10, 64)
	if err != nil {
		return "", phone.ErrInvalidNumber
	}
	return strconv.FormatUint(national, 36), nil
}

// Decode inverts Encode. The decoded number must be exactly nine digits and
// start with 7, which closes the loop against forged or truncated tokens.
func Decode(token string) (string, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return "", ErrInvalidToken
	}
	national, err := strconv.ParseUint(token, 36, 64)
	if err != nil {
		return "", ErrInvalidToken
	}
	padded := fmt.Sprintf("%09d", national)
	if len(padded) != 9 || padded[0] != '7' {
		return "", ErrInvalidToken
	}
	return "+40" + padded, nil
}
