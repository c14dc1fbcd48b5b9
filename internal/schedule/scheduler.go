// Package schedule computes reminder firing dates from a document expiry
// date and a set of day-offset intervals (e.g. [30, 7, 1] days before).
package schedule

import (
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// DaysUntilExpiry returns the number of whole calendar days between asOf and
// expiry, truncated (not rounded). Negative when expiry has passed.
func DaysUntilExpiry(expiry, asOf time.Time) int {
	e := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC)
	a := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(a).Hours() / 24)
}

// NextNotificationDate returns the next date a reminder should fire, as
// "YYYY-MM-DD", given how many days remain until expiry. The next firing is
// the largest interval strictly below daysUntil; an empty string means the
// schedule is exhausted. Interval order and duplicates are irrelevant.
func NextNotificationDate(expiry time.Time, daysUntil int, intervals []int) string {
	if len(intervals) == 0 {
		return ""
	}

	sorted := append([]int(nil), intervals...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	for _, interval := range sorted {
		if interval < daysUntil {
			return expiry.AddDate(0, 0, -interval).Format(dateLayout)
		}
	}
	return ""
}

// FiresToday reports whether a reminder fires on asOf: the remaining days
// must exactly equal one of the configured intervals.
func FiresToday(expiry, asOf time.Time, intervals []int) bool {
	days := DaysUntilExpiry(expiry, asOf)
	for _, interval := range intervals {
		if interval == days {
			return true
		}
	}
	return false
}

// ParseDate parses a "YYYY-MM-DD" date string.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

// FormatDate renders t as "YYYY-MM-DD".
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
