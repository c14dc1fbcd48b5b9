package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := ParseDate(s)
	require.NoError(t, err)
	return parsed
}

func TestNextNotificationDate(t *testing.T) {
	expiry := "2025-12-31"

	tests := []struct {
		name      string
		daysUntil int
		intervals []int
		want      string
	}{
		{"first interval below remaining days", 7, []int{7, 3, 1}, "2025-12-28"},
		{"middle of schedule", 3, []int{7, 3, 1}, "2025-12-30"},
		{"schedule exhausted", 1, []int{7, 3, 1}, ""},
		{"empty intervals", 10, nil, ""},
		{"unsorted input", 7, []int{1, 7, 3}, "2025-12-28"},
		{"duplicates harmless", 7, []int{3, 3, 7, 1}, "2025-12-28"},
		{"already expired", -2, []int{7, 3, 1}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextNotificationDate(mustDate(t, expiry), tt.daysUntil, tt.intervals)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextNotificationDate_DoesNotMutateInput(t *testing.T) {
	intervals := []int{1, 7, 3}
	NextNotificationDate(mustDate(t, "2025-12-31"), 10, intervals)
	assert.Equal(t, []int{1, 7, 3}, intervals)
}

func TestDaysUntilExpiry(t *testing.T) {
	expiry := mustDate(t, "2025-12-31")

	assert.Equal(t, 7, DaysUntilExpiry(expiry, mustDate(t, "2025-12-24")))
	assert.Equal(t, 0, DaysUntilExpiry(expiry, mustDate(t, "2025-12-31")))
	assert.Equal(t, -3, DaysUntilExpiry(expiry, mustDate(t, "2026-01-03")))

	// truncation, not rounding: late evening still counts as the same day
	evening := time.Date(2025, 12, 24, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, 7, DaysUntilExpiry(expiry, evening))
}

func TestFiresToday(t *testing.T) {
	expiry := mustDate(t, "2025-12-31")

	assert.True(t, FiresToday(expiry, mustDate(t, "2025-12-24"), []int{7, 3, 1}))
	assert.False(t, FiresToday(expiry, mustDate(t, "2025-12-25"), []int{7, 3, 1}))
	assert.False(t, FiresToday(expiry, mustDate(t, "2025-12-24"), nil))
}
