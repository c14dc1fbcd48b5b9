package scylla

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Statements are plain text and a fresh gocql.Query is built per call, so
// concurrent repository calls never share a bound query. The placeholder
// counts below pin the bind arity each repository method relies on.
func TestDefaultStatements_PlaceholderArity(t *testing.T) {
	stmts := defaultStatements()

	tests := []struct {
		name         string
		stmt         string
		placeholders int
	}{
		{"CreateVerification", stmts.CreateVerification, 13},
		{"GetVerifications", stmts.GetVerifications, 2},
		{"MarkVerified", stmts.MarkVerified, 3},
		{"IncrementAttempts", stmts.IncrementAttempts, 2},
		{"GetAttempts", stmts.GetAttempts, 2},
		{"CreateReminder", stmts.CreateReminder, 18},
		{"CreateReminderByDate", stmts.CreateReminderByDate, 2},
		{"CreateReminderByPhone", stmts.CreateReminderByPhone, 2},
		{"GetReminder", stmts.GetReminder, 1},
		{"UpdateReminder", stmts.UpdateReminder, 7},
		{"AdvanceReminder", stmts.AdvanceReminder, 3},
		{"SoftDeleteReminder", stmts.SoftDeleteReminder, 3},
		{"OptOutReminder", stmts.OptOutReminder, 2},
		{"GetRemindersByDate", stmts.GetRemindersByDate, 1},
		{"GetRemindersByPhone", stmts.GetRemindersByPhone, 1},
		{"GetStationBySlug", stmts.GetStationBySlug, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotEmpty(t, tt.stmt)
			assert.Equal(t, tt.placeholders, strings.Count(tt.stmt, "?"))
		})
	}
}
