package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_EquivalenceClass(t *testing.T) {
	inputs := []string{
		"0712345678",
		"+40712345678",
		"40712345678",
		"712345678",
		"0712 345 678",
		"0712-345-678",
		"(0712) 345 678",
	}
	for _, in := range inputs {
		got, err := Normalize(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, "+40712345678", got, "input %q", in)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	first, err := Normalize("0723 111 222")
	require.NoError(t, err)
	second, err := Normalize(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNormalize_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"landline", "0212345678"},
		{"landline mobile-length", "0612345678"},
		{"foreign country code", "+41712345678"},
		{"too short", "071234567"},
		{"too long", "07123456789"},
		{"letters mixed in", "07abc123def45678"},
		{"plus not leading", "07+12345678"},
		{"bare nine digits not mobile", "812345678"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.input)
			assert.ErrorIs(t, err, ErrInvalidNumber)
		})
	}
}

func TestIsCanonical(t *testing.T) {
	assert.True(t, IsCanonical("+40712345678"))
	assert.False(t, IsCanonical("0712345678"))
	assert.False(t, IsCanonical("garbage"))
}

func TestFormatLocal(t *testing.T) {
	assert.Equal(t, "0712 345 678", FormatLocal("+40712345678"))
	// non-canonical input passes through untouched
	assert.Equal(t, "0712345678", FormatLocal("0712345678"))
}
