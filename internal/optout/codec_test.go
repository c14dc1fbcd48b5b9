package optout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trollofun/uitdeitp/internal/phone"
)

func TestRoundTrip(t *testing.T) {
	phones := []string{
		"+40712345678",
		"+40700000000",
		"+40799999999",
		"+40745123456",
	}
	for _, p := range phones {
		token, err := Encode(p)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(token), 6, "token for %s", p)

		decoded, err := Decode(token)
		require.NoError(t, err)
		assert.Equal(t, p, decoded)
	}
}

func TestEncode_RejectsNonCanonical(t *testing.T) {
	_, err := Encode("0712345678")
	assert.ErrorIs(t, err, phone.ErrInvalidNumber)
}

func TestDecode_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"not base36", "not-base36-!!!"},
		{"empty", ""},
		{"decodes below mobile range", "1"},
		// decodes to 612345678 — first digit is not 7 after padding
		{"decodes to landline shape", "a4koy6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestDecode_CaseInsensitive(t *testing.T) {
	token, err := Encode("+40712345678")
	require.NoError(t, err)

	upper, err := Decode(token)
	require.NoError(t, err)
	mixed, err := Decode("  " + token + " ")
	require.NoError(t, err)
	assert.Equal(t, upper, mixed)
}
