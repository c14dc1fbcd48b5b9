package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trollofun/uitdeitp/internal/config"
)

func testHasher() *Hasher {
	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 8192
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	return NewHasher(cfg)
}

func TestHashCode_RoundTrip(t *testing.T) {
	h := testHasher()

	result, err := h.HashCode("123456")
	require.NoError(t, err)
	assert.Equal(t, "argon2id-v1", result.Algorithm)

	ok, err := h.VerifyCode("123456", result)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyCode("123457", result)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashCode_SaltVaries(t *testing.T) {
	h := testHasher()

	a, err := h.HashCode("654321")
	require.NoError(t, err)
	b, err := h.HashCode("654321")
	require.NoError(t, err)

	assert.NotEqual(t, a.Hash, b.Hash)
	assert.NotEqual(t, a.Salt, b.Salt)
}

func TestVerifyCode_UnknownPepperVersion(t *testing.T) {
	h := testHasher()

	result, err := h.HashCode("111111")
	require.NoError(t, err)
	result.PepperVersion = 99

	_, err = h.VerifyCode("111111", result)
	assert.ErrorIs(t, err, ErrPepperNotFound)
}
