package encryption

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trollofun/uitdeitp/internal/config"
)

func TestEncryptDecryptPhone_LocalKey(t *testing.T) {
	cfg := &config.Config{}
	em := NewEncryptionManager(cfg, nil)
	ctx := context.Background()

	encrypted, err := em.EncryptPhone(ctx, "+40712345678")
	require.NoError(t, err)
	assert.NotEmpty(t, encrypted.EncryptedValue)
	assert.NotEqual(t, "+40712345678", encrypted.EncryptedValue)

	decrypted, err := em.DecryptPhone(ctx, encrypted)
	require.NoError(t, err)
	assert.Equal(t, "+40712345678", decrypted)
}

func TestDecryptPhone_TamperedCiphertext(t *testing.T) {
	cfg := &config.Config{}
	em := NewEncryptionManager(cfg, nil)
	ctx := context.Background()

	encrypted, err := em.EncryptPhone(ctx, "+40712345678")
	require.NoError(t, err)

	encrypted.EncryptedValue = "bm90IHZhbGlkIGNpcGhlcnRleHQ="
	_, err = em.DecryptPhone(ctx, encrypted)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestClearCache(t *testing.T) {
	cfg := &config.Config{}
	em := NewEncryptionManager(cfg, nil)

	_, err := em.EncryptPhone(context.Background(), "+40712345678")
	require.NoError(t, err)

	em.ClearCache()
	count := 0
	em.keyCache.Range(func(_, _ interface{}) bool { count++; return true })
	assert.Zero(t, count)
}
