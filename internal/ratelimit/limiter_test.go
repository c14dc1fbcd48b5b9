package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BudgetAndDenial(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := limiter.Check(ctx, "ip:1.2.3.4", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should pass", i+1)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := limiter.Check(ctx, "ip:1.2.3.4", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore())
	ctx := context.Background()

	_, err := limiter.Check(ctx, "a", 1, time.Hour)
	require.NoError(t, err)

	res, err := limiter.Check(ctx, "b", 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryStore_WindowReset(t *testing.T) {
	store := NewMemoryStore()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	ctx := context.Background()
	limiter := NewLimiter(store)

	for i := 0; i < 2; i++ {
		_, err := limiter.Check(ctx, "k", 2, time.Minute)
		require.NoError(t, err)
	}
	res, err := limiter.Check(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// window elapses: count resets to 1
	current = current.Add(61 * time.Second)
	res, err = limiter.Check(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestMemoryStore_ConcurrentIncrement(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _, err := store.Increment(ctx, "shared", time.Hour)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, _, err := store.Increment(ctx, "shared", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, workers+1, count)
}

func TestMemoryStore_Purge(t *testing.T) {
	store := NewMemoryStore()
	current := time.Now()
	store.now = func() time.Time { return current }

	_, _, err := store.Increment(context.Background(), "old", time.Minute)
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	store.Purge()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.entries)
}
