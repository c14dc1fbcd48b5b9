// Package ratelimit provides fixed-window request limiting for the
// verification endpoints. The counter lives behind the Store interface so a
// single process can run on the in-memory map while multi-instance
// deployments plug in the Redis-backed store.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store increments a counter for key within a fixed window and reports the
// resulting count plus the moment the window resets. Increment must be
// atomic with respect to concurrent callers sharing a key.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, resetTime time.Time, err error)
}

// Result is the outcome of a limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// Limiter applies per-key request budgets on top of a Store.
type Limiter struct {
	store Store
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store}
}

// Check consumes one request from key's budget. On store failure the request
// is allowed; availability wins over strictness for a best-effort limiter.
func (l *Limiter) Check(ctx context.Context, key string, maxRequests int, window time.Duration) (Result, error) {
	count, resetTime, err := l.store.Increment(ctx, key, window)
	if err != nil {
		return Result{Allowed: true, Remaining: 0, ResetTime: time.Now().Add(window)}, err
	}

	remaining := maxRequests - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= maxRequests,
		Remaining: remaining,
		ResetTime: resetTime,
	}, nil
}

type windowEntry struct {
	count     int
	resetTime time.Time
}

// MemoryStore is a mutex-guarded fixed-window counter map. Single-process
// only: counters reset on restart and are not shared across instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok || now.After(entry.resetTime) {
		entry = &windowEntry{count: 1, resetTime: now.Add(window)}
		s.entries[key] = entry
		return entry.count, entry.resetTime, nil
	}

	entry.count++
	return entry.count, entry.resetTime, nil
}

// Purge drops expired windows. Called opportunistically; correctness does not
// depend on it since expired entries are overwritten on next increment.
func (s *MemoryStore) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, entry := range s.entries {
		if now.After(entry.resetTime) {
			delete(s.entries, key)
		}
	}
}
