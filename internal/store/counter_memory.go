package store

import (
	"context"
	"sync"
	"time"

	"github.com/serroba/ratelimit-gateway/internal/ratelimit"
)

const memorySweepEvery = time.Minute

type counterEntry struct {
	value     int64
	expiresAt time.Time
}

// CounterMemoryStore is an in-memory implementation of ratelimit.Store with atomic increments.
// It only serves a single process; use Redis or memcached to share counters.
type CounterMemoryStore struct {
	mu        sync.Mutex
	counters  map[string]counterEntry
	now       func() time.Time
	lastSweep time.Time
}

// MemoryOption configures a CounterMemoryStore.
type MemoryOption func(*CounterMemoryStore)

// WithMemoryClock replaces time.Now for expiry bookkeeping.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *CounterMemoryStore) {
		s.now = now
	}
}

// NewCounterMemoryStore creates a new in-memory counter store.
func NewCounterMemoryStore(opts ...MemoryOption) *CounterMemoryStore {
	s := &CounterMemoryStore{
		counters: make(map[string]counterEntry),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.lastSweep = s.now()

	return s
}

func (s *CounterMemoryStore) GetMany(_ context.Context, keys []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	result := make(map[string]int64, len(keys))

	for _, key := range keys {
		if entry, ok := s.live(key, now); ok {
			result[key] = entry.value
		}
	}

	return result, nil
}

func (s *CounterMemoryStore) Set(_ context.Context, key string, value int64, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.counters[key] = counterEntry{value: value, expiresAt: now.Add(expiry)}
	s.sweep(now)

	return nil
}

// Increment creates the key at zero with the given expiry when absent, then adds one.
// An existing key keeps its original expiry.
func (s *CounterMemoryStore) Increment(_ context.Context, key string, expiry time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	entry, ok := s.live(key, now)
	if !ok {
		entry = counterEntry{expiresAt: now.Add(expiry)}
	}

	entry.value++
	s.counters[key] = entry
	s.sweep(now)

	return entry.value, nil
}

// Len returns the number of stored counters, including expired ones not yet swept.
func (s *CounterMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.counters)
}

// live returns the entry for key unless it has expired. Callers must hold s.mu.
func (s *CounterMemoryStore) live(key string, now time.Time) (counterEntry, bool) {
	entry, ok := s.counters[key]
	if !ok {
		return counterEntry{}, false
	}

	if !now.Before(entry.expiresAt) {
		delete(s.counters, key)

		return counterEntry{}, false
	}

	return entry, true
}

// sweep drops expired counters at most once per memorySweepEvery. Callers must hold s.mu.
func (s *CounterMemoryStore) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < memorySweepEvery {
		return
	}

	for key, entry := range s.counters {
		if !now.Before(entry.expiresAt) {
			delete(s.counters, key)
		}
	}

	s.lastSweep = now
}

// Compile-time checks.
var (
	_ ratelimit.Store       = (*CounterMemoryStore)(nil)
	_ ratelimit.Incrementer = (*CounterMemoryStore)(nil)
)
