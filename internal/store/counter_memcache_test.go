package store_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/serroba/ratelimit-gateway/internal/ratelimit"
	"github.com/serroba/ratelimit-gateway/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMock = errors.New("mock error")

// fakeMemcache mimics memcached semantics for add, incr and multi-get.
type fakeMemcache struct {
	mu      sync.Mutex
	items   map[string]*memcache.Item
	err     error
	addErr  error
	pingErr error
	added   int
}

func newFakeMemcache() *fakeMemcache {
	return &fakeMemcache{items: make(map[string]*memcache.Item)}
}

func (f *fakeMemcache) GetMulti(keys []string) (map[string]*memcache.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	result := make(map[string]*memcache.Item)

	for _, key := range keys {
		if item, ok := f.items[key]; ok {
			result[key] = item
		}
	}

	return result, nil
}

func (f *fakeMemcache) Add(item *memcache.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.addErr != nil {
		return f.addErr
	}

	if _, ok := f.items[item.Key]; ok {
		return memcache.ErrNotStored
	}

	f.added++
	f.items[item.Key] = item

	return nil
}

func (f *fakeMemcache) Increment(key string, delta uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return 0, f.err
	}

	item, ok := f.items[key]
	if !ok {
		return 0, memcache.ErrCacheMiss
	}

	value, err := strconv.ParseUint(string(item.Value), 10, 64)
	if err != nil {
		return 0, err
	}

	value += delta
	item.Value = []byte(strconv.FormatUint(value, 10))

	return value, nil
}

func (f *fakeMemcache) Set(item *memcache.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	f.items[item.Key] = item

	return nil
}

func (f *fakeMemcache) Ping() error {
	return f.pingErr
}

func TestCounterMemcacheStore(t *testing.T) {
	ctx := context.Background()

	t.Run("increment adds the key with its expiry once", func(t *testing.T) {
		client := newFakeMemcache()
		s := store.NewCounterMemcacheStore(client)

		for want := int64(1); want <= 3; want++ {
			got, err := s.Increment(ctx, "key1", 3*time.Minute)

			require.NoError(t, err)
			assert.Equal(t, want, got)
		}

		assert.Equal(t, 1, client.added)
		assert.Equal(t, int32(180), client.items["key1"].Expiration)
	})

	t.Run("get many parses counters", func(t *testing.T) {
		client := newFakeMemcache()
		client.items["a"] = &memcache.Item{Key: "a", Value: []byte("4")}
		client.items["b"] = &memcache.Item{Key: "b", Value: []byte("12  ")}
		s := store.NewCounterMemcacheStore(client)

		counts, err := s.GetMany(ctx, []string{"a", "b", "c"})

		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"a": 4, "b": 12}, counts)
	})

	t.Run("rejects non-numeric counters", func(t *testing.T) {
		client := newFakeMemcache()
		client.items["a"] = &memcache.Item{Key: "a", Value: []byte("x")}

		_, err := store.NewCounterMemcacheStore(client).GetMany(ctx, []string{"a"})

		assert.Error(t, err)
	})

	t.Run("set stores value and expiry", func(t *testing.T) {
		client := newFakeMemcache()
		s := store.NewCounterMemcacheStore(client)

		require.NoError(t, s.Set(ctx, "key1", 9, 2*time.Minute))

		assert.Equal(t, "9", string(client.items["key1"].Value))
		assert.Equal(t, int32(120), client.items["key1"].Expiration)
	})

	t.Run("propagates add failures other than not stored", func(t *testing.T) {
		client := newFakeMemcache()
		client.addErr = errMock

		_, err := store.NewCounterMemcacheStore(client).Increment(ctx, "key1", time.Minute)

		assert.ErrorIs(t, err, errMock)
	})

	t.Run("propagates client failures", func(t *testing.T) {
		client := newFakeMemcache()
		client.err = errMock
		s := store.NewCounterMemcacheStore(client)

		_, err := s.GetMany(ctx, []string{"a"})
		require.ErrorIs(t, err, errMock)

		assert.ErrorIs(t, s.Set(ctx, "a", 1, time.Minute), errMock)
	})

	t.Run("honours cancelled contexts", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		client := newFakeMemcache()
		s := store.NewCounterMemcacheStore(client)

		_, err := s.Increment(cancelled, "key1", time.Minute)
		require.ErrorIs(t, err, context.Canceled)

		_, err = s.GetMany(cancelled, []string{"key1"})
		require.ErrorIs(t, err, context.Canceled)

		require.ErrorIs(t, s.Ping(cancelled), context.Canceled)
		assert.Empty(t, client.items)
	})

	t.Run("ping", func(t *testing.T) {
		client := newFakeMemcache()
		s := store.NewCounterMemcacheStore(client)

		require.NoError(t, s.Ping(ctx))

		client.pingErr = errMock
		assert.ErrorIs(t, s.Ping(ctx), errMock)
	})

	t.Run("drives a limiter atomically", func(t *testing.T) {
		s := store.NewCounterMemcacheStore(newFakeMemcache())
		policy := ratelimit.DefaultPolicy()
		policy.MaxRequests = 2

		limiter, err := ratelimit.NewLimiter(s, policy)
		require.NoError(t, err)
		assert.Equal(t, ratelimit.TierAtomic, limiter.Tier())

		first, err := limiter.Check(ctx, testRequest{addr: "10.0.0.1"})
		require.NoError(t, err)
		assert.True(t, first.Allowed())

		second, err := limiter.Check(ctx, testRequest{addr: "10.0.0.1"})
		require.NoError(t, err)
		assert.False(t, second.Allowed())
	})
}
