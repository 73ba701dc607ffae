package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/serroba/ratelimit-gateway/internal/ratelimit"
)

// MemcacheClient is the subset of *memcache.Client used by CounterMemcacheStore.
type MemcacheClient interface {
	GetMulti(keys []string) (map[string]*memcache.Item, error)
	Add(item *memcache.Item) error
	Increment(key string, delta uint64) (uint64, error)
	Set(item *memcache.Item) error
	Ping() error
}

// CounterMemcacheStore is a memcached implementation of ratelimit.Store with atomic increments.
// The memcache protocol has no cancellation, so contexts are only checked before each call.
type CounterMemcacheStore struct {
	client MemcacheClient
}

// NewCounterMemcacheStore creates a new memcached-backed counter store.
func NewCounterMemcacheStore(client MemcacheClient) *CounterMemcacheStore {
	return &CounterMemcacheStore{client: client}
}

// GetMany reads all keys in one multi-get. Missing keys are omitted.
func (m *CounterMemcacheStore) GetMany(ctx context.Context, keys []string) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items, err := m.client.GetMulti(keys)
	if err != nil {
		return nil, err
	}

	result := make(map[string]int64, len(items))

	for key, item := range items {
		count, err := strconv.ParseInt(strings.TrimSpace(string(item.Value)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %q: %w", key, err)
		}

		result[key] = count
	}

	return result, nil
}

func (m *CounterMemcacheStore) Set(ctx context.Context, key string, value int64, expiry time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return m.client.Set(&memcache.Item{
		Key:        key,
		Value:      []byte(strconv.FormatInt(value, 10)),
		Expiration: expirySeconds(expiry),
	})
}

// Increment adds the key at "0" with the expiry, ignoring an existing key, and then
// increments it. memcached's incr keeps the expiry set by the add.
func (m *CounterMemcacheStore) Increment(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	err := m.client.Add(&memcache.Item{
		Key:        key,
		Value:      []byte("0"),
		Expiration: expirySeconds(expiry),
	})
	if err != nil && !errors.Is(err, memcache.ErrNotStored) {
		return 0, err
	}

	value, err := m.client.Increment(key, 1)
	if err != nil {
		return 0, err
	}

	return int64(value), nil
}

// Ping checks that every memcached server is reachable.
func (m *CounterMemcacheStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return m.client.Ping()
}

func expirySeconds(expiry time.Duration) int32 {
	return int32(expiry / time.Second)
}

// Compile-time checks.
var (
	_ ratelimit.Store       = (*CounterMemcacheStore)(nil)
	_ ratelimit.Incrementer = (*CounterMemcacheStore)(nil)
	_ MemcacheClient        = (*memcache.Client)(nil)
)
