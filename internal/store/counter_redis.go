package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/ratelimit-gateway/internal/ratelimit"
)

// CounterRedisStore is a Redis implementation of ratelimit.Store with atomic increments.
type CounterRedisStore struct {
	client *redis.Client
}

// NewCounterRedisStore creates a new Redis-backed counter store.
func NewCounterRedisStore(client *redis.Client) *CounterRedisStore {
	return &CounterRedisStore{client: client}
}

// GetMany reads all keys with a single MGET. Missing keys are omitted.
func (r *CounterRedisStore) GetMany(ctx context.Context, keys []string) (map[string]int64, error) {
	result := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}

		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %q: %w", keys[i], err)
		}

		result[keys[i]] = count
	}

	return result, nil
}

func (r *CounterRedisStore) Set(ctx context.Context, key string, value int64, expiry time.Duration) error {
	return r.client.Set(ctx, key, value, expiry).Err()
}

// Increment runs SET NX with the expiry followed by INCR inside one MULTI, so a
// new bucket is created with its expiry before it is counted.
func (r *CounterRedisStore) Increment(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	var incr *redis.IntCmd

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, expiry)
		incr = pipe.Incr(ctx, key)

		return nil
	})
	if err != nil {
		return 0, err
	}

	return incr.Val(), nil
}

// Ping checks Redis connectivity.
func (r *CounterRedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Compile-time checks.
var (
	_ ratelimit.Store       = (*CounterRedisStore)(nil)
	_ ratelimit.Incrementer = (*CounterRedisStore)(nil)
)
