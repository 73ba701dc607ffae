package ratelimit

import (
	"context"
	"time"
)

// Store defines the counter storage the limiter reads from and writes to.
// Buckets are never deleted by the limiter; the store expires them.
type Store interface {
	// GetMany returns the counters of the given keys. Absent keys may be omitted.
	GetMany(ctx context.Context, keys []string) (map[string]int64, error)

	// Set overwrites a counter and (re)sets its expiry.
	Set(ctx context.Context, key string, value int64, expiry time.Duration) error
}

// Incrementer is implemented by stores with an atomic increment.
type Incrementer interface {
	// Increment creates the key with value 0 and the given expiry when absent,
	// then atomically adds one and returns the new value.
	Increment(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// IncrementTier reports how a limiter increments its current bucket.
type IncrementTier string

const (
	// TierAtomic delegates to the store's Incrementer; concurrent increments are serialized.
	TierAtomic IncrementTier = "atomic"

	// TierReadModifyWrite reads, adds one and writes back. Concurrent requests on the
	// same bucket may overwrite each other and lose increments. The resulting undercount
	// is accepted: limiting is advisory, not a quota ledger.
	TierReadModifyWrite IncrementTier = "read-modify-write"
)
