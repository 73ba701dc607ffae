package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNilStore is returned by NewLimiter when no store is given.
	ErrNilStore = fmt.Errorf("%w: store is required", ErrPolicyMisconfigured)
	// ErrStoreUnavailable wraps every counter store failure.
	ErrStoreUnavailable = errors.New("ratelimit: counter store unavailable")
)

// Outcome is the result of a rate limit check.
type Outcome int

const (
	// Allow lets the request through.
	Allow Outcome = iota
	// Deny rejects the request.
	Deny
)

func (o Outcome) String() string {
	if o == Deny {
		return "deny"
	}

	return "allow"
}

// FailureMode decides what a check returns when the counter store fails.
type FailureMode string

const (
	// FailOpen allows the request. The decision is marked Degraded.
	FailOpen FailureMode = "open"
	// FailClosed denies the request. The decision is marked Degraded.
	FailClosed FailureMode = "closed"
)

// ParseFailureMode maps a configuration string to a FailureMode.
func ParseFailureMode(s string) (FailureMode, error) {
	switch mode := FailureMode(s); mode {
	case FailOpen, FailClosed:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: unknown failure mode %q", ErrPolicyMisconfigured, s)
	}
}

// Decision describes a single check.
type Decision struct {
	Outcome Outcome
	// Policy is the name of the policy that produced the decision.
	Policy string
	// Key is the bucket key incremented by the request.
	Key string
	// Count is the window total before this request's own increment.
	Count int64
	// Limit is the policy's MaxRequests.
	Limit int64
	// Applicable is false when the policy predicate skipped the request.
	Applicable bool
	// Degraded is true when the outcome comes from the failure mode, not from counters.
	Degraded bool
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

// Checker decides whether a request may proceed.
type Checker interface {
	Check(ctx context.Context, req Request) (Decision, error)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now as the source of bucket timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithFailureMode sets the behaviour on store failures. The default is FailOpen.
func WithFailureMode(mode FailureMode) Option {
	return func(l *Limiter) {
		l.failureMode = mode
	}
}

// WithReadModifyWrite forces the non-atomic increment even if the store has Incrementer.
func WithReadModifyWrite() Option {
	return func(l *Limiter) {
		l.incrementer = nil
	}
}

// Limiter enforces one Policy over a counter store using one-minute buckets.
//
// A request is judged on the window total recorded before its own increment, and
// the increment happens whether or not the request is denied. The request is denied
// once that total reaches MaxRequests-1: with MaxRequests N the first N-1 requests
// in a window pass and the Nth is the first one denied.
type Limiter struct {
	store       Store
	incrementer Incrementer
	policy      Policy
	keys        *KeyDeriver
	failureMode FailureMode
	now         func() time.Time
}

// NewLimiter validates the policy and creates a limiter.
func NewLimiter(store Store, policy Policy, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		store:       store,
		policy:      policy,
		keys:        NewKeyDeriver(policy),
		failureMode: FailOpen,
		now:         time.Now,
	}

	if inc, ok := store.(Incrementer); ok {
		l.incrementer = inc
	}

	for _, opt := range opts {
		opt(l)
	}

	if _, err := ParseFailureMode(string(l.failureMode)); err != nil {
		return nil, err
	}

	return l, nil
}

// Policy returns the limiter's policy.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Tier reports which increment strategy the limiter uses.
func (l *Limiter) Tier() IncrementTier {
	if l.incrementer != nil {
		return TierAtomic
	}

	return TierReadModifyWrite
}

// Check records the request and decides whether it may proceed.
//
// Requests the policy does not apply to are allowed without touching the store.
// On store failure the returned error wraps ErrStoreUnavailable and the decision
// follows the configured FailureMode.
func (l *Limiter) Check(ctx context.Context, req Request) (Decision, error) {
	decision := Decision{
		Outcome: Allow,
		Policy:  l.policy.Name,
		Limit:   l.policy.MaxRequests,
	}

	if !l.policy.applies(req) {
		return decision, nil
	}

	decision.Applicable = true
	now := l.now()
	decision.Key = l.keys.CurrentBucketKey(req, now)

	total, err := l.sum(ctx, l.keys.WindowBucketKeys(req, now))
	if err != nil {
		return l.fail(decision, err)
	}

	decision.Count = total

	if err := l.increment(ctx, decision.Key); err != nil {
		return l.fail(decision, err)
	}

	if total+1 >= l.policy.MaxRequests {
		decision.Outcome = Deny
	}

	return decision, nil
}

// Usage returns the current window total for the request without recording it.
func (l *Limiter) Usage(ctx context.Context, req Request) (int64, error) {
	total, err := l.sum(ctx, l.keys.WindowBucketKeys(req, l.now()))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return total, nil
}

func (l *Limiter) sum(ctx context.Context, keys []string) (int64, error) {
	counts, err := l.store.GetMany(ctx, keys)
	if err != nil {
		return 0, err
	}

	var total int64

	for _, key := range keys {
		total += counts[key]
	}

	return total, nil
}

func (l *Limiter) increment(ctx context.Context, key string) error {
	expiry := l.policy.Expiry()

	if l.incrementer != nil {
		_, err := l.incrementer.Increment(ctx, key, expiry)

		return err
	}

	counts, err := l.store.GetMany(ctx, []string{key})
	if err != nil {
		return err
	}

	return l.store.Set(ctx, key, counts[key]+1, expiry)
}

func (l *Limiter) fail(decision Decision, err error) (Decision, error) {
	err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	decision.Degraded = true

	if l.failureMode == FailClosed {
		decision.Outcome = Deny
	} else {
		decision.Outcome = Allow
	}

	return decision, err
}
