package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// DefaultKeyPrefix namespaces every bucket key written by a limiter.
const DefaultKeyPrefix = "ratelimit-"

var (
	// ErrPolicyMisconfigured is wrapped by every policy validation error.
	ErrPolicyMisconfigured = errors.New("ratelimit: policy misconfigured")
	// ErrInvalidWindow is returned when WindowMinutes is below one.
	ErrInvalidWindow = fmt.Errorf("%w: window must be at least one minute", ErrPolicyMisconfigured)
	// ErrInvalidMaxRequests is returned when MaxRequests is below one.
	ErrInvalidMaxRequests = fmt.Errorf("%w: max requests must be at least one", ErrPolicyMisconfigured)
	// ErrEmptyPrefix is returned when KeyPrefix is empty.
	ErrEmptyPrefix = fmt.Errorf("%w: key prefix must not be empty", ErrPolicyMisconfigured)
)

// KeyStrategy tags how a policy derives the identity part of a bucket key.
type KeyStrategy string

const (
	// StrategyAnonymous shares one bucket between every request.
	StrategyAnonymous KeyStrategy = "anonymous"
	// StrategyAddressOnly keys on the caller's network address.
	StrategyAddressOnly KeyStrategy = "address"
	// StrategyAddressPlusField keys on the address and a hashed request field.
	StrategyAddressPlusField KeyStrategy = "address+field"
	// StrategyFieldOnly keys on a hashed request field alone.
	StrategyFieldOnly KeyStrategy = "field"
)

// Policy configures one mounted limiter. It is immutable once handed to NewLimiter.
type Policy struct {
	// Name labels the policy in logs, metrics and incidents.
	Name string

	// WindowMinutes is the number of one-minute buckets summed for a decision.
	WindowMinutes int

	// MaxRequests is the threshold: the request that brings the window total to
	// MaxRequests is the first one denied, so MaxRequests-1 requests pass per window.
	MaxRequests int64

	// KeyPrefix namespaces all generated store keys.
	KeyPrefix string

	// KeyField names a submitted field whose hashed value is folded into the key.
	KeyField string

	// IncludeRemoteAddr makes the caller's address part of the key.
	IncludeRemoteAddr bool

	// Applies decides whether a request is subject to the policy at all.
	// A nil predicate applies to every request.
	Applies Predicate
}

// DefaultPolicy denies an address its 20th request within a trailing two minutes.
func DefaultPolicy() Policy {
	return Policy{
		Name:              "default",
		WindowMinutes:     2,
		MaxRequests:       20,
		KeyPrefix:         DefaultKeyPrefix,
		IncludeRemoteAddr: true,
		Applies:           AllRequests,
	}
}

// SubmitPolicy limits write requests per address and hashed field value.
// It suits login forms where both the client and the targeted account matter.
func SubmitPolicy(field string) Policy {
	p := DefaultPolicy()
	p.Name = "submit"
	p.KeyField = field
	p.Applies = WriteRequests

	return p
}

// CredentialPolicy limits write requests per hashed field value regardless of address.
func CredentialPolicy(field string) Policy {
	p := SubmitPolicy(field)
	p.Name = "credential"
	p.IncludeRemoteAddr = false

	return p
}

// Validate reports the first configuration problem, if any.
func (p Policy) Validate() error {
	if p.WindowMinutes < 1 {
		return ErrInvalidWindow
	}

	if p.MaxRequests < 1 {
		return ErrInvalidMaxRequests
	}

	if p.KeyPrefix == "" {
		return ErrEmptyPrefix
	}

	return nil
}

// Expiry is how long the store keeps a bucket: the window plus one minute of slack.
func (p Policy) Expiry() time.Duration {
	return time.Duration(p.WindowMinutes+1) * time.Minute
}

// Strategy returns the key derivation variant selected by the policy fields.
func (p Policy) Strategy() KeyStrategy {
	switch {
	case p.IncludeRemoteAddr && p.KeyField != "":
		return StrategyAddressPlusField
	case p.IncludeRemoteAddr:
		return StrategyAddressOnly
	case p.KeyField != "":
		return StrategyFieldOnly
	default:
		return StrategyAnonymous
	}
}

func (p Policy) applies(req Request) bool {
	if p.Applies == nil {
		return true
	}

	return p.Applies(req)
}
