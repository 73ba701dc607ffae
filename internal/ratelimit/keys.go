package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// MinuteLayout formats bucket labels as zero-padded YYYYMMDDHHMM.
const MinuteLayout = "200601021504"

// KeyDeriver turns a request into the bucket keys of a policy.
// All methods are pure and safe for concurrent use.
type KeyDeriver struct {
	policy Policy
}

// NewKeyDeriver creates a key deriver for the given policy.
func NewKeyDeriver(policy Policy) *KeyDeriver {
	return &KeyDeriver{policy: policy}
}

// KeyExtra returns the identity part of a bucket key.
//
// The caller's address is used verbatim when the policy includes it. A configured
// field contributes "-" followed by the hex SHA-256 of its value, so submitted
// credentials never appear in a key. Missing values contribute nothing, which
// degrades to a shared bucket instead of failing the request.
func (d *KeyDeriver) KeyExtra(req Request) string {
	var extra string

	if d.policy.IncludeRemoteAddr {
		extra = req.RemoteAddr()
	}

	if d.policy.KeyField != "" {
		if value := req.FieldValue(d.policy.KeyField); value != "" {
			extra += "-" + hashValue(value)
		}
	}

	return extra
}

// CurrentBucketKey returns the key of the bucket the request increments.
func (d *KeyDeriver) CurrentBucketKey(req Request, now time.Time) string {
	return d.bucketKey(d.KeyExtra(req), now)
}

// WindowBucketKeys returns one key per minute of the trailing window, newest first.
func (d *KeyDeriver) WindowBucketKeys(req Request, now time.Time) []string {
	extra := d.KeyExtra(req)
	keys := make([]string, d.policy.WindowMinutes)

	for offset := 0; offset < d.policy.WindowMinutes; offset++ {
		keys[offset] = d.bucketKey(extra, now.Add(-time.Duration(offset)*time.Minute))
	}

	return keys
}

func (d *KeyDeriver) bucketKey(extra string, at time.Time) string {
	return d.policy.KeyPrefix + extra + "-" + FormatMinute(at)
}

// FormatMinute labels the minute containing t, in UTC.
func FormatMinute(t time.Time) string {
	return t.UTC().Format(MinuteLayout)
}

// ParseMinute parses a label produced by FormatMinute back into a UTC time.
func ParseMinute(label string) (time.Time, error) {
	return time.ParseInLocation(MinuteLayout, label, time.UTC)
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))

	return hex.EncodeToString(sum[:])
}
