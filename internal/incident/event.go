package incident

import "time"

// TopicDenied is the topic rate limit denials are published to.
const TopicDenied = "ratelimit.denied"

// DeniedEvent records one request rejected by a rate limit policy.
// BucketKey only ever contains hashed field values, never raw credentials.
type DeniedEvent struct {
	ID         string    `json:"id"`
	Policy     string    `json:"policy"`
	BucketKey  string    `json:"bucketKey"`
	ClientIP   string    `json:"clientIp"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Count      int64     `json:"count"`
	Limit      int64     `json:"limit"`
	Degraded   bool      `json:"degraded"`
	OccurredAt time.Time `json:"occurredAt"`
}
