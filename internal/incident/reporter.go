package incident

import (
	"context"
	"time"

	"github.com/serroba/ratelimit-gateway/internal/messaging"
	"github.com/serroba/ratelimit-gateway/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// IDGenerator generates incident reference IDs.
type IDGenerator func() string

// Origin describes the rejected request.
type Origin struct {
	ClientIP string
	Method   string
	Path     string
}

// Reporter publishes denial incidents. A flood of denials from one client would
// otherwise become a flood of messages, so publishing is capped by a token bucket;
// incidents over the cap still get a reference ID but are only logged.
type Reporter struct {
	publish messaging.Publish[DeniedEvent]
	newID   IDGenerator
	sampler *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

// NewReporter creates a reporter publishing at most perSecond incidents with the
// given burst. A non-positive perSecond disables the cap.
func NewReporter(
	publish messaging.Publish[DeniedEvent],
	newID IDGenerator,
	perSecond float64,
	burst int,
	logger *zap.Logger,
) *Reporter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}

	return &Reporter{
		publish: publish,
		newID:   newID,
		sampler: rate.NewLimiter(limit, burst),
		logger:  logger,
		now:     time.Now,
	}
}

// Report publishes the denial and returns its reference ID.
// Publish failures are logged, never returned: the request is already rejected.
func (r *Reporter) Report(ctx context.Context, decision ratelimit.Decision, origin Origin) string {
	event := &DeniedEvent{
		ID:         r.newID(),
		Policy:     decision.Policy,
		BucketKey:  decision.Key,
		ClientIP:   origin.ClientIP,
		Method:     origin.Method,
		Path:       origin.Path,
		Count:      decision.Count,
		Limit:      decision.Limit,
		Degraded:   decision.Degraded,
		OccurredAt: r.now(),
	}

	if !r.sampler.Allow() {
		r.logger.Debug("incident not published, sampling cap reached",
			zap.String("incident", event.ID),
			zap.String("policy", event.Policy),
		)

		return event.ID
	}

	if err := r.publish(ctx, event); err != nil {
		r.logger.Error("failed to publish incident",
			zap.String("incident", event.ID),
			zap.String("policy", event.Policy),
			zap.Error(err),
		)
	}

	return event.ID
}
