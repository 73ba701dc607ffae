package store

import (
	"context"

	"github.com/serroba/ratelimit-gateway/internal/incident"
	"go.uber.org/zap"
)

// Noop is an implementation of incident.Store that only logs incidents.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates a new logging-only incident store.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger}
}

func (n *Noop) SaveDenied(_ context.Context, event *incident.DeniedEvent) error {
	n.logger.Info("rate limit incident received",
		zap.String("id", event.ID),
		zap.String("policy", event.Policy),
		zap.String("clientIp", event.ClientIP),
		zap.String("method", event.Method),
		zap.String("path", event.Path),
		zap.Int64("count", event.Count),
		zap.Int64("limit", event.Limit),
		zap.Time("occurredAt", event.OccurredAt),
	)

	return nil
}

var _ incident.Store = (*Noop)(nil)
