package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/ratelimit-gateway/internal/ratelimit"
	"go.uber.org/zap"
)

// UsageHandler reports window usage without recording a request.
type UsageHandler struct {
	limiters []*ratelimit.Limiter
	logger   *zap.Logger
}

// NewUsageHandler creates a usage handler over the given limiters.
func NewUsageHandler(logger *zap.Logger, limiters ...*ratelimit.Limiter) *UsageHandler {
	return &UsageHandler{
		limiters: limiters,
		logger:   logger,
	}
}

func (h *UsageHandler) GetUsage(ctx context.Context, req *UsageRequest) (*UsageResponse, error) {
	probe := usageProbe{address: req.Address, field: req.Field}

	resp := &UsageResponse{}
	resp.Body.Policies = make([]PolicyUsage, 0, len(h.limiters))

	for _, limiter := range h.limiters {
		policy := limiter.Policy()

		count, err := limiter.Usage(ctx, probe)
		if err != nil {
			h.logger.Error("failed to read usage",
				zap.String("policy", policy.Name),
				zap.Error(err),
			)

			return nil, huma.Error503ServiceUnavailable("counter store unavailable")
		}

		resp.Body.Policies = append(resp.Body.Policies, PolicyUsage{
			Policy:        policy.Name,
			Strategy:      string(policy.Strategy()),
			WindowMinutes: policy.WindowMinutes,
			Count:         count,
			Limit:         policy.MaxRequests,
			Remaining:     max(0, policy.MaxRequests-1-count),
		})
	}

	return resp, nil
}

// usageProbe stands in for a request from the inspected client.
// Every policy's key field resolves to the same queried value.
type usageProbe struct {
	address string
	field   string
}

func (p usageProbe) Method() string {
	return ""
}

func (p usageProbe) RemoteAddr() string {
	return p.address
}

func (p usageProbe) FieldValue(_ string) string {
	return p.field
}
