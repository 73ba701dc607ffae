package ratelimit

import (
	"context"
	"errors"
)

// Group checks several limiters in order, e.g. a strict login policy in front of a
// global one.
type Group struct {
	limiters []*Limiter
}

// NewGroup creates a group that consults the limiters in the given order.
func NewGroup(limiters ...*Limiter) *Group {
	return &Group{limiters: limiters}
}

// Limiters returns the limiters in evaluation order.
func (g *Group) Limiters() []*Limiter {
	return g.limiters
}

// Check returns the first denying decision. Limiters after a denial are not consulted
// and so do not record the request. When every limiter allows, the decision of the
// last applicable limiter is returned. Store errors from all consulted limiters are
// joined.
func (g *Group) Check(ctx context.Context, req Request) (Decision, error) {
	result := Decision{Outcome: Allow}

	var errs []error

	for _, limiter := range g.limiters {
		decision, err := limiter.Check(ctx, req)
		if err != nil {
			errs = append(errs, err)
		}

		if !decision.Allowed() {
			return decision, errors.Join(errs...)
		}

		if decision.Applicable {
			result = decision
		}
	}

	return result, errors.Join(errs...)
}
