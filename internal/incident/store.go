package incident

import (
	"context"

	"github.com/serroba/ratelimit-gateway/internal/messaging"
)

// Store defines the interface for persisting denial incidents.
type Store interface {
	SaveDenied(ctx context.Context, event *DeniedEvent) error
}

// Persist returns a consumer handler that writes every received incident to store.
func Persist(store Store) messaging.Handler[DeniedEvent] {
	return func(ctx context.Context, event *DeniedEvent) error {
		return store.SaveDenied(ctx, event)
	}
}
