package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/serroba/ratelimit-gateway/internal/incident"
	"github.com/serroba/ratelimit-gateway/internal/incident/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewNoop(t *testing.T) {
	logger := zap.NewNop()
	noop := store.NewNoop(logger)

	assert.NotNil(t, noop)
}

func TestNoop_SaveDenied(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	noop := store.NewNoop(zap.New(core))

	event := &incident.DeniedEvent{
		ID:         "inc-1",
		Policy:     "global",
		ClientIP:   "127.0.0.1",
		Method:     "GET",
		Path:       "/",
		Count:      19,
		Limit:      20,
		OccurredAt: time.Now(),
	}

	err := noop.SaveDenied(context.Background(), event)

	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "inc-1", logs.All()[0].ContextMap()["id"])
	assert.Equal(t, "global", logs.All()[0].ContextMap()["policy"])
}
