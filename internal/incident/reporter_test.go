package incident_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/serroba/ratelimit-gateway/internal/incident"
	"github.com/serroba/ratelimit-gateway/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingPublish struct {
	events []*incident.DeniedEvent
	err    error
}

func (r *recordingPublish) publish(_ context.Context, event *incident.DeniedEvent) error {
	if r.err != nil {
		return r.err
	}

	r.events = append(r.events, event)

	return nil
}

func sequentialIDs() incident.IDGenerator {
	var n int

	return func() string {
		n++

		return fmt.Sprintf("inc-%d", n)
	}
}

func deniedDecision() ratelimit.Decision {
	return ratelimit.Decision{
		Outcome:    ratelimit.Deny,
		Policy:     "login",
		Key:        "ratelimit-login-10.0.0.1-202610161200",
		Count:      4,
		Limit:      5,
		Applicable: true,
	}
}

var origin = incident.Origin{ClientIP: "10.0.0.1", Method: "POST", Path: "/login"}

func TestReporter_Report(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes the incident and returns its id", func(t *testing.T) {
		rec := &recordingPublish{}
		reporter := incident.NewReporter(rec.publish, sequentialIDs(), 0, 1, zap.NewNop())

		id := reporter.Report(ctx, deniedDecision(), origin)

		assert.Equal(t, "inc-1", id)
		require.Len(t, rec.events, 1)

		event := rec.events[0]
		assert.Equal(t, "inc-1", event.ID)
		assert.Equal(t, "login", event.Policy)
		assert.Equal(t, "ratelimit-login-10.0.0.1-202610161200", event.BucketKey)
		assert.Equal(t, "10.0.0.1", event.ClientIP)
		assert.Equal(t, "POST", event.Method)
		assert.Equal(t, "/login", event.Path)
		assert.Equal(t, int64(4), event.Count)
		assert.Equal(t, int64(5), event.Limit)
		assert.False(t, event.Degraded)
		assert.False(t, event.OccurredAt.IsZero())
	})

	t.Run("no cap when rate is not positive", func(t *testing.T) {
		rec := &recordingPublish{}
		reporter := incident.NewReporter(rec.publish, sequentialIDs(), 0, 1, zap.NewNop())

		for i := 0; i < 100; i++ {
			reporter.Report(ctx, deniedDecision(), origin)
		}

		assert.Len(t, rec.events, 100)
	})

	t.Run("caps publishing but still returns ids", func(t *testing.T) {
		rec := &recordingPublish{}
		core, logs := observer.New(zapcore.DebugLevel)
		reporter := incident.NewReporter(rec.publish, sequentialIDs(), 0.001, 2, zap.New(core))

		ids := make([]string, 0, 3)
		for i := 0; i < 3; i++ {
			ids = append(ids, reporter.Report(ctx, deniedDecision(), origin))
		}

		assert.Equal(t, []string{"inc-1", "inc-2", "inc-3"}, ids)
		assert.Len(t, rec.events, 2)
		assert.Equal(t, 1, logs.FilterMessageSnippet("sampling cap").Len())
	})

	t.Run("logs publish failures", func(t *testing.T) {
		rec := &recordingPublish{err: errors.New("stream unavailable")}
		core, logs := observer.New(zapcore.ErrorLevel)
		reporter := incident.NewReporter(rec.publish, sequentialIDs(), 0, 1, zap.New(core))

		id := reporter.Report(ctx, deniedDecision(), origin)

		assert.Equal(t, "inc-1", id)
		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "inc-1", logs.All()[0].ContextMap()["incident"])
	})

	t.Run("carries the degraded flag", func(t *testing.T) {
		rec := &recordingPublish{}
		reporter := incident.NewReporter(rec.publish, sequentialIDs(), 0, 1, zap.NewNop())
		decision := deniedDecision()
		decision.Degraded = true

		reporter.Report(ctx, decision, origin)

		require.Len(t, rec.events, 1)
		assert.True(t, rec.events[0].Degraded)
	})
}
