package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/serroba/ratelimit-gateway/internal/ratelimit"
)

// Recorder counts rate limit decisions and store failures.
type Recorder struct {
	registry    *prometheus.Registry
	decisions   *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
}

// NewRecorder creates a recorder registered on its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_decisions_total",
				Help: "Rate limit decisions by policy and outcome.",
			},
			[]string{"policy", "outcome"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_store_errors_total",
				Help: "Counter store failures by policy.",
			},
			[]string{"policy"},
		),
	}

	r.registry.MustRegister(r.decisions, r.storeErrors)

	return r
}

// ObserveDecision counts an applicable decision. Non-applicable decisions are ignored.
func (r *Recorder) ObserveDecision(d ratelimit.Decision) {
	if !d.Applicable {
		return
	}

	r.decisions.WithLabelValues(d.Policy, d.Outcome.String()).Inc()
}

// ObserveStoreError counts a store failure for a policy.
func (r *Recorder) ObserveStoreError(policy string) {
	r.storeErrors.WithLabelValues(policy).Inc()
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
