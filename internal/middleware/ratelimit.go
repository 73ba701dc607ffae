package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/ratelimit-gateway/internal/incident"
	"github.com/serroba/ratelimit-gateway/internal/ratelimit"
	"go.uber.org/zap"
)

// DeniedMessage is the detail of every rate limit rejection.
const DeniedMessage = "Rate limit exceeded"

// DenialReporter is notified of every denied request and returns a reference for it.
type DenialReporter interface {
	Report(ctx context.Context, decision ratelimit.Decision, origin incident.Origin) string
}

// Observer receives decisions and store failures, e.g. for metrics.
type Observer interface {
	ObserveDecision(decision ratelimit.Decision)
	ObserveStoreError(policy string)
}

type options struct {
	trustProxy   bool
	maxBodyBytes int64
	denyStatus   int
	reporter     DenialReporter
	observer     Observer
}

// Option configures the RateLimit middleware.
type Option func(*options)

// WithTrustedProxyHeaders takes the client address from X-Forwarded-For or X-Real-IP.
// Only enable it behind a proxy that overwrites those headers.
func WithTrustedProxyHeaders() Option {
	return func(o *options) {
		o.trustProxy = true
	}
}

// WithMaxBodyBytes bounds how much body is buffered to find the key field.
// Larger bodies are passed through untouched and treated as carrying no field.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) {
		o.maxBodyBytes = n
	}
}

// WithDenyStatus overrides the 403 status used for rejections.
func WithDenyStatus(status int) Option {
	return func(o *options) {
		o.denyStatus = status
	}
}

// WithReporter reports every denial, e.g. as a published incident.
func WithReporter(reporter DenialReporter) Option {
	return func(o *options) {
		o.reporter = reporter
	}
}

// WithObserver records decisions and store failures.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// RateLimit returns middleware that consults checker before every request.
// Allowed requests reach next unchanged; denied ones get a problem+json rejection.
// Store failures are logged and then resolved by the limiters' failure mode.
func RateLimit(checker ratelimit.Checker, logger *zap.Logger, opts ...Option) func(http.Handler) http.Handler {
	cfg := options{
		maxBodyBytes: DefaultMaxBodyBytes,
		denyStatus:   http.StatusForbidden,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := newHTTPRequest(r, cfg.trustProxy, cfg.maxBodyBytes)

			decision, err := checker.Check(r.Context(), req)
			if err != nil {
				logger.Error("rate limit check failed",
					zap.String("policy", decision.Policy),
					zap.String("path", r.URL.Path),
					zap.String("outcome", decision.Outcome.String()),
					zap.Error(err),
				)

				if cfg.observer != nil {
					cfg.observer.ObserveStoreError(decision.Policy)
				}
			}

			if cfg.observer != nil {
				cfg.observer.ObserveDecision(decision)
			}

			if !decision.Applicable {
				logger.Debug("request not subject to rate limiting",
					zap.String("method", r.Method), zap.String("path", r.URL.Path))
			}

			if !decision.Allowed() {
				handleDenied(w, r, req, decision, cfg, logger)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func handleDenied(
	w http.ResponseWriter,
	r *http.Request,
	req *httpRequest,
	decision ratelimit.Decision,
	cfg options,
	logger *zap.Logger,
) {
	clientIP := req.RemoteAddr()

	logger.Warn("rate limit exceeded",
		zap.String("policy", decision.Policy),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int64("count", decision.Count),
		zap.Int64("limit", decision.Limit),
		zap.Bool("degraded", decision.Degraded),
		zap.String("client_ip", clientIP),
	)

	var instance string

	if cfg.reporter != nil {
		ref := cfg.reporter.Report(r.Context(), decision, incident.Origin{
			ClientIP: clientIP,
			Method:   r.Method,
			Path:     r.URL.Path,
		})
		if ref != "" {
			instance = "urn:ratelimit:incident:" + ref
		}
	}

	writeProblem(w, cfg.denyStatus, DeniedMessage, instance)
}

// writeProblem renders an RFC 9457 problem body using huma's error model.
func writeProblem(w http.ResponseWriter, status int, detail, instance string) {
	model := &huma.ErrorModel{
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model)
}
