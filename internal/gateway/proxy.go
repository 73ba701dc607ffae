package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"
)

// ErrInvalidUpstream is returned when the upstream URL has no scheme or host.
var ErrInvalidUpstream = errors.New("gateway: upstream must be an absolute http(s) URL")

// NewReverseProxy forwards every request to upstream.
// Upstream failures are logged and answered with a 502 problem body.
func NewReverseProxy(upstream string, logger *zap.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream %q: %w", upstream, err)
	}

	if target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUpstream, upstream)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error",
			zap.String("upstream", target.Host),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)

		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(&huma.ErrorModel{
			Title:  http.StatusText(http.StatusBadGateway),
			Status: http.StatusBadGateway,
			Detail: "upstream unavailable",
		})
	}

	return proxy, nil
}
