package ratelimit

import "net/http"

// Request exposes the request attributes the limiter needs.
// Adapters for concrete frameworks live in the middleware package.
type Request interface {
	// Method returns the request method, e.g. "POST".
	Method() string
	// RemoteAddr returns the caller's network address without port, or "".
	RemoteAddr() string
	// FieldValue returns a submitted field value, or "" when absent.
	FieldValue(name string) string
}

// Predicate decides whether a request is subject to a policy.
type Predicate func(req Request) bool

// AllRequests applies a policy to every request.
func AllRequests(_ Request) bool {
	return true
}

// WriteRequests applies a policy to anything that is not a read.
// GET, HEAD and OPTIONS are classified as reads; every other method is a write.
func WriteRequests(req Request) bool {
	return !isRead(req.Method())
}

// MethodIs applies a policy only to the listed methods.
func MethodIs(methods ...string) Predicate {
	allowed := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		allowed[m] = struct{}{}
	}

	return func(req Request) bool {
		_, ok := allowed[req.Method()]

		return ok
	}
}

func isRead(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
