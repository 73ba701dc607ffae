package health

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

// Checker defines the interface for checking a dependency's health.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// Ping calls f.
func (f CheckerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// AlwaysHealthy is used for in-process backends that cannot become unreachable.
var AlwaysHealthy = CheckerFunc(func(context.Context) error { return nil })

// Handler handles health check operations.
type Handler struct {
	backend string
	store   Checker
}

// NewHandler creates a health handler for the named counter store backend.
func NewHandler(backend string, store Checker) *Handler {
	return &Handler{backend: backend, store: store}
}

// Response is the response for health check endpoint.
type Response struct {
	Body struct {
		Status      string `doc:"ok or degraded"        json:"status"`
		Store       string `doc:"Counter store backend" json:"store"`
		StoreStatus string `doc:"healthy or unhealthy"  json:"storeStatus"`
	}
}

// Check performs a health check of the gateway and its counter store.
// A failing store degrades the status but never fails the request.
func (h *Handler) Check(ctx context.Context, _ *struct{}) (*Response, error) {
	resp := &Response{}
	resp.Body.Status = "ok"
	resp.Body.Store = h.backend

	if err := h.store.Ping(ctx); err != nil {
		resp.Body.StoreStatus = "unhealthy"
		resp.Body.Status = "degraded"
	} else {
		resp.Body.StoreStatus = "healthy"
	}

	return resp, nil
}

// RegisterRoutes registers health check routes.
func RegisterRoutes(api huma.API, h *Handler) {
	huma.Get(api, "/health", h.Check)
}
