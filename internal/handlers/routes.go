package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// RegisterRoutes registers the rate limit inspection routes.
func RegisterRoutes(api huma.API, usageHandler *UsageHandler) {
	// GET /ratelimit/usage - Peek at a client's window
	// Reading usage never counts as a request
	huma.Register(api, huma.Operation{
		Method:      http.MethodGet,
		Path:        "/ratelimit/usage",
		Summary:     "Get rate limit usage",
		Description: "Returns the current window count and limit of every policy for a client address and field value.",
		Tags:        []string{"Rate limits"},
	}, usageHandler.GetUsage)
}
