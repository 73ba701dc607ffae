package handlers

// UsageRequest identifies the client whose rate limit usage is inspected.
type UsageRequest struct {
	Address string `doc:"Client address as seen by the limiter"        example:"203.0.113.7" query:"address"`
	Field   string `doc:"Value of the policy key field, e.g. username" example:"alice"       query:"field"`
}

// PolicyUsage is the state of one policy's window for the requested client.
type PolicyUsage struct {
	Policy        string `doc:"Policy name"                                 json:"policy"`
	Strategy      string `doc:"Key derivation strategy"                     json:"strategy"`
	WindowMinutes int    `doc:"Window length in minutes"                    json:"windowMinutes"`
	Count         int64  `doc:"Requests recorded in the current window"     json:"count"`
	Limit         int64  `doc:"The request reaching this count is denied"   json:"limit"`
	Remaining     int64  `doc:"Requests that would still be allowed now"    json:"remaining"`
}

// UsageResponse is the response for the usage endpoint.
type UsageResponse struct {
	Body struct {
		Policies []PolicyUsage `json:"policies"`
	}
}
