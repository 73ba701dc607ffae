package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/serroba/ratelimit-gateway/internal/ratelimit"
)

// DefaultMaxBodyBytes bounds how much of a body is buffered to find the key field.
const DefaultMaxBodyBytes int64 = 1 << 20

// httpRequest adapts *http.Request to ratelimit.Request.
// The body is only read the first time a field is requested.
type httpRequest struct {
	r            *http.Request
	trustProxy   bool
	maxBodyBytes int64
	fields       map[string]string
	parsed       bool
}

func newHTTPRequest(r *http.Request, trustProxy bool, maxBodyBytes int64) *httpRequest {
	return &httpRequest{
		r:            r,
		trustProxy:   trustProxy,
		maxBodyBytes: maxBodyBytes,
	}
}

func (h *httpRequest) Method() string {
	return h.r.Method
}

func (h *httpRequest) RemoteAddr() string {
	return ClientIP(h.r, h.trustProxy)
}

func (h *httpRequest) FieldValue(name string) string {
	if !h.parsed {
		h.fields = h.readFields()
		h.parsed = true
	}

	return h.fields[name]
}

// readFields buffers the body, restores it for the next handler and decodes
// form-urlencoded or JSON bodies into their top-level string fields.
func (h *httpRequest) readFields() map[string]string {
	if h.r.Body == nil || h.r.Body == http.NoBody {
		return nil
	}

	buf, err := io.ReadAll(io.LimitReader(h.r.Body, h.maxBodyBytes+1))
	h.r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(buf), h.r.Body), Closer: h.r.Body}

	if err != nil || int64(len(buf)) > h.maxBodyBytes {
		return nil
	}

	mediaType, _, _ := mime.ParseMediaType(h.r.Header.Get("Content-Type"))

	switch {
	case mediaType == "application/x-www-form-urlencoded":
		return formFields(buf)
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return jsonFields(buf)
	default:
		return nil
	}
}

type replayBody struct {
	io.Reader
	io.Closer
}

func formFields(body []byte) map[string]string {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil
	}

	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}

	return fields
}

func jsonFields(body []byte) map[string]string {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil
	}

	fields := make(map[string]string, len(raw))

	for k, v := range raw {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}

	return fields
}

// ClientIP returns the caller's address without port.
// Proxy headers are only honoured when trustProxy is set, since clients can forge them.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// X-Forwarded-For may contain multiple IPs; the first is the original client
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}

var _ ratelimit.Request = (*httpRequest)(nil)
