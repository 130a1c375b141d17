package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Rejection is the 429 response body.
type Rejection struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Reset     string `json:"reset"`
}

// NewRejection builds the body for a rejected decision.
func NewRejection(d Decision, now time.Time) Rejection {
	return Rejection{
		Error:     "Rate limit exceeded",
		Message:   "Too many requests. Try again in " + strconv.Itoa(RetryAfter(d.Reset, now)) + " seconds.",
		Limit:     d.Limit,
		Remaining: d.Remaining,
		Reset:     d.Reset.UTC().Format(time.RFC3339),
	}
}

// Headers returns the rate limit headers for d. Retry-After is included
// only for rejections.
func Headers(d Decision, now time.Time) map[string]string {
	h := map[string]string{
		HeaderLimit:     strconv.Itoa(d.Limit),
		HeaderRemaining: strconv.Itoa(d.Remaining),
		HeaderReset:     strconv.FormatInt(d.Reset.Unix(), 10),
	}
	if !d.Allowed {
		h[HeaderRetryAfter] = strconv.Itoa(RetryAfter(d.Reset, now))
	}
	return h
}

// MiddlewareOption configures Middleware and the fiber adapter.
type MiddlewareOption func(*MiddlewareConfig)

// MiddlewareConfig is the resolved middleware configuration. Adapters for
// other routers read it through ResolveOptions.
type MiddlewareConfig struct {
	Suspicious func(*http.Request) bool
	Identify   func(*http.Request) string
}

// WithSuspicion sends requests matching pred to the suspicious tier instead.
func WithSuspicion(pred func(*http.Request) bool) MiddlewareOption {
	return func(c *MiddlewareConfig) { c.Suspicious = pred }
}

// WithIdentifier replaces Identify.
func WithIdentifier(fn func(*http.Request) string) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		if fn != nil {
			c.Identify = fn
		}
	}
}

// ResolveOptions applies opts over the defaults.
func ResolveOptions(opts ...MiddlewareOption) MiddlewareConfig {
	cfg := MiddlewareConfig{Identify: Identify}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Middleware gates next behind tier.
func Middleware(c *Controller, tier Tier, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := ResolveOptions(opts...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t := tier
			if cfg.Suspicious != nil && cfg.Suspicious(r) {
				t = c.Tiers().Suspicious
			}

			d := c.Admit(r.Context(), t, cfg.Identify(r))
			for k, v := range Headers(d, d.At) {
				w.Header().Set(k, v)
			}
			if !d.Allowed {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(NewRejection(d, d.At)) //nolint:errcheck // best-effort response
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
