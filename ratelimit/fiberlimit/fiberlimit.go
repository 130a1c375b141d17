// Package fiberlimit adapts the admission controller to fiber v2 apps.
package fiberlimit

import (
	"github.com/gofiber/fiber/v2"

	"github.com/xraph/payrelay/ratelimit"
)

// Option configures the fiber middleware.
type Option func(*config)

type config struct {
	suspicious func(*fiber.Ctx) bool
	identify   func(*fiber.Ctx) string
}

// WithSuspicion sends requests matching pred to the suspicious tier.
func WithSuspicion(pred func(*fiber.Ctx) bool) Option {
	return func(c *config) { c.suspicious = pred }
}

// WithIdentifier replaces Identify.
func WithIdentifier(fn func(*fiber.Ctx) string) Option {
	return func(c *config) {
		if fn != nil {
			c.identify = fn
		}
	}
}

// Identify derives the admission identifier from a fiber request, with
// the same precedence as ratelimit.Identify.
func Identify(c *fiber.Ctx) string {
	if key := ratelimit.APIKey(c.Get("X-API-Key"), c.Get(fiber.HeaderAuthorization)); key != "" {
		return "api_key:" + key
	}
	return "ip:" + ratelimit.ClientIP(c.Get(fiber.HeaderXForwardedFor), c.Get("X-Real-IP"), c.Context().RemoteAddr().String())
}

// New returns a fiber handler that gates the rest of the chain behind tier.
func New(ctrl *ratelimit.Controller, tier ratelimit.Tier, opts ...Option) fiber.Handler {
	cfg := config{identify: Identify}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(c *fiber.Ctx) error {
		t := tier
		if cfg.suspicious != nil && cfg.suspicious(c) {
			t = ctrl.Tiers().Suspicious
		}

		d := ctrl.Admit(c.UserContext(), t, cfg.identify(c))
		for k, v := range ratelimit.Headers(d, d.At) {
			c.Set(k, v)
		}
		if !d.Allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(ratelimit.NewRejection(d, d.At))
		}
		return c.Next()
	}
}
