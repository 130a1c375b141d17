package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/payrelay/observability"
)

// KeyPrefix namespaces window keys in shared stores.
const KeyPrefix = "payrelay:rl:"

// Controller admits or rejects requests per tier and identifier.
type Controller struct {
	store   Store
	tiers   Tiers
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   func() time.Time
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithTiers overrides the default budgets. Zero fields keep their defaults.
func WithTiers(t Tiers) ControllerOption {
	return func(c *Controller) { c.tiers = t.withDefaults() }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records rejections.
func WithMetrics(m *observability.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) ControllerOption {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewController creates a controller. A nil store uses a MemoryStore.
func NewController(store Store, opts ...ControllerOption) *Controller {
	if store == nil {
		store = NewMemoryStore()
	}
	c := &Controller{
		store:  store,
		tiers:  DefaultTiers(),
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tiers returns the enforced budgets.
func (c *Controller) Tiers() Tiers { return c.tiers }

// Key returns the store key for a tier and identifier.
func Key(tier, identifier string) string {
	return KeyPrefix + tier + ":" + identifier
}

// Admit counts one request. When the store is unavailable the request is
// admitted and the failure logged.
func (c *Controller) Admit(ctx context.Context, tier Tier, identifier string) Decision {
	now := c.clock()
	d, err := c.store.Take(ctx, Key(tier.Name, identifier), tier.Limit, tier.Window, now)
	if err != nil {
		c.logger.WarnContext(ctx, "rate limit store unavailable, admitting request",
			"tier", tier.Name, "identifier", identifier, "error", err)
		return Decision{Allowed: true, Limit: tier.Limit, Remaining: tier.Limit, Reset: now.Add(tier.Window), At: now}
	}
	d.At = now
	if !d.Allowed {
		c.metrics.RecordRejection(tier.Name)
		c.logger.DebugContext(ctx, "request rejected by rate limit",
			"tier", tier.Name, "identifier", identifier, "reset", d.Reset)
	}
	return d
}

// RetryAfter returns whole seconds until reset, never negative.
func RetryAfter(reset, now time.Time) int {
	ms := reset.Sub(now).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}
