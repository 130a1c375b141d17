package payrelay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/payrelay/catalog"
	"github.com/xraph/payrelay/delivery"
	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/event"
	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/internal/entity"
	"github.com/xraph/payrelay/payment"
	"github.com/xraph/payrelay/ratelimit"
	"github.com/xraph/payrelay/store"
	"github.com/xraph/payrelay/walletlink"
)

// Relay is the event.Publisher handed to the payment and wallet services.
var _ event.Publisher = (*Relay)(nil)

// wireServices initializes the internal services after options have been applied.
func (r *Relay) wireServices() {
	r.catalog = catalog.New(r.logger)

	r.endpointSvc = endpoint.NewService(r.store, r.logger)

	r.engine = delivery.NewEngine(r.store, delivery.EngineConfig{
		Concurrency:    r.config.Concurrency,
		PollInterval:   r.config.PollInterval,
		BatchSize:      r.config.BatchSize,
		RequestTimeout: r.config.RequestTimeout,
		MaxAttempts:    r.config.MaxAttempts,
		BackoffBase:    r.config.BackoffBase,
		BackoffCap:     r.config.BackoffCap,
		ClaimLease:     r.config.ClaimLease,
		HTTPClient:     r.httpClient,
		Metrics:        r.metrics,
		Tracer:         r.tracer,
	}, r.logger)

	r.paymentSvc = payment.NewService(r.store, r, r.logger, payment.WithEventCheck(r.checkEvent))

	r.sweeper = payment.NewSweeper(r.store, r, payment.SweepConfig{
		Interval: r.config.SweepInterval,
		Timeout:  r.config.PaymentTimeout,
		Grace:    r.config.SweepGrace,
		Clock:    r.clock,
		Metrics:  r.metrics,
		Tracer:   r.tracer,
	}, r.logger)

	protocol := walletlink.NewProtocol(
		walletlink.WithWindow(r.config.ChallengeWindow),
		walletlink.WithSkew(r.config.ChallengeSkew),
		walletlink.WithClock(r.clock),
	)
	r.walletSvc = walletlink.NewService(protocol, r.store, r, r.logger)

	r.admission = ratelimit.NewController(r.rateStore,
		ratelimit.WithTiers(r.config.Tiers),
		ratelimit.WithLogger(r.logger),
		ratelimit.WithMetrics(r.metrics),
		ratelimit.WithClock(r.clock),
	)
}

// Start begins the delivery engine and the payment timeout sweep.
func (r *Relay) Start(ctx context.Context) {
	r.engine.Start(ctx)
	r.sweeper.Start(ctx)
}

// Stop halts the sweep, then waits up to ShutdownTimeout for in-flight
// delivery attempts. Attempts cut short are recovered after their claim
// lease by the next engine to start.
func (r *Relay) Stop(ctx context.Context) error {
	r.sweeper.Stop(ctx)

	timeout := r.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.engine.Stop(stopCtx); err != nil {
		return fmt.Errorf("payrelay: stop delivery engine: %w", err)
	}
	return nil
}

// checkEvent matches evt against the catalog.
func (r *Relay) checkEvent(evt *event.Event) error {
	err := r.catalog.Check(evt.Type, evt.Metadata)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, catalog.ErrUnknownType):
		return fmt.Errorf("%w: %s", ErrEventTypeNotFound, evt.Type)
	case errors.Is(err, catalog.ErrDeprecatedType):
		return fmt.Errorf("%w: %s", ErrEventTypeDeprecated, evt.Type)
	default:
		return fmt.Errorf("%w: %s", ErrPayloadValidationFailed, err.Error())
	}
}

// Publish validates and persists an event, then starts a delivery campaign
// for every subscribed endpoint of its project.
//
// The event type must be registered and not deprecated, and the metadata
// must match the type's schema. Once the event is stored Publish succeeds:
// a failed fan-out is logged, not returned, so callers never retry a
// transition that already happened.
func (r *Relay) Publish(ctx context.Context, evt *event.Event) error {
	if err := r.checkEvent(evt); err != nil {
		return err
	}

	if evt.ID.IsNil() {
		evt.ID = id.NewEventID()
	}
	if evt.CreatedAt.IsZero() {
		evt.Entity = entity.New()
	}

	if err := r.store.CreateEvent(ctx, evt); err != nil {
		return fmt.Errorf("payrelay: persist event: %w", err)
	}
	r.metrics.RecordPublish()

	deliveries, err := r.engine.Dispatch(ctx, evt)
	if err != nil {
		r.logger.ErrorContext(ctx, "event stored but fan-out failed",
			"event_id", evt.ID,
			"type", evt.Type,
			"error", err,
		)
		return nil
	}

	r.logger.DebugContext(ctx, "event published",
		"event_id", evt.ID,
		"type", evt.Type,
		"project_id", evt.ProjectID,
		"deliveries", len(deliveries),
	)
	return nil
}

// Sweep runs one payment timeout sweep now and returns how many payments
// were closed.
func (r *Relay) Sweep(ctx context.Context) (int, error) {
	return r.sweeper.RunOnce(ctx)
}

// Payments returns the payment lifecycle service.
func (r *Relay) Payments() *payment.Service {
	return r.paymentSvc
}

// Wallets returns the wallet linking service.
func (r *Relay) Wallets() *walletlink.Service {
	return r.walletSvc
}

// Endpoints returns the endpoint management service.
func (r *Relay) Endpoints() *endpoint.Service {
	return r.endpointSvc
}

// Engine returns the webhook delivery engine.
func (r *Relay) Engine() *delivery.Engine {
	return r.engine
}

// Sweeper returns the payment timeout sweeper.
func (r *Relay) Sweeper() *payment.Sweeper {
	return r.sweeper
}

// Admission returns the rate limit controller.
func (r *Relay) Admission() *ratelimit.Controller {
	return r.admission
}

// Catalog returns the event type catalog.
func (r *Relay) Catalog() *catalog.Catalog {
	return r.catalog
}

// Store returns the underlying store.
func (r *Relay) Store() store.Store {
	return r.store
}

// Config returns the effective configuration.
func (r *Relay) Config() Config {
	return r.config
}
