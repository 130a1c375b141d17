package payrelay

import (
	"log/slog"
	"net/http"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/payrelay/catalog"
	"github.com/xraph/payrelay/delivery"
	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/observability"
	"github.com/xraph/payrelay/payment"
	"github.com/xraph/payrelay/ratelimit"
	"github.com/xraph/payrelay/store"
	"github.com/xraph/payrelay/walletlink"
)

// Relay is the root of a payrelay deployment. It owns the services, the
// delivery engine, the timeout sweeper and the admission controller.
type Relay struct {
	config Config
	store  store.Store
	logger *slog.Logger

	rateStore  ratelimit.Store
	httpClient *http.Client
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	clock      func() time.Time

	catalog     *catalog.Catalog
	endpointSvc *endpoint.Service
	paymentSvc  *payment.Service
	walletSvc   *walletlink.Service
	engine      *delivery.Engine
	sweeper     *payment.Sweeper
	admission   *ratelimit.Controller
}

// Option configures a Relay instance.
type Option func(*Relay) error

// New creates a Relay with the given options. A store is required.
func New(opts ...Option) (*Relay, error) {
	r := &Relay{
		config: DefaultConfig(),
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.store == nil {
		return nil, ErrNoStore
	}
	r.wireServices()
	return r, nil
}

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(r *Relay) error {
		r.store = s
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) error {
		if logger != nil {
			r.logger = logger
		}
		return nil
	}
}

// WithConfig replaces the whole configuration. Zero fields fall back to
// the component defaults.
func WithConfig(cfg Config) Option {
	return func(r *Relay) error {
		r.config = cfg
		return nil
	}
}

// WithConcurrency sets the maximum number of delivery attempts in flight.
func WithConcurrency(n int) Option {
	return func(r *Relay) error {
		r.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the engine looks for due retries.
func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of rows claimed per poll.
func WithBatchSize(n int) Option {
	return func(r *Relay) error {
		r.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.RequestTimeout = d
		return nil
	}
}

// WithMaxAttempts sets the attempts per delivery campaign.
func WithMaxAttempts(n int) Option {
	return func(r *Relay) error {
		r.config.MaxAttempts = n
		return nil
	}
}

// WithBackoff sets the retry delay base and ceiling.
func WithBackoff(base, ceiling time.Duration) Option {
	return func(r *Relay) error {
		r.config.BackoffBase = base
		r.config.BackoffCap = ceiling
		return nil
	}
}

// WithClaimLease sets how long a claimed delivery may stay unfinished.
func WithClaimLease(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.ClaimLease = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time Stop waits for in-flight attempts.
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.ShutdownTimeout = d
		return nil
	}
}

// WithSweep sets the sweep cadence, the payment timeout and the grace
// added to it. Zero values keep the defaults; a negative grace disables it.
func WithSweep(interval, timeout, grace time.Duration) Option {
	return func(r *Relay) error {
		r.config.SweepInterval = interval
		r.config.PaymentTimeout = timeout
		r.config.SweepGrace = grace
		return nil
	}
}

// WithChallengeWindow sets how long a signed wallet challenge stays valid.
func WithChallengeWindow(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.ChallengeWindow = d
		return nil
	}
}

// WithTiers sets the admission budgets.
func WithTiers(t ratelimit.Tiers) Option {
	return func(r *Relay) error {
		r.config.Tiers = t
		return nil
	}
}

// WithRateLimitStore sets the sliding-window store used for admission.
// Without it each process counts on its own (ratelimit.MemoryStore).
func WithRateLimitStore(s ratelimit.Store) Option {
	return func(r *Relay) error {
		r.rateStore = s
		return nil
	}
}

// WithHTTPClient sets the client used for outbound webhooks.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Relay) error {
		r.httpClient = c
		return nil
	}
}

// WithMetrics records payrelay metrics through factory.
func WithMetrics(factory gu.MetricFactory) Option {
	return func(r *Relay) error {
		if factory != nil {
			r.metrics = observability.NewMetrics(factory)
		}
		return nil
	}
}

// WithTracing enables OpenTelemetry spans for deliveries and sweeps, using
// the global tracer provider.
func WithTracing() Option {
	return func(r *Relay) error {
		r.tracer = observability.NewTracer()
		return nil
	}
}

// WithClock overrides time.Now for the sweeper, the wallet protocol and
// the admission controller.
func WithClock(clock func() time.Time) Option {
	return func(r *Relay) error {
		if clock != nil {
			r.clock = clock
		}
		return nil
	}
}
