package payment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/payrelay/event"
	"github.com/xraph/payrelay/observability"
)

// ErrSweepInProgress is returned by RunOnce when another run is active.
var ErrSweepInProgress = errors.New("payment: sweep already in progress")

// SweepConfig holds timeout sweep configuration.
type SweepConfig struct {
	// Interval between runs.
	Interval time.Duration
	// Timeout is how long a payment may stay PENDING after its first event.
	Timeout time.Duration
	// Grace is added to Timeout so a run never races a confirmation that is
	// landing right at the boundary. Zero means the default; a negative
	// value disables it.
	Grace time.Duration
	// Clock overrides time.Now, for tests.
	Clock   func() time.Time
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// DefaultSweepConfig returns the production cadence: every minute, with a
// 15 minute timeout and 20 seconds of grace.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval: time.Minute,
		Timeout:  15 * time.Minute,
		Grace:    20 * time.Second,
	}
}

// Sweeper closes PENDING payments whose first event is older than the
// timeout. It is safe to run on several replicas: the store transition is
// conditional on PENDING, so a payment is closed and announced once.
type Sweeper struct {
	store     SweepStore
	publisher event.Publisher
	config    SweepConfig
	logger    *slog.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSweeper creates a sweeper. Zero config fields take their defaults.
func NewSweeper(store SweepStore, publisher event.Publisher, cfg SweepConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultSweepConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	switch {
	case cfg.Grace == 0:
		cfg.Grace = def.Grace
	case cfg.Grace < 0:
		cfg.Grace = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Sweeper{store: store, publisher: publisher, config: cfg, logger: logger}
}

// Threshold is the creation time before which a payment's first event
// makes it eligible for timeout.
func (s *Sweeper) Threshold() time.Time {
	return s.config.Clock().UTC().Add(-(s.config.Timeout + s.config.Grace))
}

// RunOnce performs one sweep and returns how many payments it closed.
// Overlapping calls on the same Sweeper return ErrSweepInProgress.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, ErrSweepInProgress
	}
	defer s.running.Store(false)

	started := time.Now()
	ctx, span := s.config.Tracer.StartSweepSpan(ctx)

	now := s.config.Clock().UTC()
	closed, err := s.store.TimeoutPending(ctx, s.Threshold(), TimeoutReason, now)
	if err != nil {
		s.config.Tracer.EndSweepSpan(span, 0, err)
		s.logger.ErrorContext(ctx, "payment sweep failed", "error", err)
		return 0, err
	}

	for _, p := range closed {
		if s.publisher == nil {
			break
		}
		if pubErr := s.publisher.Publish(ctx, paymentEvent(event.TypePaymentTimedOut, p, nil)); pubErr != nil {
			s.logger.ErrorContext(ctx, "publish timed out event failed",
				"payment_id", p.ID, "error", pubErr)
		}
	}

	s.config.Metrics.RecordSweep(len(closed), time.Since(started).Seconds())
	s.config.Tracer.EndSweepSpan(span, len(closed), nil)
	if len(closed) > 0 {
		s.logger.InfoContext(ctx, "payments timed out", "count", len(closed))
	}
	return len(closed), nil
}

// Start runs the sweep on the configured interval until Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop cancels the loop and waits for an in-flight run to finish.
func (s *Sweeper) Stop(_ context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Failures are logged by RunOnce; the next tick retries.
			_, _ = s.RunOnce(ctx) //nolint:errcheck // logged
		}
	}
}
