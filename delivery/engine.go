package delivery

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/event"
	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/internal/entity"
	"github.com/xraph/payrelay/observability"
)

// revokedReason is the error message of a row closed by a revoke.
const revokedReason = "endpoint revoked"

// EngineStore is what the engine needs from persistence.
type EngineStore interface {
	Enqueue(ctx context.Context, d *Delivery) error
	EnqueueBatch(ctx context.Context, ds []*Delivery) ([]*Delivery, error)
	Dequeue(ctx context.Context, limit int, lease time.Duration) ([]*Delivery, error)
	UpdateDelivery(ctx context.Context, d *Delivery) error
	GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error)
	Resolve(ctx context.Context, projectID, eventType string) ([]*endpoint.Endpoint, error)
	TouchEndpoint(ctx context.Context, epID id.ID, at time.Time) error
	GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error)
}

// EngineConfig holds engine configuration. Zero values take defaults.
type EngineConfig struct {
	Concurrency    int
	PollInterval   time.Duration
	BatchSize      int
	RequestTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	// ClaimLease is how long a claimed row may stay unfinished before
	// another worker picks it up again.
	ClaimLease time.Duration
	HTTPClient *http.Client
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = 2 * time.Minute
	}
	return c
}

// Engine fans events out to endpoints and runs every delivery campaign.
// Attempt 1 runs right after Dispatch; retries are picked up by the poll
// loop once due.
type Engine struct {
	store   EngineStore
	sender  *Sender
	retrier *Retrier
	config  EngineConfig
	logger  *slog.Logger

	sem chan struct{}

	mu       sync.Mutex
	stopping bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewEngine creates a delivery engine.
func NewEngine(store EngineStore, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		store:   store,
		sender:  NewSender(cfg.HTTPClient, cfg.RequestTimeout),
		retrier: NewRetrier(cfg.BackoffBase, cfg.BackoffCap),
		config:  cfg,
		logger:  logger,
		sem:     make(chan struct{}, cfg.Concurrency),
	}
}

// Retrier returns the engine's backoff policy.
func (e *Engine) Retrier() *Retrier { return e.retrier }

// Start begins the poll loop.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight attempts, or for ctx
// to end. Rows still claimed when ctx ends are recovered after the lease.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopping = true
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch creates attempt 1 for every active endpoint of the event's
// project subscribed to its type, and starts the attempts in the
// background. It returns once the rows are stored.
func (e *Engine) Dispatch(ctx context.Context, evt *event.Event) ([]*Delivery, error) {
	endpoints, err := e.store.Resolve(ctx, evt.ProjectID, evt.Type)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	rows := make([]*Delivery, 0, len(endpoints))
	for _, ep := range endpoints {
		claimed := now
		rows = append(rows, &Delivery{
			Entity:        entity.At(now),
			ID:            id.NewDeliveryID(),
			EventID:       evt.ID,
			EndpointID:    ep.ID,
			AttemptNumber: 1,
			MaxAttempts:   e.config.MaxAttempts,
			Status:        StatusPending,
			NextAttemptAt: now,
			ClaimedAt:     &claimed,
		})
	}
	stored, err := e.store.EnqueueBatch(ctx, rows)
	if err != nil {
		return nil, err
	}
	if skipped := len(rows) - len(stored); skipped > 0 {
		e.logger.InfoContext(ctx, "endpoints revoked during dispatch",
			"event_id", evt.ID, "skipped", skipped)
	}
	rows = stored
	if len(rows) == 0 {
		return nil, nil
	}
	e.config.Metrics.PendingDelta(float64(len(rows)))

	// The attempts outlive the request that published the event.
	bg := context.WithoutCancel(ctx)
	for _, d := range rows {
		del := *d
		if !e.spawn(func() {
			e.sem <- struct{}{}
			defer func() { <-e.sem }()
			e.process(bg, &del)
		}) {
			e.logger.WarnContext(ctx, "engine stopping, delivery left for lease recovery",
				"delivery_id", d.ID)
		}
	}

	e.logger.DebugContext(ctx, "event dispatched",
		"event_id", evt.ID, "type", evt.Type, "endpoints", len(rows))
	return rows, nil
}

func (e *Engine) spawn(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopping {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}

// pollLoop periodically claims due rows and dispatches them to workers.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := e.store.Dequeue(ctx, e.config.BatchSize, e.config.ClaimLease)
			if err != nil {
				e.logger.ErrorContext(ctx, "dequeue failed", "error", err)
				continue
			}

			for _, d := range batch {
				select {
				case <-ctx.Done():
					return
				case e.sem <- struct{}{}:
				}

				e.wg.Add(1)
				go func(del *Delivery) {
					defer e.wg.Done()
					defer func() { <-e.sem }()
					e.process(context.WithoutCancel(ctx), del)
				}(d)
			}
		}
	}
}

// process makes one attempt and records its outcome. On a retry the
// successor row is stored only after this row is marked RETRYING, so at
// most one attempt of a campaign is ever pending.
func (e *Engine) process(ctx context.Context, d *Delivery) {
	ctx, span := e.config.Tracer.StartDeliverySpan(ctx, d.ID.String(), d.EventID.String(), d.EndpointID.String(), d.AttemptNumber)

	ep, err := e.store.GetEndpoint(ctx, d.EndpointID)
	if err != nil {
		e.logger.ErrorContext(ctx, "get endpoint failed",
			"delivery_id", d.ID, "endpoint_id", d.EndpointID, "error", err)
		e.config.Tracer.EndDeliverySpan(span, 0, 0, err.Error())
		return
	}

	if !ep.Active() {
		e.finish(ctx, d, StatusFailed, revokedReason)
		e.config.Metrics.RecordDelivery("failed", 0)
		e.config.Tracer.EndDeliverySpan(span, 0, 0, d.ErrorMessage)
		e.logger.InfoContext(ctx, "delivery skipped, endpoint revoked",
			"delivery_id", d.ID, "endpoint_id", ep.ID)
		return
	}

	evt, err := e.store.GetEvent(ctx, d.EventID)
	if err != nil {
		e.logger.ErrorContext(ctx, "get event failed",
			"delivery_id", d.ID, "event_id", d.EventID, "error", err)
		e.config.Tracer.EndDeliverySpan(span, 0, 0, err.Error())
		return
	}

	res := e.sender.Send(ctx, ep, evt, d.ID.String(), d.AttemptNumber)
	if res.StatusCode != 0 {
		code := res.StatusCode
		d.HTTPStatusCode = &code
	}
	d.ErrorMessage = res.Error
	d.ResponseBody = res.Response
	d.LatencyMs = res.LatencyMs
	latencySeconds := float64(res.LatencyMs) / 1000.0

	active := true
	if !res.Success() && d.AttemptNumber < d.MaxAttempts {
		// A revoke that landed during the call ends the campaign here.
		if cur, getErr := e.store.GetEndpoint(ctx, ep.ID); getErr == nil {
			active = cur.Active()
		}
	}

	switch e.retrier.Decide(res, d, active) {
	case Delivered:
		now := time.Now().UTC()
		d.DeliveredAt = &now
		e.finish(ctx, d, StatusDelivered, "")
		if touchErr := e.store.TouchEndpoint(ctx, ep.ID, now); touchErr != nil {
			e.logger.ErrorContext(ctx, "touch endpoint failed",
				"endpoint_id", ep.ID, "error", touchErr)
		}
		e.config.Metrics.RecordDelivery("delivered", latencySeconds)
		e.logger.DebugContext(ctx, "delivered",
			"delivery_id", d.ID, "attempt", d.AttemptNumber, "status", res.StatusCode, "latency_ms", res.LatencyMs)

	case Retry:
		if !e.finish(ctx, d, StatusRetrying, d.ErrorMessage) {
			break
		}
		next := e.successor(d)
		enqErr := e.store.Enqueue(ctx, next)
		switch {
		case errors.Is(enqErr, endpoint.ErrRevoked):
			// Revoked after the check above: close the campaign on this row.
			e.closeRevoked(ctx, d)
			e.config.Metrics.RecordDelivery("failed", latencySeconds)
		case enqErr != nil:
			e.logger.ErrorContext(ctx, "enqueue retry failed",
				"delivery_id", d.ID, "attempt", next.AttemptNumber, "error", enqErr)
			e.config.Metrics.RecordDelivery("retrying", latencySeconds)
		default:
			e.config.Metrics.PendingDelta(1)
			e.config.Metrics.RecordDelivery("retrying", latencySeconds)
			e.logger.DebugContext(ctx, "retry scheduled",
				"delivery_id", d.ID, "attempt", d.AttemptNumber, "next_at", next.NextAttemptAt)
		}

	case Fail:
		reason := d.ErrorMessage
		if !active {
			reason = revokedReason
		}
		e.finish(ctx, d, StatusFailed, reason)
		e.config.Metrics.RecordDelivery("failed", latencySeconds)
		e.logger.WarnContext(ctx, "delivery failed permanently",
			"delivery_id", d.ID, "attempt", d.AttemptNumber, "status", res.StatusCode, "error", reason)
	}

	e.config.Tracer.EndDeliverySpan(span, res.StatusCode, res.LatencyMs, res.Error)
}

func (e *Engine) finish(ctx context.Context, d *Delivery, status Status, errMsg string) bool {
	d.Status = status
	d.ErrorMessage = errMsg
	d.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateDelivery(ctx, d); err != nil {
		e.logger.ErrorContext(ctx, "update delivery failed",
			"delivery_id", d.ID, "status", status, "error", err)
		return false
	}
	e.config.Metrics.PendingDelta(-1)
	return true
}

// closeRevoked turns a RETRYING row into the campaign's terminal FAILED
// row. It has already left the pending count.
func (e *Engine) closeRevoked(ctx context.Context, d *Delivery) {
	d.Status = StatusFailed
	d.ErrorMessage = revokedReason
	d.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateDelivery(ctx, d); err != nil {
		e.logger.ErrorContext(ctx, "close revoked delivery failed",
			"delivery_id", d.ID, "error", err)
		return
	}
	e.logger.InfoContext(ctx, "retry dropped, endpoint revoked",
		"delivery_id", d.ID, "endpoint_id", d.EndpointID)
}

func (e *Engine) successor(d *Delivery) *Delivery {
	now := time.Now().UTC()
	return &Delivery{
		Entity:        entity.At(now),
		ID:            id.NewDeliveryID(),
		EventID:       d.EventID,
		EndpointID:    d.EndpointID,
		AttemptNumber: d.AttemptNumber + 1,
		MaxAttempts:   d.MaxAttempts,
		Status:        StatusPending,
		NextAttemptAt: e.retrier.NextAttemptAt(now, d.AttemptNumber),
	}
}

// TestResult is the outcome of a synchronous test delivery.
type TestResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
	Response   string `json:"response,omitempty"`
	LatencyMs  int    `json:"latency_ms"`
}

// SendTest posts a signed webhook.test event to an endpoint and waits for
// the response. Nothing is persisted.
func (e *Engine) SendTest(ctx context.Context, epID id.ID, metadata map[string]any) (*TestResult, error) {
	ep, err := e.store.GetEndpoint(ctx, epID)
	if err != nil {
		return nil, err
	}
	if !ep.Active() {
		return nil, endpoint.ErrRevoked
	}

	if metadata == nil {
		metadata = map[string]any{"message": "This is a test webhook from payrelay"}
	}
	evt := &event.Event{
		Entity:    entity.New(),
		ID:        id.NewEventID(),
		ProjectID: ep.ProjectID,
		Type:      event.TypeWebhookTest,
		Metadata:  metadata,
	}

	res := e.sender.Send(ctx, ep, evt, "", 1)
	e.logger.InfoContext(ctx, "test delivery sent",
		"endpoint_id", ep.ID, "status", res.StatusCode, "latency_ms", res.LatencyMs)
	return &TestResult{
		Success:    res.Success(),
		StatusCode: res.StatusCode,
		Error:      res.Error,
		Response:   res.Response,
		LatencyMs:  res.LatencyMs,
	}, nil
}
