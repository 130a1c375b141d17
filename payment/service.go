// Package payment implements the payment lifecycle: PENDING until an
// external confirmation moves it to CONFIRMED or FAILED, or until the
// timeout sweep moves it to TIMED_OUT.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/payrelay/event"
	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/internal/entity"
	"github.com/xraph/payrelay/internal/validation"
)

// UnrecordedReason is the failure reason of a payment whose
// payment.created event could not be stored.
const UnrecordedReason = "payment.created event could not be recorded"

// Service drives payment transitions and emits their events.
type Service struct {
	store     Store
	publisher event.Publisher
	logger    *slog.Logger
	check     func(*event.Event) error
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEventCheck sets a check run against the payment.created event before
// the payment is stored. A rejected event means no payment row is written.
func WithEventCheck(fn func(*event.Event) error) ServiceOption {
	return func(svc *Service) { svc.check = fn }
}

// NewService creates a payment service.
func NewService(store Store, publisher event.Publisher, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{store: store, publisher: publisher, logger: logger}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create persists a PENDING payment and publishes payment.created, which
// becomes the payment's first associated event and anchors its timeout.
// If that event cannot be stored the payment is closed as FAILED, so it
// never sits PENDING without an event for the sweep to find.
func (svc *Service) Create(ctx context.Context, in CreateInput) (*Payment, error) {
	if err := validation.Validator().Struct(in); err != nil {
		return nil, newValidationError(err)
	}

	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	p := &Payment{
		Entity:    entity.New(),
		ID:        id.NewPaymentID(),
		ProjectID: in.ProjectID,
		SessionID: sessionID,
		Status:    StatusPending,
		Currency:  in.Currency,
		Amount:    in.Amount,
	}
	created := paymentEvent(event.TypePaymentCreated, p, in.Metadata)
	if svc.check != nil {
		if err := svc.check(created); err != nil {
			return nil, err
		}
	}

	if err := svc.store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	if svc.publisher != nil {
		if err := svc.publisher.Publish(ctx, created); err != nil {
			svc.abandon(ctx, p)
			return nil, fmt.Errorf("payment: publish created: %w", err)
		}
	}

	svc.logger.InfoContext(ctx, "payment created",
		"payment_id", p.ID, "project_id", p.ProjectID, "amount", p.Amount, "currency", p.Currency)
	return p, nil
}

// Get returns a payment by ID.
func (svc *Service) Get(ctx context.Context, payID id.ID) (*Payment, error) {
	return svc.store.GetPayment(ctx, payID)
}

// List returns the payments of a project, newest first.
func (svc *Service) List(ctx context.Context, projectID string, opts ListOpts) ([]*Payment, error) {
	return svc.store.ListPayments(ctx, projectID, opts)
}

// Confirm records the on-chain confirmation of a PENDING payment.
func (svc *Service) Confirm(ctx context.Context, payID id.ID, txSignature string) (*Payment, error) {
	return svc.transition(ctx, payID, Transition{To: StatusConfirmed, TxSignature: txSignature}, event.TypePaymentConfirmed)
}

// Fail records a failed PENDING payment.
func (svc *Service) Fail(ctx context.Context, payID id.ID, reason string) (*Payment, error) {
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "required"}
	}
	return svc.transition(ctx, payID, Transition{To: StatusFailed, FailureReason: reason}, event.TypePaymentFailed)
}

// abandon closes a payment whose first event was lost. Nothing was
// announced for it, so nothing is announced for its failure either.
func (svc *Service) abandon(ctx context.Context, p *Payment) {
	t := Transition{To: StatusFailed, FailureReason: UnrecordedReason}
	if _, err := svc.store.TransitionPayment(ctx, p.ID, t, time.Now().UTC()); err != nil {
		svc.logger.ErrorContext(ctx, "close unrecorded payment failed",
			"payment_id", p.ID, "error", err)
		return
	}
	svc.logger.WarnContext(ctx, "payment closed without created event", "payment_id", p.ID)
}

func (svc *Service) transition(ctx context.Context, payID id.ID, t Transition, evtType string) (*Payment, error) {
	p, err := svc.store.TransitionPayment(ctx, payID, t, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	// The transition is committed; a lost event only costs a webhook.
	if err := svc.publish(ctx, evtType, p, nil); err != nil {
		svc.logger.ErrorContext(ctx, "publish payment event failed",
			"payment_id", p.ID, "type", evtType, "error", err)
	}

	svc.logger.InfoContext(ctx, "payment transitioned", "payment_id", p.ID, "status", p.Status)
	return p, nil
}

func (svc *Service) publish(ctx context.Context, evtType string, p *Payment, extra map[string]any) error {
	if svc.publisher == nil {
		return nil
	}
	return svc.publisher.Publish(ctx, paymentEvent(evtType, p, extra))
}

// paymentEvent builds the event for p. Caller metadata is kept, but the
// payment fields always win.
func paymentEvent(evtType string, p *Payment, extra map[string]any) *event.Event {
	md := make(map[string]any, len(extra)+4)
	for k, v := range extra {
		md[k] = v
	}
	md["amount"] = p.Amount
	md["currency"] = string(p.Currency)
	md["status"] = string(p.Status)
	if p.FailureReason != "" {
		md["failure_reason"] = p.FailureReason
	}
	if p.TxSignature != "" {
		md["tx_signature"] = p.TxSignature
	}
	return &event.Event{
		ProjectID: p.ProjectID,
		PaymentID: p.ID,
		SessionID: p.SessionID,
		Type:      evtType,
		Metadata:  md,
	}
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "payment validation: " + e.Field + ": " + e.Message
}

func newValidationError(err error) error {
	field, msg, ok := validation.Describe(err)
	if !ok {
		return err
	}
	return &ValidationError{Field: field, Message: msg}
}
