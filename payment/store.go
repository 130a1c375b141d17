package payment

import (
	"context"
	"time"

	"github.com/xraph/payrelay/id"
)

// Store defines the persistence contract for payments.
type Store interface {
	CreatePayment(ctx context.Context, p *Payment) error

	GetPayment(ctx context.Context, payID id.ID) (*Payment, error)

	ListPayments(ctx context.Context, projectID string, opts ListOpts) ([]*Payment, error)

	// TransitionPayment applies t only if the payment is still PENDING and
	// returns the updated record. A terminal payment yields
	// ErrPaymentNotPending and is left unchanged.
	TransitionPayment(ctx context.Context, payID id.ID, t Transition, at time.Time) (*Payment, error)

	SweepStore
}

// SweepStore is the part of the store the timeout sweep needs.
type SweepStore interface {
	// TimeoutPending atomically moves every PENDING payment that has at
	// least one event created before threshold to TIMED_OUT with the given
	// reason, and returns the payments it changed. Payments that are
	// already terminal never match, so repeated runs are harmless.
	TimeoutPending(ctx context.Context, threshold time.Time, reason string, at time.Time) ([]*Payment, error)
}
