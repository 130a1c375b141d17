package delivery

import (
	"context"
	"time"

	"github.com/xraph/payrelay/id"
)

// Store defines the persistence contract for delivery attempts.
type Store interface {
	// Enqueue creates a delivery row if its endpoint is still ACTIVE, and
	// returns endpoint.ErrRevoked otherwise. The check and the insert are
	// one step, so no row is written after the endpoint's RevokedAt.
	Enqueue(ctx context.Context, d *Delivery) error

	// EnqueueBatch creates the fan-out rows whose endpoints are still
	// ACTIVE and returns the rows it stored.
	EnqueueBatch(ctx context.Context, ds []*Delivery) ([]*Delivery, error)

	// Dequeue claims up to limit PENDING rows that are due and either
	// unclaimed or claimed longer ago than lease. Concurrent callers never
	// receive the same row.
	Dequeue(ctx context.Context, limit int, lease time.Duration) ([]*Delivery, error)

	// UpdateDelivery writes the outcome of an attempt.
	UpdateDelivery(ctx context.Context, d *Delivery) error

	GetDelivery(ctx context.Context, delID id.ID) (*Delivery, error)

	// ListByEndpoint returns attempt history for an endpoint, newest first.
	ListByEndpoint(ctx context.Context, epID id.ID, opts ListOpts) ([]*Delivery, error)

	// ListByEvent returns every attempt for an event ordered by endpoint
	// then attempt number.
	ListByEvent(ctx context.Context, evtID id.ID) ([]*Delivery, error)

	// CountPending returns the number of rows awaiting an attempt.
	CountPending(ctx context.Context) (int64, error)
}
