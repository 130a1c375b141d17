package delivery

import (
	"time"

	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/internal/entity"
)

// Status is the state of one delivery attempt.
type Status string

const (
	// StatusPending is an attempt waiting to be made.
	StatusPending Status = "PENDING"

	// StatusDelivered is a 2xx response. At most one per (event, endpoint).
	StatusDelivered Status = "DELIVERED"

	// StatusFailed ends the campaign: attempts exhausted or endpoint revoked.
	StatusFailed Status = "FAILED"

	// StatusRetrying is a failed attempt that has a successor row.
	StatusRetrying Status = "RETRYING"
)

// Terminal reports whether the attempt will not change again.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusRetrying
}

// Delivery is one attempt to deliver an event to an endpoint. A retry is a
// new row with AttemptNumber+1, so the rows of an (event, endpoint) pair
// ordered by AttemptNumber form the campaign history.
type Delivery struct {
	entity.Entity

	ID         id.ID `json:"id"`
	EventID    id.ID `json:"event_id"`
	EndpointID id.ID `json:"endpoint_id"`

	// AttemptNumber starts at 1.
	AttemptNumber int `json:"attempt_number"`
	MaxAttempts   int `json:"max_attempts"`

	Status Status `json:"status"`

	// HTTPStatusCode is nil when no response was received.
	HTTPStatusCode *int   `json:"http_status_code,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`

	// ResponseBody is capped at 1KB.
	ResponseBody string `json:"response_body,omitempty"`
	LatencyMs    int    `json:"latency_ms,omitempty"`

	// NextAttemptAt is when a PENDING row becomes due.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// ClaimedAt is set while a worker owns the row. A claim older than the
	// lease is considered abandoned and the row is picked up again.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status Status
}
