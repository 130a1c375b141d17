package event

import (
	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/internal/entity"
)

// Well-known event types emitted by payrelay itself.
const (
	TypePaymentCreated   = "payment.created"
	TypePaymentConfirmed = "payment.confirmed"
	TypePaymentFailed    = "payment.failed"
	TypePaymentTimedOut  = "payment.timed_out"
	TypeWalletLinked     = "wallet.linked"
	TypeWebhookTest      = "webhook.test"
)

// Event is an immutable record of something that happened in a project.
// Events are what the delivery engine fans out to webhook endpoints, and the
// oldest event of a payment anchors its timeout.
type Event struct {
	entity.Entity

	ID id.ID `json:"id"`

	// ProjectID owns the event; its endpoints receive the deliveries.
	ProjectID string `json:"project_id"`

	// PaymentID links the event to a payment. Nil for events that are not
	// about a payment (wallet.linked).
	PaymentID id.ID `json:"payment_id,omitempty"`

	SessionID string `json:"session_id,omitempty"`

	// Type is the dot-separated event name (e.g. "payment.confirmed").
	Type string `json:"type"`

	// Metadata is an open map of JSON values. No fixed schema is assumed
	// unless the catalog registers one for Type.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ListOpts filters event listings.
type ListOpts struct {
	ProjectID string
	PaymentID id.ID
	Type      string
	Offset    int
	Limit     int
}
