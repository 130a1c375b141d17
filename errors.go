package payrelay

import (
	"errors"

	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/payment"
)

// Sentinel errors returned by payrelay operations and stores.
var (
	// ErrNoStore is returned when a Relay is created without a store.
	ErrNoStore = errors.New("payrelay: store is required")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("payrelay: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("payrelay: migration failed")

	// ErrPaymentNotFound is returned when a payment cannot be found.
	ErrPaymentNotFound = errors.New("payrelay: payment not found")

	// ErrPaymentNotPending is returned when a transition targets a payment
	// that already reached a terminal state.
	ErrPaymentNotPending = errors.New("payrelay: payment is not pending")

	// ErrEndpointNotFound is returned when an endpoint cannot be found.
	ErrEndpointNotFound = errors.New("payrelay: endpoint not found")

	// ErrEndpointRevoked is returned when an operation needs an active endpoint.
	ErrEndpointRevoked = endpoint.ErrRevoked

	// ErrEventNotFound is returned when an event cannot be found.
	ErrEventNotFound = errors.New("payrelay: event not found")

	// ErrDeliveryNotFound is returned when a delivery cannot be found.
	ErrDeliveryNotFound = errors.New("payrelay: delivery not found")

	// ErrEventTypeNotFound is returned when an event type is not registered in the catalog.
	ErrEventTypeNotFound = errors.New("payrelay: event type not found")

	// ErrEventTypeDeprecated is returned when publishing a deprecated event type.
	ErrEventTypeDeprecated = errors.New("payrelay: event type is deprecated")

	// ErrPayloadValidationFailed is returned when event metadata fails its JSON Schema.
	ErrPayloadValidationFailed = errors.New("payrelay: payload validation failed")

	// ErrBindingNotFound is returned when a wallet has no binding.
	ErrBindingNotFound = errors.New("payrelay: wallet binding not found")

	// ErrNonceReplayed is returned when a wallet proof reuses a timestamp
	// at or below the one already bound.
	ErrNonceReplayed = errors.New("payrelay: wallet challenge already used")

	// ErrSweepInProgress is returned when a sweep run overlaps another.
	ErrSweepInProgress = payment.ErrSweepInProgress
)
