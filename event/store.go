// Package event defines the event record that links payment transitions to
// webhook deliveries.
package event

import (
	"context"

	"github.com/xraph/payrelay/id"
)

// Store defines the persistence contract for events.
type Store interface {
	// CreateEvent persists an event. It must be durable before returning,
	// since dispatch runs right after it.
	CreateEvent(ctx context.Context, evt *Event) error

	// GetEvent returns an event by ID.
	GetEvent(ctx context.Context, evtID id.ID) (*Event, error)

	// ListEvents returns events ordered by creation time.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)
}

// Publisher records an event and hands it to the delivery engine. The
// root Relay implements it; services depend only on this interface.
type Publisher interface {
	Publish(ctx context.Context, evt *Event) error
}
