// Package store defines the composite Store interface for all payrelay
// persistence.
//
// Each subsystem defines its own store interface, and the aggregate Store
// composes them all so one backend serves the whole Relay.
package store

import (
	"context"

	"github.com/xraph/payrelay/delivery"
	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/event"
	"github.com/xraph/payrelay/payment"
	"github.com/xraph/payrelay/walletlink"
)

// Store is the aggregate persistence interface.
type Store interface {
	payment.Store
	event.Store
	endpoint.Store
	delivery.Store
	walletlink.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
