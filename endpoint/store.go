package endpoint

import (
	"context"
	"time"

	"github.com/xraph/payrelay/id"
)

// Store defines the persistence contract for webhook endpoints.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error

	GetEndpoint(ctx context.Context, epID id.ID) (*Endpoint, error)

	// UpdateEndpoint overwrites description, event types, secret and metadata.
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error

	ListEndpoints(ctx context.Context, projectID string, opts ListOpts) ([]*Endpoint, error)

	// Resolve returns the ACTIVE endpoints of a project subscribed to
	// eventType. Called on every dispatch.
	Resolve(ctx context.Context, projectID, eventType string) ([]*Endpoint, error)

	// RevokeEndpoint sets status REVOKED and stamps RevokedAt. Revoking an
	// already revoked endpoint keeps the original timestamp.
	RevokeEndpoint(ctx context.Context, epID id.ID, at time.Time) (*Endpoint, error)

	// TouchEndpoint records a successful delivery time.
	TouchEndpoint(ctx context.Context, epID id.ID, at time.Time) error
}
