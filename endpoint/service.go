// Package endpoint manages the webhook endpoints merchants register per project.
package endpoint

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/internal/entity"
	"github.com/xraph/payrelay/internal/validation"
	"github.com/xraph/payrelay/signature"
)

// Service provides endpoint management operations.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates an endpoint service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Register creates an ACTIVE endpoint with a fresh signing secret. The
// returned Registration is the only place the secret is ever exposed.
func (svc *Service) Register(ctx context.Context, in Input) (*Registration, error) {
	if err := validation.Validator().Struct(in); err != nil {
		return nil, newValidationError(err)
	}

	types := in.EventTypes
	if len(types) == 0 {
		types = []string{"*"}
	}

	ep := &Endpoint{
		Entity:      entity.New(),
		ID:          id.NewEndpointID(),
		ProjectID:   in.ProjectID,
		URL:         in.URL,
		Description: in.Description,
		Secret:      signature.GenerateSecret(),
		EventTypes:  types,
		Status:      StatusActive,
		Metadata:    in.Metadata,
	}
	if err := svc.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "endpoint registered",
		"endpoint_id", ep.ID, "project_id", ep.ProjectID, "event_types", types)
	return &Registration{Endpoint: ep, Secret: ep.Secret}, nil
}

// Get returns an endpoint by ID, revoked or not.
func (svc *Service) Get(ctx context.Context, epID id.ID) (*Endpoint, error) {
	return svc.store.GetEndpoint(ctx, epID)
}

// Update changes the description or subscriptions of an endpoint.
func (svc *Service) Update(ctx context.Context, epID id.ID, in UpdateInput) (*Endpoint, error) {
	if err := validation.Validator().Struct(in); err != nil {
		return nil, newValidationError(err)
	}
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return nil, err
	}
	if in.Description != nil {
		ep.Description = *in.Description
	}
	if len(in.EventTypes) > 0 {
		ep.EventTypes = in.EventTypes
	}
	ep.UpdatedAt = time.Now().UTC()
	if err := svc.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// List returns the endpoint set of a project. Revoked endpoints are pruned
// unless opts.IncludeRevoked is set.
func (svc *Service) List(ctx context.Context, projectID string, opts ListOpts) ([]*Endpoint, error) {
	return svc.store.ListEndpoints(ctx, projectID, opts)
}

// Revoke stops all future deliveries to an endpoint. Delivery rows already
// recorded stay untouched.
func (svc *Service) Revoke(ctx context.Context, epID id.ID) (*Endpoint, error) {
	ep, err := svc.store.RevokeEndpoint(ctx, epID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	svc.logger.InfoContext(ctx, "endpoint revoked", "endpoint_id", ep.ID, "project_id", ep.ProjectID)
	return ep, nil
}

// RotateSecret replaces the signing secret of an active endpoint. The new
// secret is returned once.
func (svc *Service) RotateSecret(ctx context.Context, epID id.ID) (*Registration, error) {
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return nil, err
	}
	if !ep.Active() {
		return nil, ErrRevoked
	}
	ep.Secret = signature.GenerateSecret()
	ep.UpdatedAt = time.Now().UTC()
	if err := svc.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	svc.logger.InfoContext(ctx, "endpoint secret rotated", "endpoint_id", ep.ID)
	return &Registration{Endpoint: ep, Secret: ep.Secret}, nil
}

// Resolve returns the active endpoints of projectID subscribed to eventType.
func (svc *Service) Resolve(ctx context.Context, projectID, eventType string) ([]*Endpoint, error) {
	return svc.store.Resolve(ctx, projectID, eventType)
}

// Touch records a successful delivery.
func (svc *Service) Touch(ctx context.Context, epID id.ID, at time.Time) error {
	return svc.store.TouchEndpoint(ctx, epID, at)
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "endpoint validation: " + e.Field + ": " + e.Message
}

func newValidationError(err error) error {
	field, msg, ok := validation.Describe(err)
	if !ok {
		return err
	}
	return &ValidationError{Field: field, Message: msg}
}
