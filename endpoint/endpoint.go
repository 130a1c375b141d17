package endpoint

import (
	"errors"
	"time"

	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/internal/entity"
)

// ErrRevoked is returned when an operation needs an active endpoint.
var ErrRevoked = errors.New("endpoint: revoked")

// Status is the lifecycle state of an endpoint.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusRevoked Status = "REVOKED"
)

// Endpoint is a merchant-registered webhook target.
type Endpoint struct {
	entity.Entity

	ID        id.ID  `json:"id"`
	ProjectID string `json:"project_id"`
	URL       string `json:"url"`

	Description string `json:"description,omitempty"`

	// Secret signs outbound payloads. It is never serialized; callers see it
	// once, in the Registration returned by Register or RotateSecret.
	Secret string `json:"-"`

	// EventTypes are subscription patterns (see catalog.Match).
	EventTypes []string `json:"event_types"`

	Status Status `json:"status"`

	// LastTimeHit is stamped on every successful delivery.
	LastTimeHit *time.Time `json:"last_time_hit,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Active reports whether the endpoint may receive deliveries.
func (e *Endpoint) Active() bool { return e.Status == StatusActive }

// Registration is returned exactly once per secret.
type Registration struct {
	Endpoint *Endpoint `json:"endpoint"`
	Secret   string    `json:"secret"`
}

// Input is the registration payload.
type Input struct {
	ProjectID   string            `json:"project_id"            validate:"required,max=128"`
	URL         string            `json:"url"                   validate:"required,url,startswith=http"`
	Description string            `json:"description,omitempty" validate:"max=512"`
	EventTypes  []string          `json:"event_types,omitempty" validate:"dive,required"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// UpdateInput changes mutable fields. Nil fields are left untouched.
type UpdateInput struct {
	Description *string  `json:"description,omitempty"`
	EventTypes  []string `json:"event_types,omitempty" validate:"omitempty,dive,required"`
}

// ListOpts filters endpoint listings.
type ListOpts struct {
	Offset int
	Limit  int

	// IncludeRevoked surfaces revoked endpoints. Project listings hide them
	// by default.
	IncludeRevoked bool
}
