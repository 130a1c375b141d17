package api

import "time"

// ---------------------------------------------------------------------------
// Endpoint requests
// ---------------------------------------------------------------------------

// CreateEndpointForgeRequest binds path + body for POST /projects/:projectId/endpoints.
type CreateEndpointForgeRequest struct {
	ProjectID   string            `description:"Project identifier"          path:"projectId"`
	URL         string            `description:"Webhook delivery URL"        json:"url"`
	Description string            `description:"Endpoint description"        json:"description,omitempty"`
	EventTypes  []string          `description:"Subscribed event patterns"   json:"event_types,omitempty"`
	Metadata    map[string]string `description:"Arbitrary key-value metadata" json:"metadata,omitempty"`
}

// ListEndpointsForgeRequest binds path + query for GET /projects/:projectId/endpoints.
type ListEndpointsForgeRequest struct {
	ProjectID      string `description:"Project identifier"       path:"projectId"`
	IncludeRevoked string `description:"Include revoked endpoints" query:"include_revoked"`
	Offset         int    `description:"Pagination offset"        query:"offset"`
	Limit          int    `description:"Page size (default 50)"   query:"limit"`
}

// EndpointActionForgeRequest binds the path for single-endpoint routes.
type EndpointActionForgeRequest struct {
	EndpointID string `description:"Endpoint identifier" path:"endpointId"`
}

// TestEndpointForgeRequest binds path + body for POST /endpoints/:endpointId/test.
type TestEndpointForgeRequest struct {
	EndpointID string         `description:"Endpoint identifier"       path:"endpointId"`
	Metadata   map[string]any `description:"Optional test event metadata" json:"metadata,omitempty"`
}

// ---------------------------------------------------------------------------
// Delivery requests
// ---------------------------------------------------------------------------

// ListDeliveriesForgeRequest binds path + query for GET /endpoints/:endpointId/deliveries.
type ListDeliveriesForgeRequest struct {
	EndpointID string `description:"Endpoint identifier"    path:"endpointId"`
	Status     string `description:"Filter by status"       query:"status"`
	Offset     int    `description:"Pagination offset"      query:"offset"`
	Limit      int    `description:"Page size (default 50)" query:"limit"`
}

// EventDeliveriesForgeRequest binds the path for GET /events/:eventId/deliveries.
type EventDeliveriesForgeRequest struct {
	EventID string `description:"Event identifier" path:"eventId"`
}

// ---------------------------------------------------------------------------
// Payment requests
// ---------------------------------------------------------------------------

// ListPaymentsForgeRequest binds path + query for GET /projects/:projectId/payments.
type ListPaymentsForgeRequest struct {
	ProjectID string `description:"Project identifier"     path:"projectId"`
	Status    string `description:"Filter by status"       query:"status"`
	Offset    int    `description:"Pagination offset"      query:"offset"`
	Limit     int    `description:"Page size (default 50)" query:"limit"`
}

// SweepForgeRequest is empty: POST /sweeps has no parameters.
type SweepForgeRequest struct{}

// SweepForgeResponse is the response for POST /sweeps.
type SweepForgeResponse struct {
	TimedOut int `json:"timed_out"`
}

// ---------------------------------------------------------------------------
// Catalog and stats requests
// ---------------------------------------------------------------------------

// ListEventTypesForgeRequest binds query parameters for GET /event-types.
type ListEventTypesForgeRequest struct {
	IncludeDeprecated string `description:"Include deprecated types" query:"include_deprecated"`
}

// StatsForgeRequest is empty: GET /stats has no parameters.
type StatsForgeRequest struct{}

// StatsForgeResponse is the response for GET /stats.
type StatsForgeResponse struct {
	PendingDeliveries int64     `json:"pending_deliveries"`
	SweepThreshold    time.Time `json:"sweep_threshold"`
}
