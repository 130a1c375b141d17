package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/payrelay"
	"github.com/xraph/payrelay/catalog"
	"github.com/xraph/payrelay/delivery"
	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/payment"
)

// ForgeAPI wires the admin routes into a Forge router.
type ForgeAPI struct {
	relay *payrelay.Relay
	log   forge.Logger
}

// NewForgeAPI creates a ForgeAPI for r.
func NewForgeAPI(r *payrelay.Relay, log forge.Logger) *ForgeAPI {
	return &ForgeAPI{relay: r, log: log}
}

// RegisterRoutes registers the payrelay admin routes into the given Forge
// router with full OpenAPI metadata. Public wallet and payment routes are
// served by Handler, behind admission control.
func (a *ForgeAPI) RegisterRoutes(router forge.Router) {
	a.registerEndpointRoutes(router)
	a.registerDeliveryRoutes(router)
	a.registerPaymentRoutes(router)
	a.registerCatalogRoutes(router)
}

// ---------------------------------------------------------------------------
// Endpoint routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerEndpointRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("endpoints"))

	if err := g.POST("/projects/:projectId/endpoints", a.createEndpoint,
		forge.WithSummary("Register endpoint"),
		forge.WithDescription("Registers a webhook endpoint for a project. The signing secret is returned once."),
		forge.WithOperationID("createEndpoint"),
		forge.WithRequestSchema(CreateEndpointForgeRequest{}),
		forge.WithCreatedResponse(endpoint.Registration{}),
		forge.WithErrorResponses(),
	); err != nil {
		// One bad route must not take the rest of the API down.
		a.log.Error("Failed to register createEndpoint route", forge.Error(err))
	}

	if err := g.GET("/projects/:projectId/endpoints", a.listEndpoints,
		forge.WithSummary("List endpoints"),
		forge.WithDescription("Returns the endpoints of a project, newest first."),
		forge.WithOperationID("listEndpoints"),
		forge.WithRequestSchema(ListEndpointsForgeRequest{}),
		forge.WithListResponse(endpoint.Endpoint{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listEndpoints route", forge.Error(err))
	}

	if err := g.GET("/endpoints/:endpointId", a.getEndpoint,
		forge.WithSummary("Get endpoint"),
		forge.WithDescription("Returns details of a specific endpoint."),
		forge.WithOperationID("getEndpoint"),
		forge.WithResponseSchema(http.StatusOK, "Endpoint details", endpoint.Endpoint{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getEndpoint route", forge.Error(err))
	}

	if err := g.DELETE("/endpoints/:endpointId", a.revokeEndpoint,
		forge.WithSummary("Revoke endpoint"),
		forge.WithDescription("Revokes an endpoint. Pending retries end as FAILED and no new campaigns start."),
		forge.WithOperationID("revokeEndpoint"),
		forge.WithResponseSchema(http.StatusOK, "Revoked endpoint", endpoint.Endpoint{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register revokeEndpoint route", forge.Error(err))
	}

	if err := g.POST("/endpoints/:endpointId/test", a.testEndpoint,
		forge.WithSummary("Send test webhook"),
		forge.WithDescription("Posts a signed webhook.test event to the endpoint and returns the response."),
		forge.WithOperationID("testEndpoint"),
		forge.WithRequestSchema(TestEndpointForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Test result", delivery.TestResult{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register testEndpoint route", forge.Error(err))
	}

	if err := g.POST("/endpoints/:endpointId/rotate-secret", a.rotateSecret,
		forge.WithSummary("Rotate secret"),
		forge.WithDescription("Generates a new signing secret for the endpoint."),
		forge.WithOperationID("rotateEndpointSecret"),
		forge.WithResponseSchema(http.StatusOK, "New signing secret", endpoint.Registration{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register rotateEndpointSecret route", forge.Error(err))
	}
}

func (a *ForgeAPI) createEndpoint(ctx forge.Context, req *CreateEndpointForgeRequest) (*endpoint.Registration, error) {
	reg, err := a.relay.Endpoints().Register(ctx.Context(), endpoint.Input{
		ProjectID:   req.ProjectID,
		URL:         req.URL,
		Description: req.Description,
		EventTypes:  req.EventTypes,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, mapError(err)
	}

	err = ctx.JSON(http.StatusCreated, reg)
	if err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.JSON.
	return nil, nil
}

func (a *ForgeAPI) listEndpoints(ctx forge.Context, req *ListEndpointsForgeRequest) ([]*endpoint.Endpoint, error) {
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	eps, err := a.relay.Endpoints().List(ctx.Context(), req.ProjectID, endpoint.ListOpts{
		Offset:         req.Offset,
		Limit:          limit,
		IncludeRevoked: req.IncludeRevoked == "true",
	})
	if err != nil {
		return nil, mapError(err)
	}

	return eps, nil
}

func (a *ForgeAPI) getEndpoint(ctx forge.Context, req *EndpointActionForgeRequest) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(req.EndpointID)
	if err != nil {
		return nil, forge.BadRequest("invalid endpoint ID")
	}

	ep, getErr := a.relay.Endpoints().Get(ctx.Context(), epID)
	if getErr != nil {
		return nil, mapError(getErr)
	}

	return ep, nil
}

func (a *ForgeAPI) revokeEndpoint(ctx forge.Context, req *EndpointActionForgeRequest) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(req.EndpointID)
	if err != nil {
		return nil, forge.BadRequest("invalid endpoint ID")
	}

	ep, revokeErr := a.relay.Endpoints().Revoke(ctx.Context(), epID)
	if revokeErr != nil {
		return nil, mapError(revokeErr)
	}

	return ep, nil
}

func (a *ForgeAPI) testEndpoint(ctx forge.Context, req *TestEndpointForgeRequest) (*delivery.TestResult, error) {
	epID, err := id.ParseEndpointID(req.EndpointID)
	if err != nil {
		return nil, forge.BadRequest("invalid endpoint ID")
	}

	res, testErr := a.relay.Engine().SendTest(ctx.Context(), epID, req.Metadata)
	if testErr != nil {
		return nil, mapError(testErr)
	}

	return res, nil
}

func (a *ForgeAPI) rotateSecret(ctx forge.Context, req *EndpointActionForgeRequest) (*endpoint.Registration, error) {
	epID, err := id.ParseEndpointID(req.EndpointID)
	if err != nil {
		return nil, forge.BadRequest("invalid endpoint ID")
	}

	reg, rotateErr := a.relay.Endpoints().RotateSecret(ctx.Context(), epID)
	if rotateErr != nil {
		return nil, mapError(rotateErr)
	}

	return reg, nil
}

// ---------------------------------------------------------------------------
// Delivery routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerDeliveryRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("deliveries"))

	if err := g.GET("/endpoints/:endpointId/deliveries", a.listEndpointDeliveries,
		forge.WithSummary("List endpoint deliveries"),
		forge.WithDescription("Returns delivery attempts for an endpoint, newest first."),
		forge.WithOperationID("listEndpointDeliveries"),
		forge.WithRequestSchema(ListDeliveriesForgeRequest{}),
		forge.WithListResponse(delivery.Delivery{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listEndpointDeliveries route", forge.Error(err))
	}

	if err := g.GET("/events/:eventId/deliveries", a.listEventDeliveries,
		forge.WithSummary("List event deliveries"),
		forge.WithDescription("Returns every attempt of every campaign started by an event."),
		forge.WithOperationID("listEventDeliveries"),
		forge.WithListResponse(delivery.Delivery{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listEventDeliveries route", forge.Error(err))
	}
}

func (a *ForgeAPI) listEndpointDeliveries(ctx forge.Context, req *ListDeliveriesForgeRequest) ([]*delivery.Delivery, error) {
	epID, err := id.ParseEndpointID(req.EndpointID)
	if err != nil {
		return nil, forge.BadRequest("invalid endpoint ID")
	}

	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	deliveries, listErr := a.relay.Store().ListByEndpoint(ctx.Context(), epID, delivery.ListOpts{
		Offset: req.Offset,
		Limit:  limit,
		Status: delivery.Status(req.Status),
	})
	if listErr != nil {
		return nil, mapError(listErr)
	}

	return deliveries, nil
}

func (a *ForgeAPI) listEventDeliveries(ctx forge.Context, req *EventDeliveriesForgeRequest) ([]*delivery.Delivery, error) {
	evtID, err := id.ParseEventID(req.EventID)
	if err != nil {
		return nil, forge.BadRequest("invalid event ID")
	}

	deliveries, listErr := a.relay.Store().ListByEvent(ctx.Context(), evtID)
	if listErr != nil {
		return nil, mapError(listErr)
	}

	return deliveries, nil
}

// ---------------------------------------------------------------------------
// Payment routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerPaymentRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("payments"))

	if err := g.GET("/projects/:projectId/payments", a.listPayments,
		forge.WithSummary("List payments"),
		forge.WithDescription("Returns the payments of a project, newest first."),
		forge.WithOperationID("listPayments"),
		forge.WithRequestSchema(ListPaymentsForgeRequest{}),
		forge.WithListResponse(payment.Payment{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listPayments route", forge.Error(err))
	}

	if err := g.POST("/sweeps", a.runSweep,
		forge.WithSummary("Run timeout sweep"),
		forge.WithDescription("Closes every PENDING payment past its timeout now, instead of waiting for the next scheduled run."),
		forge.WithOperationID("runSweep"),
		forge.WithResponseSchema(http.StatusOK, "Sweep result", SweepForgeResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register runSweep route", forge.Error(err))
	}

	if err := g.GET("/stats", a.getStats,
		forge.WithSummary("System statistics"),
		forge.WithDescription("Returns the pending delivery count and the current sweep threshold."),
		forge.WithOperationID("getStats"),
		forge.WithResponseSchema(http.StatusOK, "System statistics", StatsForgeResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getStats route", forge.Error(err))
	}
}

func (a *ForgeAPI) listPayments(ctx forge.Context, req *ListPaymentsForgeRequest) ([]*payment.Payment, error) {
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	payments, err := a.relay.Payments().List(ctx.Context(), req.ProjectID, payment.ListOpts{
		Status: payment.Status(req.Status),
		Offset: req.Offset,
		Limit:  limit,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return payments, nil
}

func (a *ForgeAPI) runSweep(ctx forge.Context, _ *SweepForgeRequest) (*SweepForgeResponse, error) {
	n, err := a.relay.Sweep(ctx.Context())
	if err != nil {
		return nil, mapError(err)
	}

	return &SweepForgeResponse{TimedOut: n}, nil
}

func (a *ForgeAPI) getStats(ctx forge.Context, _ *StatsForgeRequest) (*StatsForgeResponse, error) {
	pending, err := a.relay.Store().CountPending(ctx.Context())
	if err != nil {
		return nil, mapError(err)
	}

	return &StatsForgeResponse{
		PendingDeliveries: pending,
		SweepThreshold:    a.relay.Sweeper().Threshold(),
	}, nil
}

// ---------------------------------------------------------------------------
// Catalog routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerCatalogRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("event-types"))

	if err := g.GET("/event-types", a.listEventTypes,
		forge.WithSummary("List event types"),
		forge.WithDescription("Returns the event types payrelay emits, with their metadata schemas."),
		forge.WithOperationID("listEventTypes"),
		forge.WithRequestSchema(ListEventTypesForgeRequest{}),
		forge.WithListResponse(catalog.EventType{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listEventTypes route", forge.Error(err))
	}
}

func (a *ForgeAPI) listEventTypes(_ forge.Context, req *ListEventTypesForgeRequest) ([]*catalog.EventType, error) {
	return a.relay.Catalog().List(req.IncludeDeprecated == "true"), nil
}
