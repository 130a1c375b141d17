package api

import (
	"net/http"

	"github.com/xraph/payrelay/delivery"
	"github.com/xraph/payrelay/id"
)

func (h *Handler) listEndpointDeliveries(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Status: delivery.Status(queryParam(r, "status")),
	}

	deliveries, listErr := h.relay.Store().ListByEndpoint(r.Context(), epID, opts)
	if listErr != nil {
		h.writeServiceError(w, r, listErr)
		return
	}

	writeJSON(w, http.StatusOK, deliveries)
}

// listEventDeliveries returns every attempt of every campaign for an event.
func (h *Handler) listEventDeliveries(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	deliveries, listErr := h.relay.Store().ListByEvent(r.Context(), evtID)
	if listErr != nil {
		h.writeServiceError(w, r, listErr)
		return
	}

	writeJSON(w, http.StatusOK, deliveries)
}
