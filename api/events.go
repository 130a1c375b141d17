package api

import (
	"net/http"

	"github.com/xraph/payrelay/event"
	"github.com/xraph/payrelay/id"
)

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	opts := event.ListOpts{
		ProjectID: r.PathValue("projectID"),
		Type:      queryParam(r, "type"),
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 50),
	}
	if raw := queryParam(r, "payment_id"); raw != "" {
		payID, err := id.ParsePaymentID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid payment ID")
			return
		}
		opts.PaymentID = payID
	}

	events, err := h.relay.Store().ListEvents(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	evt, getErr := h.relay.Store().GetEvent(r.Context(), evtID)
	if getErr != nil {
		h.writeServiceError(w, r, getErr)
		return
	}

	writeJSON(w, http.StatusOK, evt)
}
