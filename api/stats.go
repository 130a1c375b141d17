package api

import (
	"net/http"
	"time"
)

type statsResponse struct {
	PendingDeliveries int64 `json:"pending_deliveries"`

	// SweepThreshold is the creation time before which a PENDING payment's
	// first event makes it eligible for the next sweep.
	SweepThreshold time.Time `json:"sweep_threshold"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	pending, err := h.relay.Store().CountPending(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		PendingDeliveries: pending,
		SweepThreshold:    h.relay.Sweeper().Threshold(),
	})
}
