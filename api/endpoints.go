package api

import (
	"net/http"

	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/id"
)

type createEndpointRequest struct {
	URL         string            `json:"url"`
	Description string            `json:"description,omitempty"`
	EventTypes  []string          `json:"event_types"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type testEndpointRequest struct {
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (h *Handler) createEndpoint(w http.ResponseWriter, r *http.Request) {
	var req createEndpointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reg, err := h.relay.Endpoints().Register(r.Context(), endpoint.Input{
		ProjectID:   r.PathValue("projectID"),
		URL:         req.URL,
		Description: req.Description,
		EventTypes:  req.EventTypes,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, reg)
}

func (h *Handler) listEndpoints(w http.ResponseWriter, r *http.Request) {
	opts := endpoint.ListOpts{
		Offset:         queryInt(r, "offset", 0),
		Limit:          queryInt(r, "limit", 50),
		IncludeRevoked: queryParam(r, "include_revoked") == "true",
	}

	eps, err := h.relay.Endpoints().List(r.Context(), r.PathValue("projectID"), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, eps)
}

func (h *Handler) getEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	ep, getErr := h.relay.Endpoints().Get(r.Context(), epID)
	if getErr != nil {
		h.writeServiceError(w, r, getErr)
		return
	}

	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	var req endpoint.UpdateInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ep, updateErr := h.relay.Endpoints().Update(r.Context(), epID, req)
	if updateErr != nil {
		h.writeServiceError(w, r, updateErr)
		return
	}

	writeJSON(w, http.StatusOK, ep)
}

// revokeEndpoint is idempotent and returns the revoked record.
func (h *Handler) revokeEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	ep, revokeErr := h.relay.Endpoints().Revoke(r.Context(), epID)
	if revokeErr != nil {
		h.writeServiceError(w, r, revokeErr)
		return
	}

	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) testEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	var req testEndpointRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	res, testErr := h.relay.Engine().SendTest(r.Context(), epID, req.Metadata)
	if testErr != nil {
		h.writeServiceError(w, r, testErr)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	reg, rotateErr := h.relay.Endpoints().RotateSecret(r.Context(), epID)
	if rotateErr != nil {
		h.writeServiceError(w, r, rotateErr)
		return
	}

	writeJSON(w, http.StatusOK, reg)
}
