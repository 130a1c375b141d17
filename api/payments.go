package api

import (
	"net/http"

	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/payment"
)

type confirmPaymentRequest struct {
	TxSignature string `json:"tx_signature"`
}

type failPaymentRequest struct {
	Reason string `json:"reason"`
}

type sweepResponse struct {
	TimedOut int `json:"timed_out"`
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req payment.CreateInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.relay.Payments().Create(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	payID, err := id.ParsePaymentID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment ID")
		return
	}

	p, getErr := h.relay.Payments().Get(r.Context(), payID)
	if getErr != nil {
		h.writeServiceError(w, r, getErr)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	payID, err := id.ParsePaymentID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment ID")
		return
	}

	var req confirmPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, confirmErr := h.relay.Payments().Confirm(r.Context(), payID, req.TxSignature)
	if confirmErr != nil {
		h.writeServiceError(w, r, confirmErr)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) failPayment(w http.ResponseWriter, r *http.Request) {
	payID, err := id.ParsePaymentID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment ID")
		return
	}

	var req failPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, failErr := h.relay.Payments().Fail(r.Context(), payID, req.Reason)
	if failErr != nil {
		h.writeServiceError(w, r, failErr)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	opts := payment.ListOpts{
		Status: payment.Status(queryParam(r, "status")),
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}

	payments, err := h.relay.Payments().List(r.Context(), r.PathValue("projectID"), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, payments)
}

func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.relay.Sweep(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sweepResponse{TimedOut: n})
}
