package api

import (
	"net/http"

	"github.com/xraph/payrelay/walletlink"
)

type challengeRequest struct {
	PublicKey string `json:"publicKey"`
}

func (h *Handler) walletChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ch, err := h.relay.Wallets().Challenge(r.Context(), req.PublicKey)
	if err != nil {
		// A malformed address is a client mistake here, not a failed proof.
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid wallet address", Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, ch)
}

func (h *Handler) walletConfirm(w http.ResponseWriter, r *http.Request) {
	var req walletlink.LinkInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	b, err := h.relay.Wallets().Link(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, b)
}
