package api

import "net/http"

func (h *Handler) listEventTypes(w http.ResponseWriter, r *http.Request) {
	types := h.relay.Catalog().List(queryParam(r, "include_deprecated") == "true")
	writeJSON(w, http.StatusOK, types)
}
