package httpx

import "net/http"

// handleList implements GET /v1/file (admin).
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	views, err := h.Service.ListAll(r.Context())
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// handleDeleteAll implements DELETE /v1/file (admin). Only metadata is removed.
func (h *Handler) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.DeleteAllMetadata(r.Context())
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
