package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haukened/stash/internal/domain"
)

// writeJSON writes v as a JSON body with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with given status code.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, struct {
		Error string `json:"error"`
	}{Error: msg})
	if cid, ok := GetCorrelationID(ctx); ok {
		h.log().Debug("wrote error response", "cid", cid, "status", code, "msg", msg)
	}
}

// mapServiceError maps domain and service errors to HTTP responses.
func (h *Handler) mapServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	cid, _ := GetCorrelationID(ctx)
	log := h.log()
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidID):
		log.Info("service error", "cid", cid, "code", "not_found")
		h.writeError(ctx, w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrPasswordRequired):
		log.Info("service error", "cid", cid, "code", "password_required")
		h.writeError(ctx, w, http.StatusBadRequest, "password required")
	case errors.Is(err, domain.ErrUnauthorized):
		log.Warn("service error", "cid", cid, "code", "unauthorized")
		h.writeError(ctx, w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrEmptyFile):
		log.Info("service error", "cid", cid, "code", "empty_file")
		h.writeError(ctx, w, http.StatusBadRequest, "empty file")
	case errors.Is(err, domain.ErrSizeExceeded):
		log.Warn("service error", "cid", cid, "code", "size_exceeded")
		h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "size exceeded")
	case errors.Is(err, domain.ErrStorageUnavailable):
		log.Error("service error", "cid", cid, "code", "storage_unavailable")
		h.writeError(ctx, w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		// raw error strings may carry paths; log the type of failure only
		log.Error("unhandled service error", "cid", cid, "code", "unhandled")
		h.writeError(ctx, w, http.StatusInternalServerError, "internal")
	}
}
