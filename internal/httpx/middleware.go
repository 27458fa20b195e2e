package httpx

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyHeader carries the admin key.
const APIKeyHeader = "X-API-Key"

// secureHeaders adds standard security and cache control headers. Responses
// are never cacheable since every body is tied to a credential.
func (h *Handler) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey guards admin routes. An unset key disables them entirely.
// Failures get a bare 403 so callers learn nothing about the key.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(APIKeyHeader)
		if h.APIKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.APIKey)) != 1 {
			cid, _ := GetCorrelationID(r.Context())
			h.log().Warn("admin access denied", "cid", cid, "path", r.URL.Path)
			h.writeError(r.Context(), w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
