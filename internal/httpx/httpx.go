// Package httpx contains the HTTP delivery layer (net/http handlers) for the Stash service.
// It maps HTTP requests to the application service while enforcing size limits,
// the admin key, security headers, streaming downloads, and error translation.
// Handlers are split across files (files.go, admin.go, health.go, errors.go).
package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/domain"
)

// ServicePort abstracts the subset of app.Service used by the HTTP layer.
// It is satisfied by *app.Service in production and mocked in tests.
type ServicePort interface {
	Upload(ctx context.Context, in app.UploadInput) (domain.View, error)
	Get(ctx context.Context, id, password string) (domain.View, error)
	Download(ctx context.Context, id, password string) (*app.Download, error)
	Delete(ctx context.Context, id, password string) (domain.View, error)
	ListAll(ctx context.Context) ([]domain.View, error)
	DeleteAllMetadata(ctx context.Context) (int64, error)
}

// Handler wires HTTP endpoints to the application service.
// It is safe for concurrent use. Zero-value is not valid; construct via New.
type Handler struct {
	Service   ServicePort
	MaxBody   int64                       // largest accepted file (0 disables the check)
	Readiness func(context.Context) error // optional readiness probe
	APIKey    string                      // admin key; empty disables admin routes
	Metrics   http.Handler                // optional /metrics handler
	Logger    *slog.Logger                // optional (defaults to slog.Default())
}

// New returns a configured Handler.
// svc: application service port implementation.
// maxBody: maximum accepted file size in bytes (0 disables the extra check).
// readiness: optional probe function for /readyz (nil => always ready).
func New(svc ServicePort, maxBody int64, readiness func(context.Context) error) *Handler {
	return &Handler{Service: svc, MaxBody: maxBody, Readiness: readiness}
}

// Router constructs and returns an http.Handler with all routes mounted and
// the correlation and security headers middleware applied.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /readyz", h.handleReady)

	mux.HandleFunc("POST /v1/file", h.handleUpload)
	mux.HandleFunc("GET /v1/file/{id}", h.handleGet)
	mux.HandleFunc("GET /v1/file/download/{id}", h.handleDownload)
	mux.HandleFunc("DELETE /v1/file/{id}", h.handleDelete)

	mux.Handle("GET /v1/file", h.requireAPIKey(http.HandlerFunc(h.handleList)))
	mux.Handle("DELETE /v1/file", h.requireAPIKey(http.HandlerFunc(h.handleDeleteAll)))

	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	return CorrelationIDMiddleware(h.secureHeaders(mux))
}

func (h *Handler) log() *slog.Logger {
	l := h.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("domain", "http")
}
