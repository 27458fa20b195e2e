package httpx_test

import (
	"context"
	"testing"

	"github.com/haukened/stash/internal/httpx"
)

func TestHandlerConstructor(t *testing.T) {
	rd := func(context.Context) error { return nil }
	h := httpx.New(&mockService{}, 4096, rd)
	if h.Service == nil {
		t.Fatalf("expected service set")
	}
	if h.MaxBody != 4096 {
		t.Fatalf("expected maxBody 4096 got %d", h.MaxBody)
	}
	if h.Readiness == nil {
		t.Fatalf("expected readiness set")
	}
	if h.APIKey != "" || h.Metrics != nil {
		t.Fatalf("expected admin and metrics disabled by default")
	}
}
