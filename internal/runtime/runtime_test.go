package runtime

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxlabs/vox-core/internal/config"
)

func testRuntime() *Runtime {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(config.Default(), nil, nil, logger)
}

func TestReadyConsultsComponentChecks(t *testing.T) {
	rt := testRuntime()
	healthy := true
	rt.AddReadiness("bus", func() bool { return healthy })
	rt.ready.Store(true)

	rec := httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	healthy = false
	rec = httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bus") {
		t.Fatalf("body %q does not name the failing component", rec.Body.String())
	}
}

func TestReadyBeforeStart(t *testing.T) {
	rt := testRuntime()
	rec := httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
