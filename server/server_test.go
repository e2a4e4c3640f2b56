package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/virto-network/reference-bot/telemetry"
	"github.com/virto-network/reference-bot/testutil"
)

func TestHealthzOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	NewMux(nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); got != "ok" {
		t.Fatalf("expected ok body, got %q", got)
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected correlation id header")
	}
}

func TestCorrelationHeaderReused(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr := httptest.NewRecorder()
	NewMux(nil).ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("X-Correlation-ID = %q", got)
	}
}

func TestReadyz(t *testing.T) {
	ok := Check{Name: "ok", Fn: func(context.Context) error { return nil }}
	failing := Check{Name: "transport", Fn: func(context.Context) error { return errors.New("matrix sync failing") }}
	tests := []struct {
		name       string
		checks     []Check
		wantStatus int
		wantFailed string
	}{
		{"no checks", nil, http.StatusOK, ""},
		{"all pass", []Check{ok, ok}, http.StatusOK, ""},
		{"first failure reported", []Check{ok, failing}, http.StatusServiceUnavailable, "transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			NewMux(tt.checks).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["failed_check"] != tt.wantFailed {
				t.Errorf("failed_check = %q, want %q", body["failed_check"], tt.wantFailed)
			}
		})
	}
}

func TestReadyzWithDatabase(t *testing.T) {
	database := testutil.SetupTestDB(t)
	checks := []Check{{Name: "database", Fn: database.PingContext}}
	rr := httptest.NewRecorder()
	NewMux(checks).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	telemetry.Init()
	telemetry.CountMessage("replied")
	rr := httptest.NewRecorder()
	NewMux(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "bot_messages_total") {
		t.Error("expected bot metrics in output")
	}
}

func TestStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Start(ctx, "127.0.0.1:0", nil) }()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}
