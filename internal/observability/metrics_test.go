package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewWithRegistry_RegistersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test", reg)
	m.StreamsStarted.Inc()
	m.ContractCompletions.WithLabelValues("market_cap").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one registered metric family")
	}
}

func TestHealthHandler_ReportsActiveCount(t *testing.T) {
	handler := HealthHandler(func() int { return 3 }, func() bool { return true })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "ok" || status.ActiveStreams != 3 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestHealthHandler_ReportsUnhealthyWhenNotReady(t *testing.T) {
	handler := HealthHandler(func() int { return 0 }, func() bool { return false })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "unhealthy" {
		t.Errorf("expected unhealthy status, got %+v", status)
	}
}
