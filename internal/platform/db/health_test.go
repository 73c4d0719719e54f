package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runHealth(t *testing.T, h echo.HandlerFunc) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return rec, body
}

func fixedStats() *PoolStats {
	return &PoolStats{TotalConns: 2, IdleConns: 1, AcquiredConns: 1, MaxConns: 10, AcquireDuration: "1ms"}
}

func TestHealthHandler_Healthy(t *testing.T) {
	check := func(context.Context) (bool, error) { return true, nil }
	rec, body := runHealth(t, healthHandler(check, fixedStats))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" || body["schema"] != "ready" {
		t.Errorf("unexpected body: %v", body)
	}
	pool, ok := body["pool"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected pool stats object, got %v", body["pool"])
	}
	if pool["total_conns"] != float64(2) || pool["max_conns"] != float64(10) {
		t.Errorf("unexpected pool stats: %v", pool)
	}
}

func TestHealthHandler_SchemaMissing(t *testing.T) {
	check := func(context.Context) (bool, error) { return false, nil }
	rec, body := runHealth(t, healthHandler(check, fixedStats))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "degraded" || body["schema"] != "missing" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	check := func(context.Context) (bool, error) { return false, errors.New("connection refused") }
	rec, body := runHealth(t, healthHandler(check, fixedStats))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body["status"] != "unhealthy" || body["error"] != "connection refused" {
		t.Errorf("unexpected body: %v", body)
	}
	if _, ok := body["schema"]; ok {
		t.Error("schema state is unknown when the check fails")
	}
}

func TestHealthHandler_Deadline(t *testing.T) {
	check := func(ctx context.Context) (bool, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected the check to run under a deadline")
		}
		return true, nil
	}
	runHealth(t, healthHandler(check, fixedStats))
}

func TestHealthHandler_NoDatabase(t *testing.T) {
	rec, body := runHealth(t, HealthHandler(nil))
	if rec.Code != http.StatusOK || body["status"] != "disabled" {
		t.Errorf("expected disabled status, got %d %v", rec.Code, body)
	}
}
