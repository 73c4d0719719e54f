package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/edm/edm/pkg/edm"
)

func TestProvider_EventCounters(t *testing.T) {
	p := New()
	p.Event(StageDecoded, edm.DomainLabs)
	p.Event(StageDecoded, edm.DomainLabs)
	p.Event(StageWritten, edm.DomainDeath)

	if got := testutil.ToFloat64(p.events.WithLabelValues(StageDecoded, "Labs")); got != 2 {
		t.Errorf("expected 2 decoded Labs events, got %v", got)
	}
	if got := testutil.ToFloat64(p.events.WithLabelValues(StageWritten, "Death")); got != 1 {
		t.Errorf("expected 1 written Death event, got %v", got)
	}
}

func TestProvider_Failures(t *testing.T) {
	p := New()
	_, err := edm.DecodeString(`[1,0,1,"Vitals",[],{"patient_id":1,"time":{"begin":0},"domain":"Vitals","facts":{}}]`)
	p.Failure(err)
	p.Failure(errors.New("sink unavailable"))

	if got := testutil.ToFloat64(p.failures.WithLabelValues("unknown_domain")); got != 1 {
		t.Errorf("expected 1 unknown_domain failure, got %v", got)
	}
	if got := testutil.ToFloat64(p.failures.WithLabelValues("unknown")); got != 1 {
		t.Errorf("expected 1 unknown failure, got %v", got)
	}
}

func TestProvider_NilSafe(t *testing.T) {
	var p *Provider
	p.Event(StageDecoded, edm.DomainClaim)
	p.Failure(errors.New("x"))
	p.SetPoolConnections(1, 2, 3)
	if p.Registry() != nil {
		t.Error("nil provider should have no registry")
	}

	e := echo.New()
	h := p.MetricsMiddleware()(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestMetricsMiddleware_RecordsRoute(t *testing.T) {
	p := New()
	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/api/v1/things/:id", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", p.PrometheusHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/things/42", nil)
	e.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	body := rec.Body.String()
	want := `http_server_request_duration_seconds_count{method="GET",route="/api/v1/things/:id",status="200"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("expected %q in exposition, got:\n%s", want, body)
	}
	if got := testutil.ToFloat64(p.activeRequests); got != 0 {
		t.Errorf("expected no active requests after completion, got %v", got)
	}
}

func TestProvider_PoolGauges(t *testing.T) {
	p := New()
	p.SetPoolConnections(3, 2, 10)
	if got := testutil.ToFloat64(p.poolConns.WithLabelValues("acquired")); got != 2 {
		t.Errorf("expected 2 acquired, got %v", got)
	}
	if got := testutil.ToFloat64(p.poolConns.WithLabelValues("max")); got != 10 {
		t.Errorf("expected max 10, got %v", got)
	}
}
