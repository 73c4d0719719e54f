// Package telemetry exposes Prometheus metrics for the HTTP surface and the
// event pipeline.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edm/edm/pkg/edm"
)

// Pipeline stages used as the "stage" label of edm_events_total.
const (
	StageDecoded   = "decoded"
	StageWritten   = "written"
	StageDropped   = "dropped"
	StageDuplicate = "duplicate"
)

var defaultDurationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Provider owns a private registry so tests and multiple servers in one
// process do not collide on the global default registry.
// The recording methods and MetricsMiddleware do nothing on a nil *Provider.
type Provider struct {
	reg *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
	responseSize    prometheus.Histogram

	events    *prometheus.CounterVec
	failures  *prometheus.CounterVec
	poolConns *prometheus.GaugeVec
}

// New registers the edm collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() *Provider {
	p := &Provider{reg: prometheus.NewRegistry()}

	p.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "http",
		Subsystem: "server",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   defaultDurationBuckets,
	}, []string{"method", "route", "status"})
	p.activeRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "http",
		Subsystem: "server",
		Name:      "active_requests",
		Help:      "Number of active HTTP requests.",
	})
	p.responseSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "http",
		Subsystem: "server",
		Name:      "response_size_bytes",
		Help:      "Size of HTTP response bodies in bytes.",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	})
	p.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edm",
		Name:      "events_total",
		Help:      "Events seen by the pipeline, by stage and domain.",
	}, []string{"stage", "domain"})
	p.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edm",
		Name:      "event_failures_total",
		Help:      "Records that failed to decode, transform or encode, by error kind.",
	}, []string{"kind"})
	p.poolConns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "edm",
		Subsystem: "db_pool",
		Name:      "connections",
		Help:      "Database pool connections by state.",
	}, []string{"state"})

	p.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.requestDuration, p.activeRequests, p.responseSize,
		p.events, p.failures, p.poolConns,
	)
	return p
}

// Registry returns the registry the provider's collectors live in.
func (p *Provider) Registry() *prometheus.Registry {
	if p == nil {
		return nil
	}
	return p.reg
}

// Event counts one event reaching stage.
func (p *Provider) Event(stage string, domain edm.Domain) {
	if p == nil {
		return
	}
	p.events.WithLabelValues(stage, domain.String()).Inc()
}

// Failure counts one failed record. Errors that do not come from the codec
// are counted as kind "unknown".
func (p *Provider) Failure(err error) {
	if p == nil {
		return
	}
	p.failures.WithLabelValues(edm.KindOf(err).String()).Inc()
}

// SetPoolConnections publishes the database pool occupancy.
func (p *Provider) SetPoolConnections(idle, acquired, max int32) {
	if p == nil {
		return
	}
	p.poolConns.WithLabelValues("idle").Set(float64(idle))
	p.poolConns.WithLabelValues("acquired").Set(float64(acquired))
	p.poolConns.WithLabelValues("max").Set(float64(max))
}

// MetricsMiddleware returns an Echo middleware that records HTTP server metrics.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if p == nil {
			return next
		}
		return func(c echo.Context) error {
			p.activeRequests.Inc()
			defer p.activeRequests.Dec()

			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			p.requestDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			if size := c.Response().Size; size > 0 {
				p.responseSize.Observe(float64(size))
			}
			return err
		}
	}
}

// PrometheusHandler serves the registry in the Prometheus text exposition
// format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{}))
}
