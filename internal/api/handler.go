// Package api serves the event codec and pipeline over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/edm/edm/internal/pipeline"
	"github.com/edm/edm/internal/platform/auth"
	"github.com/edm/edm/internal/sink"
	"github.com/edm/edm/pkg/edm"
)

// FailedHeader carries the number of records that failed in a batch.
const FailedHeader = "X-EDM-Failed"

// Options wires a Handler.
type Options struct {
	Processor *pipeline.Processor
	// Ingest receives events posted to /events/ingest; nil disables the endpoint.
	Ingest pipeline.Output
	// Rejects receives failed ingest records; it may be nil.
	Rejects pipeline.ErrorOutput
}

type Handler struct {
	proc    *pipeline.Processor
	ingest  pipeline.Output
	rejects pipeline.ErrorOutput
	// ingestMu serialises ingest runs so a shared sink sees whole batches.
	ingestMu sync.Mutex
}

func NewHandler(opts Options) *Handler {
	return &Handler{proc: opts.Processor, ingest: opts.Ingest, rejects: opts.Rejects}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/events", auth.RequireRole(auth.RoleReader, auth.RoleWriter))
	read.POST("/validate", h.Validate)
	read.POST("/roundtrip", h.RoundTrip)
	read.POST("/process", h.Process)

	write := api.Group("/events", auth.RequireRole(auth.RoleWriter))
	write.POST("/ingest", h.Ingest)
}

// IsBatchPath reports whether path takes a stream of events rather than one.
func IsBatchPath(path string) bool {
	return path == "/api/v1/events/process" || path == "/api/v1/events/ingest"
}

type validateResponse struct {
	Valid     bool       `json:"valid"`
	Domain    edm.Domain `json:"domain"`
	RoundTrip bool       `json:"roundtrip"`
}

func readEvent(c echo.Context) ([]byte, *edm.Event, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, nil, bodyError(err)
	}
	body = bytes.TrimSpace(body)
	// body belongs to this request, so the event can borrow from it.
	ev, err := edm.DecodeBorrowed(body)
	if err != nil {
		return nil, nil, codecError(err)
	}
	c.Set("edm_domain", ev.Domain().String())
	return body, ev, nil
}

// Validate decodes one event and reports whether it re-encodes byte for byte.
func (h *Handler) Validate(c echo.Context) error {
	body, ev, err := readEvent(c)
	if err != nil {
		return err
	}
	out, err := edm.Encode(ev)
	if err != nil {
		return codecError(err)
	}
	return c.JSON(http.StatusOK, validateResponse{
		Valid:     true,
		Domain:    ev.Domain(),
		RoundTrip: bytes.Equal(out, body),
	})
}

// RoundTrip decodes one event and returns its canonical encoding.
func (h *Handler) RoundTrip(c echo.Context) error {
	_, ev, err := readEvent(c)
	if err != nil {
		return err
	}
	out, err := edm.Encode(ev)
	if err != nil {
		return codecError(err)
	}
	return c.JSONBlob(http.StatusOK, out)
}

type failureList struct {
	mu       sync.Mutex
	failures []*pipeline.Failure
}

func (l *failureList) WriteFailure(_ context.Context, f *pipeline.Failure) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, f)
	return nil
}

type eventList struct {
	events []json.RawMessage
}

func (l *eventList) WriteEvent(_ context.Context, ev *pipeline.Encoded) error {
	l.events = append(l.events, ev.Data)
	return nil
}

type processResponse struct {
	Stats  pipeline.Stats      `json:"stats"`
	Events []json.RawMessage   `json:"events"`
	Errors []*pipeline.Failure `json:"errors"`
}

// Process runs a stream of events through the pipeline and returns the
// canonical events as NDJSON. With ?errors=inline the response is a JSON
// document holding the events, the failures and the run stats.
func (h *Handler) Process(c echo.Context) error {
	ctx := c.Request().Context()
	src := pipeline.NewSource(c.Request().Body)
	fails := &failureList{}

	if c.QueryParam("errors") == "inline" {
		events := &eventList{}
		stats, err := h.proc.Run(ctx, src, events, fails)
		if err != nil {
			return runError(err)
		}
		c.Set("edm_failed", int(stats.Failed))
		resp := processResponse{Stats: stats, Events: events.events, Errors: fails.failures}
		if resp.Events == nil {
			resp.Events = []json.RawMessage{}
		}
		if resp.Errors == nil {
			resp.Errors = []*pipeline.Failure{}
		}
		return c.JSON(http.StatusOK, resp)
	}

	var buf bytes.Buffer
	stats, err := h.proc.Run(ctx, src, sink.NewNDJSON(&buf), fails)
	if err != nil {
		return runError(err)
	}
	c.Set("edm_failed", int(stats.Failed))
	c.Response().Header().Set(FailedHeader, strconv.FormatInt(stats.Failed, 10))
	return c.Blob(http.StatusOK, "application/x-ndjson", buf.Bytes())
}

// Ingest runs a stream of events into the configured sink and returns the run
// stats. Failed records go to the reject sink when one is configured.
func (h *Handler) Ingest(c echo.Context) error {
	if h.ingest == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no ingest sink configured")
	}

	h.ingestMu.Lock()
	defer h.ingestMu.Unlock()

	fails := &failureList{}
	var rejects pipeline.ErrorOutput = fails
	if h.rejects != nil {
		rejects = teeFailures{fails, h.rejects}
	}
	stats, err := h.proc.Run(c.Request().Context(), pipeline.NewSource(c.Request().Body), h.ingest, rejects)
	if err != nil {
		return runError(err)
	}
	c.Set("edm_failed", int(stats.Failed))
	c.Response().Header().Set(FailedHeader, strconv.FormatInt(stats.Failed, 10))
	return c.JSON(http.StatusOK, stats)
}

type teeFailures []pipeline.ErrorOutput

func (t teeFailures) WriteFailure(ctx context.Context, f *pipeline.Failure) error {
	for _, out := range t {
		if err := out.WriteFailure(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes any member that buffers.
func (t teeFailures) Flush(ctx context.Context) error {
	for _, out := range t {
		if f, ok := out.(pipeline.Flusher); ok {
			if err := f.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func runError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	if errors.Is(err, context.Canceled) {
		return echo.NewHTTPError(499, "request cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return echo.NewHTTPError(http.StatusGatewayTimeout, "request processing exceeded the allowed time").SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
}
