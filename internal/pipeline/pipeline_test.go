package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/edm/edm/internal/platform/telemetry"
	"github.com/edm/edm/internal/transform"
	"github.com/edm/edm/pkg/edm"
)

func event(subject int, domain, facts string) string {
	return fmt.Sprintf(`[%d,0,null,"%s",[],{"patient_id":%d,"time":{"begin":0,"end":1},"domain":"%s","facts":%s}]`,
		subject, domain, subject, domain, facts)
}

type memOutput struct {
	mu       sync.Mutex
	events   []*Encoded
	failures []*Failure
	flushed  int
	failOn   int64
}

func (m *memOutput) WriteEvent(_ context.Context, ev *Encoded) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn > 0 && ev.Seq == m.failOn {
		return errors.New("output closed")
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *memOutput) WriteFailure(_ context.Context, f *Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, f)
	return nil
}

func (m *memOutput) Flush(context.Context) error {
	m.flushed++
	return nil
}

func TestProcessor_Run(t *testing.T) {
	input := strings.Join([]string{
		event(1, "Death", `{}`),
		event(2, "Diagnosis", `{"code":{"code":"E11","codebook":"ICD10"}}`),
		event(9, "Vitals", `{}`),
		event(3, "Eligibility", `{}`),
		`not-json`,
	}, "\n")

	out := &memOutput{}
	p := New(Options{Workers: 4, PreserveOrder: true, Logger: zerolog.Nop()})
	stats, err := p.Run(context.Background(), NewSource(strings.NewReader(input)), out, out)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if stats.Read != 5 || stats.Written != 3 || stats.Failed != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.ByDomain[edm.DomainDeath] != 1 || stats.ByDomain[edm.DomainDiagnosis] != 1 {
		t.Errorf("unexpected per-domain counts: %v", stats.ByDomain)
	}
	if out.flushed != 1 {
		t.Errorf("expected one flush, got %d", out.flushed)
	}

	wantSeq := []int64{0, 1, 3}
	for i, ev := range out.events {
		if ev.Seq != wantSeq[i] {
			t.Errorf("event %d: expected seq %d, got %d", i, wantSeq[i], ev.Seq)
		}
	}
	if got := string(out.events[1].Data); got != event(2, "Diagnosis", `{"code":{"code":"E11","codebook":"ICD10"}}`) {
		t.Errorf("expected byte-exact re-encoding, got %s", got)
	}
	if out.events[1].Subject != "2" || out.events[1].Fingerprint != FingerprintOf(out.events[1].Data) {
		t.Errorf("unexpected encoded metadata: %+v", out.events[1])
	}

	if len(out.failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(out.failures))
	}
	if f := out.failures[0]; f.Seq != 2 || f.Kind != "unknown_domain" || f.Input != event(9, "Vitals", `{}`) {
		t.Errorf("unexpected first failure: %+v", f)
	}
	if f := out.failures[1]; f.Seq != 4 || f.Kind != "syntax" {
		t.Errorf("unexpected second failure: %+v", f)
	}
}

func TestProcessor_PreserveOrderManyWorkers(t *testing.T) {
	var b strings.Builder
	const n = 500
	for i := 0; i < n; i++ {
		b.WriteString(event(i, "Death", `{}`))
		b.WriteByte('\n')
	}

	out := &memOutput{}
	p := New(Options{Workers: 8, PreserveOrder: true, Logger: zerolog.Nop()})
	stats, err := p.Run(context.Background(), NewSource(strings.NewReader(b.String())), out, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if stats.Written != n {
		t.Fatalf("expected %d written, got %d", n, stats.Written)
	}
	for i, ev := range out.events {
		if ev.Seq != int64(i) {
			t.Fatalf("event %d delivered out of order (seq %d)", i, ev.Seq)
		}
	}
}

func TestProcessor_Unordered(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString(event(i, "Enrollment", `{}`))
	}
	out := &memOutput{}
	p := New(Options{Workers: 4, Logger: zerolog.Nop()})
	stats, err := p.Run(context.Background(), NewSource(strings.NewReader(b.String())), out, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	seen := make(map[int64]bool)
	for _, ev := range out.events {
		seen[ev.Seq] = true
	}
	if stats.Written != 100 || len(seen) != 100 {
		t.Errorf("expected every record exactly once, got %d written, %d distinct", stats.Written, len(seen))
	}
}

func TestProcessor_TransformAndDedup(t *testing.T) {
	rules, err := transform.ParseRules([]byte(`
rules:
  - match: {domains: [Death]}
    drop: true
  - match: {code_prefixes: ["E11"]}
    add_concepts: [diabetes]
`))
	if err != nil {
		t.Fatalf("ParseRules() error: %v", err)
	}
	dx := event(2, "Diagnosis", `{"code":{"code":"E11"}}`)
	input := strings.Join([]string{dx, event(1, "Death", `{}`), dx, dx}, "\n")

	metrics := telemetry.New()
	out := &memOutput{}
	p := New(Options{
		Workers:       2,
		PreserveOrder: true,
		Transform:     rules.Func(),
		Dedup:         NewDeduper(16, 0),
		Metrics:       metrics,
		Logger:        zerolog.Nop(),
	})
	stats, err := p.Run(context.Background(), NewSource(strings.NewReader(input)), out, out)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if stats.Written != 1 || stats.Dropped != 1 || stats.Duplicates != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if got := string(out.events[0].Data); !strings.Contains(got, `"Diagnosis",["diabetes"],`) {
		t.Errorf("transform not applied: %s", got)
	}
}

func TestProcessor_TransformError(t *testing.T) {
	boom := func(*edm.Event) (*edm.Event, error) { return nil, errors.New("boom") }
	out := &memOutput{}
	p := New(Options{Transform: boom, Logger: zerolog.Nop()})
	stats, err := p.Run(context.Background(), NewSource(strings.NewReader(event(1, "Death", `{}`))), out, out)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if stats.Failed != 1 || out.failures[0].Kind != "transform" || out.failures[0].Error != "boom" {
		t.Errorf("unexpected result: %+v %+v", stats, out.failures)
	}
}

func TestProcessor_OutputErrorStopsRun(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString(event(i, "Death", `{}`))
		b.WriteByte('\n')
	}
	out := &memOutput{failOn: 3}
	p := New(Options{Workers: 2, PreserveOrder: true, Logger: zerolog.Nop()})
	stats, err := p.Run(context.Background(), NewSource(strings.NewReader(b.String())), out, nil)
	if err == nil || !strings.Contains(err.Error(), "output closed") {
		t.Fatalf("expected output error, got %v", err)
	}
	if stats.Written != 3 {
		t.Errorf("expected 3 events before the failure, got %d", stats.Written)
	}
	if out.flushed != 0 {
		t.Error("outputs must not be flushed after a failed run")
	}
}

func TestProcessor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var b strings.Builder
	for i := 0; i < 1000; i++ {
		b.WriteString(event(i, "Death", `{}`))
	}
	p := New(Options{Workers: 1, Logger: zerolog.Nop()})
	_, err := p.Run(ctx, NewSource(strings.NewReader(b.String())), &memOutput{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
