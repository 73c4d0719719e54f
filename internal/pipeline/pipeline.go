// Package pipeline runs batches of events through decode, transform and
// re-encode on a pool of workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edm/edm/internal/platform/telemetry"
	"github.com/edm/edm/internal/transform"
	"github.com/edm/edm/pkg/edm"
)

// Encoded is a successfully processed event in canonical form.
type Encoded struct {
	Seq         int64
	Domain      edm.Domain
	Subject     string
	Concepts    []string
	Data        []byte
	Fingerprint Fingerprint
}

// Failure describes a record that could not be processed.
type Failure struct {
	Seq   int64  `json:"seq"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
	Input string `json:"input"`
}

// Output receives processed events.
type Output interface {
	WriteEvent(ctx context.Context, ev *Encoded) error
}

// ErrorOutput receives failed records.
type ErrorOutput interface {
	WriteFailure(ctx context.Context, f *Failure) error
}

// Flusher is implemented by outputs that buffer; Run flushes them once the
// input is exhausted.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Stats summarises one run.
type Stats struct {
	Read       int64                `json:"read"`
	Written    int64                `json:"written"`
	Failed     int64                `json:"failed"`
	Dropped    int64                `json:"dropped"`
	Duplicates int64                `json:"duplicates"`
	ByDomain   map[edm.Domain]int64 `json:"by_domain"`
	Elapsed    time.Duration        `json:"elapsed_ns"`
}

// Options configures a Processor.
type Options struct {
	// Workers is the number of concurrent decoders; values below 1 mean 1.
	Workers int
	// PreserveOrder delivers results in input order.
	PreserveOrder bool
	Transform     transform.Func
	// Dedup suppresses events whose canonical encoding was already written.
	Dedup   *Deduper
	Metrics *telemetry.Provider
	Logger  zerolog.Logger
}

// Processor runs event streams. It is safe to call Run concurrently.
type Processor struct {
	opts Options
}

// New returns a Processor for opts.
func New(opts Options) *Processor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Transform == nil {
		opts.Transform = transform.Identity
	}
	return &Processor{opts: opts}
}

type result struct {
	seq     int64
	enc     *Encoded
	fail    *Failure
	dropped bool
}

// Run reads src to the end. Successful events go to out and failed records to
// errs (which may be nil). A failing record never stops the run; a failing
// output, a read error or ctx cancellation does, and the error is returned
// along with the stats gathered so far.
func (p *Processor) Run(ctx context.Context, src *Source, out Output, errs ErrorOutput) (Stats, error) {
	start := time.Now()
	stats := Stats{ByDomain: make(map[edm.Domain]int64)}

	g, gctx := errgroup.WithContext(ctx)
	records := make(chan Record, p.opts.Workers*2)
	results := make(chan result, p.opts.Workers*2)

	g.Go(func() error {
		defer close(records)
		for {
			rec, err := src.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			select {
			case records <- rec:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for rec := range records {
				select {
				case results <- p.process(rec):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	g.Go(func() error {
		return p.collect(gctx, results, out, errs, &stats)
	})

	err := g.Wait()
	if err == nil {
		err = flush(ctx, out, errs)
	}
	stats.Elapsed = time.Since(start)

	ev := p.opts.Logger.Info()
	if err != nil {
		ev = p.opts.Logger.Error().Err(err)
	}
	ev.Int64("read", stats.Read).
		Int64("written", stats.Written).
		Int64("failed", stats.Failed).
		Int64("dropped", stats.Dropped).
		Int64("duplicates", stats.Duplicates).
		Dur("elapsed", stats.Elapsed).
		Msg("pipeline run finished")

	return stats, err
}

// flush flushes each distinct output once; a sink commonly serves as both the
// event and the failure output.
func flush(ctx context.Context, outs ...any) error {
	for i, o := range outs {
		if seenBefore(o, outs[:i]) {
			continue
		}
		if f, ok := o.(Flusher); ok {
			if err := f.Flush(ctx); err != nil {
				return fmt.Errorf("flush output: %w", err)
			}
		}
	}
	return nil
}

func seenBefore(o any, prev []any) bool {
	if o == nil || !reflect.TypeOf(o).Comparable() {
		return false
	}
	for _, p := range prev {
		if p != nil && reflect.TypeOf(p) == reflect.TypeOf(o) && p == o {
			return true
		}
	}
	return false
}

func (p *Processor) process(rec Record) result {
	res := result{seq: rec.Seq}
	fail := func(kind string, err error) result {
		p.opts.Metrics.Failure(err)
		res.fail = &Failure{Seq: rec.Seq, Kind: kind, Error: err.Error(), Input: string(rec.Data)}
		return res
	}

	// rec.Data is private to this record, so the event may borrow from it.
	ev, err := edm.DecodeBorrowed(rec.Data)
	if err != nil {
		return fail(edm.KindOf(err).String(), err)
	}
	domain := ev.Domain()
	p.opts.Metrics.Event(telemetry.StageDecoded, domain)

	ev, err = p.opts.Transform(ev)
	if err != nil {
		kind := "transform"
		if k := edm.KindOf(err); k != 0 {
			kind = k.String()
		}
		return fail(kind, err)
	}
	if ev == nil {
		p.opts.Metrics.Event(telemetry.StageDropped, domain)
		res.dropped = true
		return res
	}

	data, err := edm.Encode(ev)
	if err != nil {
		return fail(edm.KindOf(err).String(), err)
	}
	res.enc = &Encoded{
		Seq:         rec.Seq,
		Domain:      ev.Domain(),
		Subject:     ev.Subject.String(),
		Concepts:    ev.Concepts,
		Data:        data,
		Fingerprint: FingerprintOf(data),
	}
	return res
}

// collect delivers results, optionally restoring input order. It runs on a
// single goroutine so stats and dedup decisions need no locking.
func (p *Processor) collect(ctx context.Context, results <-chan result, out Output, errs ErrorOutput, stats *Stats) error {
	pending := make(map[int64]result)
	var next int64

	for r := range results {
		if !p.opts.PreserveOrder {
			if err := p.deliver(ctx, r, out, errs, stats); err != nil {
				return err
			}
			continue
		}
		pending[r.seq] = r
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if err := p.deliver(ctx, r, out, errs, stats); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Processor) deliver(ctx context.Context, r result, out Output, errs ErrorOutput, stats *Stats) error {
	stats.Read++
	switch {
	case r.fail != nil:
		stats.Failed++
		p.opts.Logger.Warn().
			Int64("seq", r.fail.Seq).
			Str("kind", r.fail.Kind).
			Str("error", r.fail.Error).
			Msg("event failed")
		if errs != nil {
			if err := errs.WriteFailure(ctx, r.fail); err != nil {
				return fmt.Errorf("write failure %d: %w", r.seq, err)
			}
		}
	case r.dropped:
		stats.Dropped++
	case p.opts.Dedup.Seen(r.enc.Fingerprint):
		stats.Duplicates++
		p.opts.Metrics.Event(telemetry.StageDuplicate, r.enc.Domain)
	default:
		if err := out.WriteEvent(ctx, r.enc); err != nil {
			return fmt.Errorf("write event %d: %w", r.seq, err)
		}
		stats.Written++
		stats.ByDomain[r.enc.Domain]++
		p.opts.Metrics.Event(telemetry.StageWritten, r.enc.Domain)
	}
	return nil
}
