package sink

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edm/edm/internal/pipeline"
)

const (
	insertEvent = `INSERT INTO edm_events (fingerprint, domain, subject, concepts, event, raw, run_id)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
		ON CONFLICT (fingerprint) DO NOTHING`
	insertReject = `INSERT INTO edm_rejects (run_id, seq, kind, error, input)
		VALUES ($1, $2, $3, $4, $5)`
)

// KindUnstorable marks an encoded event that Postgres cannot hold in a
// TEXT or JSONB column. The event is kept in edm_rejects instead.
const KindUnstorable = "unstorable"

// DefaultBatchSize is the number of rows queued before a round trip.
const DefaultBatchSize = 500

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Postgres stores events in edm_events and rejected records in edm_rejects.
// Rows are queued and sent in batches; call Flush after the last write.
// Events whose fingerprint is already stored are skipped by the database.
type Postgres struct {
	db    batchSender
	runID uuid.UUID
	size  int

	mu       sync.Mutex
	batch    *pgx.Batch
	inserted int64
	rejected int64
}

// NewPostgres returns a sink over db, which is normally a *pgxpool.Pool.
func NewPostgres(db batchSender, runID uuid.UUID, batchSize int) *Postgres {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Postgres{db: db, runID: runID, size: batchSize, batch: &pgx.Batch{}}
}

func (s *Postgres) WriteEvent(ctx context.Context, ev *pipeline.Encoded) error {
	if reason := unstorable(ev.Data); reason != "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.batch.Queue(insertReject, s.runID, ev.Seq, KindUnstorable, reason, ev.Data)
		return s.maybeFlush(ctx)
	}

	concepts := ev.Concepts
	if concepts == nil {
		concepts = []string{}
	}
	raw := string(ev.Data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch.Queue(insertEvent, ev.Fingerprint[:], ev.Domain.String(), ev.Subject, concepts, raw, raw, s.runID)
	return s.maybeFlush(ctx)
}

func (s *Postgres) WriteFailure(ctx context.Context, f *pipeline.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch.Queue(insertReject, s.runID, f.Seq, f.Kind, cleanText(f.Error), []byte(f.Input))
	return s.maybeFlush(ctx)
}

func (s *Postgres) maybeFlush(ctx context.Context) error {
	if s.batch.Len() < s.size {
		return nil
	}
	return s.flushLocked(ctx)
}

// Flush sends every queued row.
func (s *Postgres) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *Postgres) flushLocked(ctx context.Context) error {
	n := s.batch.Len()
	if n == 0 {
		return nil
	}
	b := s.batch
	s.batch = &pgx.Batch{}

	br := s.db.SendBatch(ctx, b)
	for i := 0; i < n; i++ {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return fmt.Errorf("batch row %d of %d: %w", i+1, n, err)
		}
		if b.QueuedQueries[i].SQL == insertEvent {
			s.inserted += tag.RowsAffected()
		} else {
			s.rejected += tag.RowsAffected()
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	return nil
}

// Inserted returns how many event rows the database accepted; duplicates
// skipped by the unique fingerprint are not counted.
func (s *Postgres) Inserted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserted
}

// Rejected returns how many reject rows were stored.
func (s *Postgres) Rejected() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// unstorable reports why data cannot go into edm_events, or "" when it can.
// TEXT rejects NUL and invalid UTF-8; JSONB also rejects the \u0000 escape
// and unpaired surrogate escapes.
func unstorable(data []byte) string {
	if !utf8.Valid(data) {
		return "event is not valid UTF-8"
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "event contains a NUL byte"
	}
	for i := 0; i < len(data); i++ {
		if data[i] != '\\' {
			continue
		}
		if i+1 < len(data) && data[i+1] == 'u' {
			r, ok := hex4(data[i+2:])
			switch {
			case ok && r == 0:
				return `event contains a \u0000 escape`
			case ok && r >= 0xd800 && r < 0xdc00:
				lo, lok := rune(0), false
				if i+7 < len(data) && data[i+6] == '\\' && data[i+7] == 'u' {
					lo, lok = hex4(data[i+8:])
				}
				if !lok || lo < 0xdc00 || lo > 0xdfff {
					return "event contains an unpaired surrogate escape"
				}
				i += 6
			case ok && r >= 0xdc00 && r <= 0xdfff:
				return "event contains an unpaired surrogate escape"
			}
		}
		// skip the escaped character so \\u0000 is not read as an escape
		i++
	}
	return ""
}

func hex4(b []byte) (rune, bool) {
	if len(b) < 4 {
		return 0, false
	}
	var r rune
	for _, c := range b[:4] {
		switch {
		case c >= '0' && c <= '9':
			r = r<<4 | rune(c-'0')
		case c >= 'a' && c <= 'f':
			r = r<<4 | rune(c-'a'+10)
		case c >= 'A' && c <= 'F':
			r = r<<4 | rune(c-'A'+10)
		default:
			return 0, false
		}
	}
	return r, true
}

// cleanText makes s safe for a TEXT column.
func cleanText(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}
