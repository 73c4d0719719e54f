// Package sink writes processed events and rejected records to their
// destinations.
package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/edm/edm/internal/pipeline"
)

// NDJSON writes one canonical event per line.
type NDJSON struct {
	mu sync.Mutex
	w  *bufio.Writer
	c  io.Closer
}

// NewNDJSON returns a sink writing to w. If w is an io.Closer, Close closes it.
func NewNDJSON(w io.Writer) *NDJSON {
	s := &NDJSON{w: bufio.NewWriterSize(w, 64<<10)}
	if c, ok := w.(io.Closer); ok {
		s.c = c
	}
	return s
}

func (s *NDJSON) WriteEvent(_ context.Context, ev *pipeline.Encoded) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(ev.Data); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

func (s *NDJSON) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// Close flushes buffered lines and closes the underlying writer.
func (s *NDJSON) Close() error {
	return closeBuffered(&s.mu, s.w, s.c)
}

// Errors writes one JSON object per failed record:
// {"seq":..,"kind":..,"error":..,"input":..}.
type Errors struct {
	mu sync.Mutex
	w  *bufio.Writer
	c  io.Closer
}

// NewErrors returns an error sink writing to w. If w is an io.Closer, Close
// closes it.
func NewErrors(w io.Writer) *Errors {
	s := &Errors{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.c = c
	}
	return s
}

func (s *Errors) WriteFailure(_ context.Context, f *pipeline.Failure) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

func (s *Errors) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

func (s *Errors) Close() error {
	return closeBuffered(&s.mu, s.w, s.c)
}

func closeBuffered(mu *sync.Mutex, w *bufio.Writer, c io.Closer) error {
	mu.Lock()
	defer mu.Unlock()
	err := w.Flush()
	if c != nil {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type compressedFile struct {
	io.WriteCloser
	f *os.File
}

func (c compressedFile) Close() error {
	err := c.WriteCloser.Close()
	if ferr := c.f.Close(); err == nil {
		err = ferr
	}
	return err
}

// Create opens path for writing, compressing with gzip for ".gz" and zstd
// for ".zst" or ".zstd". The path "-" writes to standard output, which is
// never closed.
func Create(path string) (io.WriteCloser, error) {
	if path == "-" || path == "" {
		return nopCloser{os.Stdout}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	switch filepath.Ext(path) {
	case ".gz":
		return compressedFile{WriteCloser: gzip.NewWriter(f), f: f}, nil
	case ".zst", ".zstd":
		zw, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open zstd writer: %w", err)
		}
		return compressedFile{WriteCloser: zw, f: f}, nil
	default:
		return f, nil
	}
}
