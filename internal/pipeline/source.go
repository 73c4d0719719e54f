package pipeline

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// MaxRecordSize bounds a single encoded event read from an input stream.
const MaxRecordSize = 64 << 20

// Record is one raw event value read from an input stream. Seq numbers start
// at zero and follow input order.
type Record struct {
	Seq  int64
	Data []byte
}

// Source splits an input stream into event records. It accepts
// newline-delimited JSON, concatenated JSON values (with or without
// whitespace in between, pretty-printed or not), and a single top-level
// array of events ("[[...],[...]]").
//
// Malformed content does not stop the stream: it is returned as a record of
// its own so the decoder reports it, and splitting resumes on the next line.
type Source struct {
	sc  *bufio.Scanner
	seq int64
	sp  splitter
}

// NewSource returns a Source reading from r.
func NewSource(r io.Reader) *Source {
	s := &Source{sc: bufio.NewScanner(r)}
	s.sc.Buffer(make([]byte, 0, 64<<10), MaxRecordSize)
	s.sc.Split(s.sp.split)
	return s
}

// Next returns the next record, or io.EOF when the stream is exhausted.
// The returned Data is owned by the caller.
func (s *Source) Next() (Record, error) {
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return Record{}, fmt.Errorf("record %d: %w", s.seq, err)
		}
		return Record{}, io.EOF
	}
	rec := Record{Seq: s.seq, Data: bytes.Clone(s.sc.Bytes())}
	s.seq++
	return rec, nil
}

type splitter struct {
	started bool
	array   bool
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (sp *splitter) skip(data []byte, i int) int {
	for i < len(data) && (isSpace(data[i]) || (sp.array && data[i] == ',')) {
		i++
	}
	return i
}

func (sp *splitter) split(data []byte, atEOF bool) (int, []byte, error) {
	// Array brackets produce no token, so keep going in the same call: the
	// scanner stops for good when it is at EOF and gets no token back.
	i := 0
	for {
		i = sp.skip(data, i)
		if i == len(data) {
			return i, nil, nil
		}

		if !sp.started {
			if data[i] == '[' {
				j := i + 1
				for j < len(data) && isSpace(data[j]) {
					j++
				}
				if j == len(data) && !atEOF {
					return i, nil, nil
				}
				sp.started = true
				if j < len(data) && data[j] == '[' {
					sp.array = true
					i++
					continue
				}
				if j < len(data) && data[j] == ']' {
					i = j + 1
					continue
				}
			}
			sp.started = true
		}

		if sp.array && data[i] == ']' {
			sp.array = false
			i++
			continue
		}

		n, ok := valueEnd(data[i:], atEOF)
		if !ok {
			if atEOF {
				return len(data), data[i:], nil
			}
			return i, nil, nil
		}
		return i + n, data[i : i+n], nil
	}
}

// valueEnd reports the length of the JSON value at the start of b. It only
// tracks nesting and string boundaries; validation is left to the decoder.
// A value that closes with the wrong bracket, or that starts with a stray
// closer, is cut at the end of its line so the next line can still be read.
func valueEnd(b []byte, atEOF bool) (int, bool) {
	switch b[0] {
	case '{', '[':
		return compositeEnd(b, atEOF)
	case '"':
		if n := stringEnd(b, 1); n > 0 {
			return n, true
		}
		return 0, false
	case '}', ']', ',', ':':
		return lineEnd(b, atEOF)
	}
	for k := 1; k < len(b); k++ {
		switch b[k] {
		case ' ', '\t', '\n', '\r', '{', '[', '}', ']', ',', '"', ':':
			return k, true
		}
	}
	if atEOF {
		return len(b), true
	}
	return 0, false
}

func compositeEnd(b []byte, atEOF bool) (int, bool) {
	stack := make([]byte, 0, 16)
	for k := 0; k < len(b); k++ {
		switch c := b[k]; c {
		case '"':
			n := stringEnd(b, k+1)
			if n == 0 {
				return 0, false
			}
			k = n - 1
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			open := byte('{')
			if c == ']' {
				open = '['
			}
			if stack[len(stack)-1] != open {
				return lineEnd(b, atEOF)
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return k + 1, true
			}
		}
	}
	return 0, false
}

// stringEnd returns the index just past the closing quote of a string whose
// body starts at from, or 0 if the string is not terminated within b.
func stringEnd(b []byte, from int) int {
	for k := from; k < len(b); k++ {
		switch b[k] {
		case '\\':
			k++
		case '"':
			return k + 1
		}
	}
	return 0
}

func lineEnd(b []byte, atEOF bool) (int, bool) {
	if n := bytes.IndexByte(b, '\n'); n >= 0 {
		if n == 0 {
			return 1, true
		}
		return n, true
	}
	if atEOF {
		return len(b), true
	}
	return 0, false
}
