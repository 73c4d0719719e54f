package edm

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// scanner walks a buffer that has already passed json.Valid. Because the
// input is known to be well formed it only has to track positions: every
// value it hands out is a subslice of data, so opaque spans are captured
// without copying.
type scanner struct {
	data []byte
	pos  int
}

type valueKind uint8

const (
	kindEOF valueKind = iota
	kindObject
	kindArray
	kindString
	kindNumber
	kindBool
	kindNull
)

func (k valueKind) String() string {
	switch k {
	case kindObject:
		return "object"
	case kindArray:
		return "array"
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	case kindBool:
		return "boolean"
	case kindNull:
		return "null"
	}
	return "end of input"
}

// checkSyntax reports a *DecodeError with the byte offset of the first
// syntax error in data.
func checkSyntax(data []byte) error {
	if json.Valid(data) {
		return nil
	}
	var raw json.RawMessage
	err := json.Unmarshal(data, &raw)
	if se, ok := err.(*json.SyntaxError); ok {
		return decodeErr(KindSyntax, "", int(se.Offset), "%s", se.Error())
	}
	if err == nil {
		return decodeErr(KindSyntax, "", -1, "invalid JSON")
	}
	return decodeErr(KindSyntax, "", -1, "%s", err.Error())
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.data) && isSpace(s.data[s.pos]) {
		s.pos++
	}
}

func (s *scanner) peek() valueKind {
	s.skipSpace()
	if s.pos >= len(s.data) {
		return kindEOF
	}
	switch s.data[s.pos] {
	case '{':
		return kindObject
	case '[':
		return kindArray
	case '"':
		return kindString
	case 't', 'f':
		return kindBool
	case 'n':
		return kindNull
	}
	return kindNumber
}

// raw consumes one value and returns its exact bytes.
func (s *scanner) raw() []byte {
	s.skipSpace()
	start := s.pos
	switch s.data[s.pos] {
	case '"':
		s.skipString()
	case '{', '[':
		s.skipComposite()
	default:
		for s.pos < len(s.data) {
			c := s.data[s.pos]
			if c == ',' || c == '}' || c == ']' || isSpace(c) {
				break
			}
			s.pos++
		}
	}
	return s.data[start:s.pos]
}

// skipString advances past the string starting at s.pos and reports whether
// it contained any escape sequence.
func (s *scanner) skipString() bool {
	escaped := false
	i := s.pos + 1
	for i < len(s.data) {
		switch s.data[i] {
		case '\\':
			escaped = true
			i += 2
			continue
		case '"':
			s.pos = i + 1
			return escaped
		}
		i++
	}
	s.pos = len(s.data)
	return escaped
}

func (s *scanner) skipComposite() {
	depth := 0
	for s.pos < len(s.data) {
		switch s.data[s.pos] {
		case '"':
			s.skipString()
			continue
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				s.pos++
				return
			}
		}
		s.pos++
	}
}

// str consumes a string value. Strings without escapes are copied straight
// out of the buffer; the rest go through encoding/json for unescaping.
func (s *scanner) str() string {
	s.skipSpace()
	start := s.pos
	if !s.skipString() {
		return string(s.data[start+1 : s.pos-1])
	}
	var out string
	// The span is valid JSON, so this cannot fail.
	_ = json.Unmarshal(s.data[start:s.pos], &out)
	return out
}

// object iterates the members of the object at the current position. fn
// must consume exactly one value.
func (s *scanner) object(fn func(key string, offset int) error) error {
	s.skipSpace()
	s.pos++ // '{'
	s.skipSpace()
	if s.data[s.pos] == '}' {
		s.pos++
		return nil
	}
	for {
		s.skipSpace()
		key := s.str()
		s.skipSpace()
		s.pos++ // ':'
		s.skipSpace()
		if err := fn(key, s.pos); err != nil {
			return err
		}
		s.skipSpace()
		c := s.data[s.pos]
		s.pos++
		if c == '}' {
			return nil
		}
	}
}

// array iterates the elements of the array at the current position. fn must
// consume exactly one value.
func (s *scanner) array(fn func(i int) error) error {
	s.skipSpace()
	s.pos++ // '['
	s.skipSpace()
	if s.data[s.pos] == ']' {
		s.pos++
		return nil
	}
	for i := 0; ; i++ {
		s.skipSpace()
		if err := fn(i); err != nil {
			return err
		}
		s.skipSpace()
		c := s.data[s.pos]
		s.pos++
		if c == ']' {
			return nil
		}
	}
}

// parseUint parses a JSON number literal that must be a non-negative
// integer fitting in bits.
func parseUint(lit []byte, bits int) (uint64, bool) {
	if len(lit) == 0 {
		return 0, false
	}
	max := uint64(math.MaxUint64)
	if bits < 64 {
		max = 1<<uint(bits) - 1
	}
	var n uint64
	for _, c := range lit {
		if c < '0' || c > '9' {
			return 0, false
		}
		d := uint64(c - '0')
		if n > (max-d)/10 {
			return 0, false
		}
		n = n*10 + d
	}
	return n, true
}

// parseInt32 parses a JSON number literal that must be an integer in the
// int32 range.
func parseInt32(lit []byte) (int32, bool) {
	neg := false
	if len(lit) > 0 && lit[0] == '-' {
		neg = true
		lit = lit[1:]
	}
	n, ok := parseUint(lit, 32)
	if !ok {
		return 0, false
	}
	if neg {
		if n > 1<<31 {
			return 0, false
		}
		return int32(-int64(n)), true
	}
	if n > math.MaxInt32 {
		return 0, false
	}
	return int32(n), true
}

func parseFloat(lit []byte) (float64, bool) {
	f, err := strconv.ParseFloat(string(lit), 64)
	return f, err == nil
}

// isScalar reports whether a raw span is a JSON string, number, boolean or
// null.
func isScalar(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] != '{' && raw[0] != '['
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func indexPath(parent string, i int) string {
	return parent + "[" + strconv.Itoa(i) + "]"
}
