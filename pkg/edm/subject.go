package edm

import "strconv"

type subjectKind uint8

const (
	subjectUnset subjectKind = iota
	subjectInt
	subjectString
)

// Subject identifies the patient an event belongs to. Producers emit it
// either as a JSON number or as a JSON string; Subject remembers which so
// that 123 is re-encoded as 123 and "123" as "123".
type Subject struct {
	kind subjectKind
	n    uint64
	s    string
}

// SubjectInt returns a numeric subject identifier.
func SubjectInt(n uint64) Subject { return Subject{kind: subjectInt, n: n} }

// SubjectString returns a textual subject identifier.
func SubjectString(s string) Subject { return Subject{kind: subjectString, s: s} }

// IsZero reports whether the Subject was never set.
func (s Subject) IsZero() bool { return s.kind == subjectUnset }

// IsInt reports whether the identifier is numeric.
func (s Subject) IsInt() bool { return s.kind == subjectInt }

// Int returns the numeric identifier; ok is false for string identifiers.
func (s Subject) Int() (n uint64, ok bool) { return s.n, s.kind == subjectInt }

// Text returns the string identifier; ok is false for numeric identifiers.
func (s Subject) Text() (v string, ok bool) { return s.s, s.kind == subjectString }

// String renders the identifier without JSON quoting, which is what logs
// and storage keys want regardless of the wire representation.
func (s Subject) String() string {
	if s.kind == subjectInt {
		return strconv.FormatUint(s.n, 10)
	}
	return s.s
}

// decodeSubject reads a subject identifier. Numbers are tried first, then
// strings; the JSON kind decides, so "123" stays a string.
func decodeSubject(sc *scanner, path string) (Subject, error) {
	offset := sc.pos
	switch kind := sc.peek(); kind {
	case kindNumber:
		lit := sc.raw()
		n, ok := parseUint(lit, 64)
		if !ok {
			return Subject{}, decodeErr(KindShapeMismatch, path, offset,
				"subject number %s is not an unsigned 64-bit integer", lit)
		}
		return SubjectInt(n), nil
	case kindString:
		return SubjectString(sc.str()), nil
	default:
		sc.raw()
		return Subject{}, decodeErr(KindShapeMismatch, path, offset,
			"subject must be a number or a string, got %s", kind)
	}
}

func appendSubject(dst []byte, s Subject, path string) ([]byte, error) {
	switch s.kind {
	case subjectInt:
		return appendUint(dst, s.n), nil
	case subjectString:
		return appendString(dst, s.s), nil
	}
	return dst, encodeErr(path, "subject is not set")
}
