package edm

import (
	"bytes"
	"encoding/json"
)

// envelopeCells is the arity of the positional event array:
// [subject, begin, end, domain, concepts, context].
const envelopeCells = 6

// Event is one positionally encoded clinical record.
//
// Begin and End are captured verbatim because producers write either epoch
// integers or date strings there. End is "null" when the source wrote null.
type Event struct {
	Subject  Subject
	Begin    json.RawMessage
	End      json.RawMessage
	Concepts []string
	Context  Context
}

// Domain returns the domain of the event's facts.
func (e *Event) Domain() Domain {
	if e == nil {
		return 0
	}
	return e.Context.Domain()
}

// Decode parses one event. data is copied first, so the returned Event does
// not alias the caller's buffer.
func Decode(data []byte) (*Event, error) {
	if err := checkSyntax(data); err != nil {
		return nil, err
	}
	return decodeEvent(append([]byte(nil), data...))
}

// DecodeString parses one event from s.
func DecodeString(s string) (*Event, error) {
	data := []byte(s)
	if err := checkSyntax(data); err != nil {
		return nil, err
	}
	return decodeEvent(data)
}

// DecodeBorrowed parses one event without copying data. The opaque fields
// of the returned Event (Begin, End, Context.Source, Context.Misc,
// DemographicsFacts.Info and LabValue literals) point into data, so data
// must not be modified while the Event is in use.
func DecodeBorrowed(data []byte) (*Event, error) {
	if err := checkSyntax(data); err != nil {
		return nil, err
	}
	return decodeEvent(data)
}

func decodeEvent(data []byte) (*Event, error) {
	sc := &scanner{data: data}
	if k := sc.peek(); k != kindArray {
		return nil, decodeErr(KindMalformedEnvelope, "", sc.pos, "event must be a %d-element array, got %s", envelopeCells, k)
	}

	var (
		ev     Event
		tag    string
		tagPos int
	)
	cells := 0
	err := sc.array(func(i int) error {
		offset := sc.pos
		cells++
		switch i {
		case 0:
			s, err := decodeSubject(sc, "subject")
			if err != nil {
				return err
			}
			ev.Subject = s
		case 1, 2:
			name := "begin"
			if i == 2 {
				name = "end"
			}
			raw := readOpaque(sc)
			if !isScalar(raw) {
				return decodeErr(KindMalformedEnvelope, name, offset, "%s must be a JSON scalar", name)
			}
			if i == 1 {
				ev.Begin = raw
			} else {
				ev.End = raw
			}
		case 3:
			if k := sc.peek(); k != kindString {
				sc.raw()
				return decodeErr(KindMalformedEnvelope, "domain", offset, "domain must be a string, got %s", k)
			}
			tag, tagPos = sc.str(), offset
		case 4:
			concepts, err := decodeConcepts(sc, "concepts")
			if err != nil {
				return err
			}
			ev.Concepts = concepts
		case 5:
			ctx, err := decodeContext(sc, "context")
			if err != nil {
				return err
			}
			ev.Context = ctx
		default:
			return decodeErr(KindMalformedEnvelope, "", offset, "event has more than %d elements", envelopeCells)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cells != envelopeCells {
		return nil, decodeErr(KindMalformedEnvelope, "", 0, "event has %d elements, want %d", cells, envelopeCells)
	}

	d, ok := ParseDomain(tag)
	if !ok {
		return nil, decodeErr(KindUnknownDomain, "domain", tagPos, "unknown domain %q", tag)
	}
	if cd := ev.Context.Domain(); cd != d {
		return nil, decodeErr(KindMalformedEnvelope, "domain", tagPos,
			"envelope domain %s does not match context domain %s", d, cd)
	}
	return &ev, nil
}

func decodeConcepts(sc *scanner, path string) ([]string, error) {
	offset := sc.pos
	if k := sc.peek(); k != kindArray {
		sc.raw()
		return nil, decodeErr(KindMalformedEnvelope, path, offset, "concepts must be an array, got %s", k)
	}
	var out []string
	err := sc.array(func(i int) error {
		pos := sc.pos
		if k := sc.peek(); k != kindString {
			sc.raw()
			return decodeErr(KindMalformedEnvelope, indexPath(path, i), pos, "concept must be a string, got %s", k)
		}
		out = append(out, sc.str())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Encode returns the compact positional encoding of e.
func Encode(e *Event) ([]byte, error) {
	return AppendEvent(make([]byte, 0, 512), e)
}

// EncodeString is Encode returning a string.
func EncodeString(e *Event) (string, error) {
	b, err := Encode(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// AppendEvent appends the encoding of e to dst. On error the returned slice
// holds a partial encoding and should be discarded.
func AppendEvent(dst []byte, e *Event) ([]byte, error) {
	if e == nil {
		return dst, encodeErr("", "nil event")
	}
	var err error
	dst = append(dst, '[')
	if dst, err = appendSubject(dst, e.Subject, "subject"); err != nil {
		return dst, err
	}
	dst = append(dst, ',')
	if dst, err = appendCell(dst, "begin", e.Begin, false); err != nil {
		return dst, err
	}
	dst = append(dst, ',')
	if dst, err = appendCell(dst, "end", e.End, true); err != nil {
		return dst, err
	}
	dst = append(dst, ',')

	d := e.Context.Domain()
	if !d.Valid() {
		return dst, encodeErr("context.facts", "facts are not set")
	}
	dst = appendString(dst, d.String())

	dst = append(dst, ",["...)
	for i, c := range e.Concepts {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = appendString(dst, c)
	}
	dst = append(dst, "],"...)

	if dst, err = appendContext(dst, &e.Context, "context"); err != nil {
		return dst, err
	}
	return append(dst, ']'), nil
}

func appendCell(dst []byte, name string, raw json.RawMessage, nullable bool) ([]byte, error) {
	if raw == nil {
		if nullable {
			return append(dst, "null"...), nil
		}
		return dst, encodeErr(name, "%s is not set", name)
	}
	if !json.Valid(raw) || !isScalar(raw) {
		return dst, encodeErr(name, "%s must be a JSON scalar, got %q", name, bytes.TrimSpace(raw))
	}
	return append(dst, raw...), nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	return Encode(&e)
}

// UnmarshalJSON decodes an owned copy, since encoding/json may reuse data.
func (e *Event) UnmarshalJSON(data []byte) error {
	v, err := Decode(data)
	if err != nil {
		return err
	}
	*e = *v
	return nil
}
