package edm

import "encoding/json"

// Context is the structured payload of an Event. Its domain is the domain
// of Facts; there is no separate tag to keep in sync.
type Context struct {
	Subject Subject
	Time    Interval
	Facts   Facts

	// Source and Misc are producer attachments carried verbatim. nil means
	// the field was absent; a literal null is kept as "null".
	Source json.RawMessage
	Misc   json.RawMessage
}

// Domain returns the domain of c's facts, or 0 when Facts is nil (including
// a nil pointer to a facts type).
func (c *Context) Domain() Domain {
	if c == nil {
		return 0
	}
	return factsDomain(c.Facts)
}

// decodeContext reads the context object at the scanner position. facts
// may come before domain in the input, so its span is remembered and
// decoded once the tag is known.
func decodeContext(sc *scanner, path string) (Context, error) {
	start := sc.pos
	if k := sc.peek(); k != kindObject {
		sc.raw()
		return Context{}, decodeErr(KindMalformedEnvelope, path, start, "context must be an object, got %s", k)
	}

	var (
		ctx                   Context
		tag                   string
		tagOffset             int
		haveSubject, haveTime bool
		haveTag               bool
	)
	factsPos := -1
	err := sc.object(func(key string, offset int) error {
		p := joinPath(path, key)
		var err error
		switch key {
		case "patient_id":
			ctx.Subject, err = decodeSubject(sc, p)
			haveSubject = true
		case "time":
			ctx.Time, err = decodeInterval(sc, p)
			haveTime = true
		case "domain":
			if k := sc.peek(); k != kindString {
				sc.raw()
				return decodeErr(KindMalformedEnvelope, p, offset, "domain must be a string, got %s", k)
			}
			tag, tagOffset, haveTag = sc.str(), offset, true
		case "facts":
			factsPos = offset
			sc.raw()
		case "source":
			ctx.Source = readOpaque(sc)
		case "misc":
			ctx.Misc = readOpaque(sc)
		default:
			// Producers may attach fields of their own; they are skipped and
			// not re-encoded.
			sc.raw()
		}
		return err
	})
	if err != nil {
		return Context{}, err
	}

	switch {
	case !haveSubject:
		return Context{}, decodeErr(KindMalformedEnvelope, joinPath(path, "patient_id"), start, "missing patient_id")
	case !haveTime:
		return Context{}, decodeErr(KindMalformedEnvelope, joinPath(path, "time"), start, "missing time")
	case !haveTag:
		return Context{}, decodeErr(KindMalformedEnvelope, joinPath(path, "domain"), start, "missing domain")
	}
	if _, ok := ParseDomain(tag); !ok {
		return Context{}, decodeErr(KindUnknownDomain, joinPath(path, "domain"), tagOffset, "unknown domain %q", tag)
	}
	if factsPos < 0 {
		return Context{}, decodeErr(KindInvalidFacts, joinPath(path, "facts"), start, "missing facts")
	}

	fsc := &scanner{data: sc.data, pos: factsPos}
	ctx.Facts, err = decodeFacts(fsc, tag, tagOffset, joinPath(path, "facts"))
	if err != nil {
		return Context{}, err
	}
	return ctx, nil
}

func appendContext(dst []byte, c *Context, path string) ([]byte, error) {
	d := factsDomain(c.Facts)
	if d == 0 {
		return dst, encodeErr(joinPath(path, "facts"), "facts are not set")
	}
	if !d.Valid() {
		return dst, encodeErr(joinPath(path, "domain"), "invalid domain %d", uint8(d))
	}

	var err error
	dst = append(dst, `{"patient_id":`...)
	if dst, err = appendSubject(dst, c.Subject, joinPath(path, "patient_id")); err != nil {
		return dst, err
	}
	dst = append(dst, `,"time":`...)
	if dst, err = appendInterval(dst, c.Time, joinPath(path, "time")); err != nil {
		return dst, err
	}
	dst = append(dst, `,"domain":`...)
	dst = appendString(dst, d.String())
	dst = append(dst, `,"facts":`...)
	if dst, err = c.Facts.appendFacts(dst, joinPath(path, "facts")); err != nil {
		return dst, err
	}
	if dst, err = appendOpaque(dst, "source", c.Source, path); err != nil {
		return dst, err
	}
	if dst, err = appendOpaque(dst, "misc", c.Misc, path); err != nil {
		return dst, err
	}
	return append(dst, '}'), nil
}

func appendOpaque(dst []byte, key string, raw json.RawMessage, path string) ([]byte, error) {
	if raw == nil {
		return dst, nil
	}
	if !json.Valid(raw) {
		return dst, encodeErr(joinPath(path, key), "%s is not valid JSON", key)
	}
	dst = append(dst, ',')
	dst = appendKey(dst, key)
	return append(dst, raw...), nil
}

// DecodeContext decodes a standalone context object. Like Decode, it copies
// data before decoding.
func DecodeContext(data []byte) (*Context, error) {
	if err := checkSyntax(data); err != nil {
		return nil, err
	}
	buf := append([]byte(nil), data...)
	sc := &scanner{data: buf}
	ctx, err := decodeContext(sc, "")
	if err != nil {
		return nil, err
	}
	return &ctx, nil
}

// EncodeContext encodes c as a standalone JSON object.
func EncodeContext(c *Context) ([]byte, error) {
	if c == nil {
		return nil, encodeErr("", "nil context")
	}
	return appendContext(make([]byte, 0, 256), c, "")
}

func (c Context) MarshalJSON() ([]byte, error) {
	return EncodeContext(&c)
}

func (c *Context) UnmarshalJSON(data []byte) error {
	v, err := DecodeContext(data)
	if err != nil {
		return err
	}
	*c = *v
	return nil
}
