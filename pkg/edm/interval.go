package edm

type intervalKind uint8

const (
	intervalUnset intervalKind = iota
	intervalInt
	intervalString
)

// Interval is the time span of a context. Both bounds share one
// representation: integer epochs or strings (usually ISO dates). The end
// is optional.
type Interval struct {
	kind     intervalKind
	begin    uint64
	end      *uint64
	beginStr string
	endStr   *string
}

// IntInterval returns an integer interval. end may be nil.
func IntInterval(begin uint64, end *uint64) Interval {
	iv := Interval{kind: intervalInt, begin: begin}
	if end != nil {
		e := *end
		iv.end = &e
	}
	return iv
}

// StringInterval returns a string interval. end may be nil.
func StringInterval(begin string, end *string) Interval {
	iv := Interval{kind: intervalString, beginStr: begin}
	if end != nil {
		e := *end
		iv.endStr = &e
	}
	return iv
}

// IsZero reports whether the Interval was never set.
func (iv Interval) IsZero() bool { return iv.kind == intervalUnset }

// IsInt reports whether the bounds are integers.
func (iv Interval) IsInt() bool { return iv.kind == intervalInt }

// Ints returns the integer bounds; ok is false for string intervals.
func (iv Interval) Ints() (begin uint64, end *uint64, ok bool) {
	return iv.begin, iv.end, iv.kind == intervalInt
}

// Strings returns the string bounds; ok is false for integer intervals.
func (iv Interval) Strings() (begin string, end *string, ok bool) {
	return iv.beginStr, iv.endStr, iv.kind == intervalString
}

// decodeInterval reads {"begin":..,"end":..}. The integer shape is tried
// before the string shape; a missing or null end is allowed in both.
func decodeInterval(sc *scanner, path string) (Interval, error) {
	start := sc.pos
	if kind := sc.peek(); kind != kindObject {
		sc.raw()
		return Interval{}, decodeErr(KindShapeMismatch, path, start, "time must be an object, got %s", kind)
	}

	var (
		beginLit, endLit   []byte
		beginKind, endKind valueKind
		beginStr, endStr   string
		haveBegin          bool
	)
	err := sc.object(func(key string, offset int) error {
		switch key {
		case "begin":
			haveBegin = true
			beginKind = sc.peek()
			if beginKind == kindString {
				beginStr = sc.str()
			} else {
				beginLit = sc.raw()
			}
		case "end":
			endKind = sc.peek()
			if endKind == kindString {
				endStr = sc.str()
			} else {
				endLit = sc.raw()
			}
		default:
			return decodeErr(KindShapeMismatch, joinPath(path, key), offset, "unknown interval field %q", key)
		}
		return nil
	})
	if err != nil {
		return Interval{}, err
	}
	if !haveBegin {
		return Interval{}, decodeErr(KindShapeMismatch, path, start, "interval has no begin")
	}
	endMissing := endKind == kindEOF || endKind == kindNull

	if beginKind == kindNumber && (endMissing || endKind == kindNumber) {
		b, ok := parseUint(beginLit, 64)
		if !ok {
			return Interval{}, decodeErr(KindShapeMismatch, joinPath(path, "begin"), start,
				"begin %s is not an unsigned 64-bit integer", beginLit)
		}
		iv := Interval{kind: intervalInt, begin: b}
		if !endMissing {
			e, ok := parseUint(endLit, 64)
			if !ok {
				return Interval{}, decodeErr(KindShapeMismatch, joinPath(path, "end"), start,
					"end %s is not an unsigned 64-bit integer", endLit)
			}
			iv.end = &e
		}
		return iv, nil
	}
	if beginKind == kindString && (endMissing || endKind == kindString) {
		iv := Interval{kind: intervalString, beginStr: beginStr}
		if !endMissing {
			iv.endStr = &endStr
		}
		return iv, nil
	}
	return Interval{}, decodeErr(KindShapeMismatch, path, start,
		"interval bounds must both be integers or both be strings, got begin %s and end %s",
		beginKind, endKind)
}

func appendInterval(dst []byte, iv Interval, path string) ([]byte, error) {
	switch iv.kind {
	case intervalInt:
		dst = append(dst, `{"begin":`...)
		dst = appendUint(dst, iv.begin)
		dst = append(dst, `,"end":`...)
		if iv.end != nil {
			dst = appendUint(dst, *iv.end)
		} else {
			dst = append(dst, "null"...)
		}
	case intervalString:
		dst = append(dst, `{"begin":`...)
		dst = appendString(dst, iv.beginStr)
		dst = append(dst, `,"end":`...)
		if iv.endStr != nil {
			dst = appendString(dst, *iv.endStr)
		} else {
			dst = append(dst, "null"...)
		}
	default:
		return dst, encodeErr(path, "interval is not set")
	}
	return append(dst, '}'), nil
}
