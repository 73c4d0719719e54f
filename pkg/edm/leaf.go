package edm

import "encoding/json"

// Code is a clinical code with an optional codebook.
type Code struct {
	Code     string
	Codebook *Codebook
}

// Claim identifies the billing claim a fact came from.
type Claim struct {
	ID        string
	Type      *string
	Index     *uint32
	Procedure *string
}

// Cost carries the monetary amounts of a claim as the source recorded them.
type Cost struct {
	Charge      *string
	Cost        string
	Allowed     *string
	Transaction *string
}

// Fill describes a pharmacy dispensing.
type Fill struct {
	DaysSupply *int32
	Quantity   *int32
	Strength   *string
}

// LabValue is a lab result. Number keeps the literal it was decoded from,
// so an unchanged 1.0 is written back as 1.0 rather than 1.
type LabValue struct {
	Text   *string
	Number *float64
	Units  string

	numberLit []byte
}

func invalidKind(path string, offset int, want string, got valueKind) error {
	return decodeErr(KindInvalidFacts, path, offset, "expected %s, got %s", want, got)
}

func missingField(path string, offset int, field string) error {
	return decodeErr(KindInvalidFacts, joinPath(path, field), offset, "missing required field %q", field)
}

func unknownField(path string, offset int, field string) error {
	return decodeErr(KindInvalidFacts, joinPath(path, field), offset, "unknown field %q", field)
}

func readString(sc *scanner, path string) (string, error) {
	offset := sc.pos
	if k := sc.peek(); k != kindString {
		sc.raw()
		return "", invalidKind(path, offset, "string", k)
	}
	return sc.str(), nil
}

// readOptString treats null the same as an absent field.
func readOptString(sc *scanner, path string) (*string, error) {
	if sc.peek() == kindNull {
		sc.raw()
		return nil, nil
	}
	s, err := readString(sc, path)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func readOptUint32(sc *scanner, path string) (*uint32, error) {
	offset := sc.pos
	switch k := sc.peek(); k {
	case kindNull:
		sc.raw()
		return nil, nil
	case kindNumber:
		lit := sc.raw()
		n, ok := parseUint(lit, 32)
		if !ok {
			return nil, decodeErr(KindInvalidFacts, path, offset, "%s is not an unsigned 32-bit integer", lit)
		}
		v := uint32(n)
		return &v, nil
	default:
		sc.raw()
		return nil, invalidKind(path, offset, "unsigned integer", k)
	}
}

func readOptInt32(sc *scanner, path string) (*int32, error) {
	offset := sc.pos
	switch k := sc.peek(); k {
	case kindNull:
		sc.raw()
		return nil, nil
	case kindNumber:
		lit := sc.raw()
		n, ok := parseInt32(lit)
		if !ok {
			return nil, decodeErr(KindInvalidFacts, path, offset, "%s is not a 32-bit integer", lit)
		}
		return &n, nil
	default:
		sc.raw()
		return nil, invalidKind(path, offset, "integer", k)
	}
}

func readOptLocation(sc *scanner, path string) (*Location, error) {
	offset := sc.pos
	s, err := readOptString(sc, path)
	if err != nil || s == nil {
		return nil, err
	}
	l, ok := ParseLocation(*s)
	if !ok {
		return nil, decodeErr(KindInvalidFacts, path, offset, "unknown location %q", *s)
	}
	return &l, nil
}

func expectObject(sc *scanner, path string) error {
	offset := sc.pos
	if k := sc.peek(); k != kindObject {
		sc.raw()
		return invalidKind(path, offset, "object", k)
	}
	return nil
}

func decodeCode(sc *scanner, path string) (Code, error) {
	start := sc.pos
	if err := expectObject(sc, path); err != nil {
		return Code{}, err
	}
	var c Code
	var haveCode bool
	err := sc.object(func(key string, offset int) error {
		p := joinPath(path, key)
		switch key {
		case "code":
			s, err := readString(sc, p)
			c.Code, haveCode = s, true
			return err
		case "codebook":
			s, err := readOptString(sc, p)
			if err != nil || s == nil {
				return err
			}
			cb, ok := ParseCodebook(*s)
			if !ok {
				return decodeErr(KindInvalidFacts, p, offset, "unknown codebook %q", *s)
			}
			c.Codebook = &cb
			return nil
		}
		return unknownField(path, offset, key)
	})
	if err != nil {
		return Code{}, err
	}
	if !haveCode {
		return Code{}, missingField(path, start, "code")
	}
	return c, nil
}

func decodeClaim(sc *scanner, path string) (Claim, error) {
	start := sc.pos
	if err := expectObject(sc, path); err != nil {
		return Claim{}, err
	}
	var c Claim
	var haveID bool
	err := sc.object(func(key string, offset int) error {
		var err error
		p := joinPath(path, key)
		switch key {
		case "id":
			c.ID, err = readString(sc, p)
			haveID = true
		case "type":
			c.Type, err = readOptString(sc, p)
		case "index":
			c.Index, err = readOptUint32(sc, p)
		case "procedure":
			c.Procedure, err = readOptString(sc, p)
		default:
			err = unknownField(path, offset, key)
		}
		return err
	})
	if err != nil {
		return Claim{}, err
	}
	if !haveID {
		return Claim{}, missingField(path, start, "id")
	}
	return c, nil
}

func decodeOptClaim(sc *scanner, path string) (*Claim, error) {
	if sc.peek() == kindNull {
		sc.raw()
		return nil, nil
	}
	c, err := decodeClaim(sc, path)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func decodeOptCost(sc *scanner, path string) (*Cost, error) {
	start := sc.pos
	if sc.peek() == kindNull {
		sc.raw()
		return nil, nil
	}
	if err := expectObject(sc, path); err != nil {
		return nil, err
	}
	var c Cost
	var haveCost bool
	err := sc.object(func(key string, offset int) error {
		var err error
		p := joinPath(path, key)
		switch key {
		case "charge":
			c.Charge, err = readOptString(sc, p)
		case "cost":
			c.Cost, err = readString(sc, p)
			haveCost = true
		case "allowed":
			c.Allowed, err = readOptString(sc, p)
		case "transaction":
			c.Transaction, err = readOptString(sc, p)
		default:
			err = unknownField(path, offset, key)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !haveCost {
		return nil, missingField(path, start, "cost")
	}
	return &c, nil
}

func decodeOptFill(sc *scanner, path string) (*Fill, error) {
	if sc.peek() == kindNull {
		sc.raw()
		return nil, nil
	}
	if err := expectObject(sc, path); err != nil {
		return nil, err
	}
	var f Fill
	err := sc.object(func(key string, offset int) error {
		var err error
		p := joinPath(path, key)
		switch key {
		case "days_supply":
			f.DaysSupply, err = readOptInt32(sc, p)
		case "quantity":
			f.Quantity, err = readOptInt32(sc, p)
		case "strength":
			f.Strength, err = readOptString(sc, p)
		default:
			err = unknownField(path, offset, key)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func decodeLabValue(sc *scanner, path string) (LabValue, error) {
	start := sc.pos
	if err := expectObject(sc, path); err != nil {
		return LabValue{}, err
	}
	var v LabValue
	var haveUnits bool
	err := sc.object(func(key string, offset int) error {
		var err error
		p := joinPath(path, key)
		switch key {
		case "text":
			v.Text, err = readOptString(sc, p)
		case "number":
			switch k := sc.peek(); k {
			case kindNull:
				sc.raw()
			case kindNumber:
				lit := sc.raw()
				f, ok := parseFloat(lit)
				if !ok {
					return decodeErr(KindInvalidFacts, p, offset, "%s is out of range for a double", lit)
				}
				v.Number, v.numberLit = &f, lit
			default:
				sc.raw()
				err = invalidKind(p, offset, "number", k)
			}
		case "units":
			v.Units, err = readString(sc, p)
			haveUnits = true
		default:
			err = unknownField(path, offset, key)
		}
		return err
	})
	if err != nil {
		return LabValue{}, err
	}
	if !haveUnits {
		return LabValue{}, missingField(path, start, "units")
	}
	return v, nil
}

// readOpaque captures any JSON value verbatim, null included.
func readOpaque(sc *scanner) json.RawMessage {
	return json.RawMessage(sc.raw())
}

func appendOptString(dst []byte, key string, s *string, first bool) []byte {
	if s == nil {
		return dst
	}
	if !first {
		dst = append(dst, ',')
	}
	dst = appendKey(dst, key)
	return appendString(dst, *s)
}

func appendCode(dst []byte, c Code, path string) ([]byte, error) {
	dst = append(dst, `{"code":`...)
	dst = appendString(dst, c.Code)
	if c.Codebook != nil {
		name, ok := codebookNames[*c.Codebook]
		if !ok {
			return dst, encodeErr(joinPath(path, "codebook"), "invalid codebook %d", uint8(*c.Codebook))
		}
		dst = append(dst, `,"codebook":`...)
		dst = appendString(dst, name)
	}
	return append(dst, '}'), nil
}

func appendClaim(dst []byte, c *Claim) []byte {
	dst = append(dst, `{"id":`...)
	dst = appendString(dst, c.ID)
	dst = appendOptString(dst, "type", c.Type, false)
	if c.Index != nil {
		dst = append(dst, `,"index":`...)
		dst = appendUint(dst, uint64(*c.Index))
	}
	dst = appendOptString(dst, "procedure", c.Procedure, false)
	return append(dst, '}')
}

func appendCost(dst []byte, c *Cost) []byte {
	dst = append(dst, '{')
	dst = appendOptString(dst, "charge", c.Charge, true)
	if c.Charge != nil {
		dst = append(dst, ',')
	}
	dst = appendKey(dst, "cost")
	dst = appendString(dst, c.Cost)
	dst = appendOptString(dst, "allowed", c.Allowed, false)
	dst = appendOptString(dst, "transaction", c.Transaction, false)
	return append(dst, '}')
}

func appendFill(dst []byte, f *Fill) []byte {
	dst = append(dst, '{')
	first := true
	if f.DaysSupply != nil {
		dst = appendKey(dst, "days_supply")
		dst = appendInt(dst, int64(*f.DaysSupply))
		first = false
	}
	if f.Quantity != nil {
		if !first {
			dst = append(dst, ',')
		}
		dst = appendKey(dst, "quantity")
		dst = appendInt(dst, int64(*f.Quantity))
		first = false
	}
	dst = appendOptString(dst, "strength", f.Strength, first)
	return append(dst, '}')
}

func appendLabValue(dst []byte, v LabValue, path string) ([]byte, error) {
	dst = append(dst, '{')
	dst = appendOptString(dst, "text", v.Text, true)
	if v.Text != nil {
		dst = append(dst, ',')
	}
	if v.Number != nil {
		dst = appendKey(dst, "number")
		if f, ok := parseFloat(v.numberLit); ok && v.numberLit != nil && f == *v.Number {
			dst = append(dst, v.numberLit...)
		} else {
			var ok bool
			if dst, ok = appendFloat(dst, *v.Number); !ok {
				return dst, encodeErr(joinPath(path, "number"), "%v cannot be represented in JSON", *v.Number)
			}
		}
		dst = append(dst, ',')
	}
	dst = appendKey(dst, "units")
	dst = appendString(dst, v.Units)
	return append(dst, '}'), nil
}

func appendLocation(dst []byte, l *Location, path string) ([]byte, error) {
	if l == nil {
		return dst, nil
	}
	name, ok := locationNames[*l]
	if !ok {
		return dst, encodeErr(joinPath(path, "location"), "invalid location %d", uint8(*l))
	}
	dst = append(dst, `,"location":`...)
	return appendString(dst, name), nil
}
