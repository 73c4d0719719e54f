package edm

import (
	"errors"
	"fmt"
)

// Sentinel errors for each failure class. Match them with errors.Is; the
// concrete error returned by the codec is a *DecodeError or *EncodeError.
var (
	ErrSyntax            = errors.New("edm: syntax error")
	ErrMalformedEnvelope = errors.New("edm: malformed envelope")
	ErrShapeMismatch     = errors.New("edm: shape mismatch")
	ErrUnknownDomain     = errors.New("edm: unknown domain")
	ErrInvalidFacts      = errors.New("edm: invalid facts")
	ErrEncode            = errors.New("edm: encode error")
)

// Kind classifies a codec failure.
type Kind uint8

const (
	KindSyntax Kind = iota + 1
	KindMalformedEnvelope
	KindShapeMismatch
	KindUnknownDomain
	KindInvalidFacts
	KindEncode
)

var kindNames = [...]string{
	KindSyntax:            "syntax",
	KindMalformedEnvelope: "malformed_envelope",
	KindShapeMismatch:     "shape_mismatch",
	KindUnknownDomain:     "unknown_domain",
	KindInvalidFacts:      "invalid_facts",
	KindEncode:            "encode",
}

var kindSentinels = [...]error{
	KindSyntax:            ErrSyntax,
	KindMalformedEnvelope: ErrMalformedEnvelope,
	KindShapeMismatch:     ErrShapeMismatch,
	KindUnknownDomain:     ErrUnknownDomain,
	KindInvalidFacts:      ErrInvalidFacts,
	KindEncode:            ErrEncode,
}

// String returns the stable snake_case name used in logs and metric labels.
func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// KindOf reports the Kind of a codec error, or 0 when err did not come from
// this package.
func KindOf(err error) Kind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	var ee *EncodeError
	if errors.As(err, &ee) {
		return KindEncode
	}
	return 0
}

// DecodeError describes why an input could not be decoded into an Event.
// Path locates the offending value ("context.facts.claim.id", "[4][2]").
// Offset is the byte offset into the input when it is known, -1 otherwise.
type DecodeError struct {
	Kind   Kind
	Path   string
	Offset int64
	Msg    string
}

func (e *DecodeError) Error() string {
	var prefix string
	if int(e.Kind) < len(kindSentinels) && kindSentinels[e.Kind] != nil {
		prefix = kindSentinels[e.Kind].Error()
	} else {
		prefix = "edm: decode error"
	}
	switch {
	case e.Path != "" && e.Offset >= 0:
		return fmt.Sprintf("%s at %s (offset %d): %s", prefix, e.Path, e.Offset, e.Msg)
	case e.Path != "":
		return fmt.Sprintf("%s at %s: %s", prefix, e.Path, e.Msg)
	case e.Offset >= 0:
		return fmt.Sprintf("%s (offset %d): %s", prefix, e.Offset, e.Msg)
	}
	return prefix + ": " + e.Msg
}

// Is lets errors.Is match a DecodeError against the sentinel for its Kind.
func (e *DecodeError) Is(target error) bool {
	return int(e.Kind) < len(kindSentinels) && kindSentinels[e.Kind] == target
}

// EncodeError reports an invariant violation found while re-emitting a value.
// Values produced by a successful decode never trigger it.
type EncodeError struct {
	Path string
	Msg  string
}

func (e *EncodeError) Error() string {
	if e.Path == "" {
		return ErrEncode.Error() + ": " + e.Msg
	}
	return fmt.Sprintf("%s at %s: %s", ErrEncode.Error(), e.Path, e.Msg)
}

func (e *EncodeError) Is(target error) bool { return target == ErrEncode }

func decodeErr(kind Kind, path string, offset int, format string, args ...any) *DecodeError {
	return &DecodeError{
		Kind:   kind,
		Path:   path,
		Offset: int64(offset),
		Msg:    fmt.Sprintf(format, args...),
	}
}

func encodeErr(path, format string, args ...any) *EncodeError {
	return &EncodeError{Path: path, Msg: fmt.Sprintf(format, args...)}
}
