package edm

import (
	"bytes"
	"math"
	"strconv"
)

const hexDigits = "0123456789abcdef"

// appendString writes s as a JSON string. Only the quote, the backslash and
// control characters are escaped; other bytes, including non-ASCII UTF-8,
// are written as they are. This matches what upstream event producers emit,
// so their strings survive a round trip unchanged.
func appendString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' {
			continue
		}
		dst = append(dst, s[start:i]...)
		switch c {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		default:
			dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
		}
		start = i + 1
	}
	dst = append(dst, s[start:]...)
	return append(dst, '"')
}

func appendKey(dst []byte, key string) []byte {
	dst = append(dst, '"')
	dst = append(dst, key...)
	return append(dst, '"', ':')
}

// appendFloat formats f with the shortest representation that parses back
// to the same value. Integral values keep a ".0" so they still read as
// floating point. Exponents are written without a plus sign or leading
// zeros (1e20, 1.5e-7).
func appendFloat(dst []byte, f float64) ([]byte, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return dst, false
	}
	start := len(dst)
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-5 || abs >= 1e16) {
		var tmp [32]byte
		b := strconv.AppendFloat(tmp[:0], f, 'e', -1, 64)
		e := bytes.IndexByte(b, 'e')
		dst = append(dst, b[:e+1]...)
		exp := b[e+1:]
		if exp[0] == '-' {
			dst = append(dst, '-')
		}
		exp = bytes.TrimLeft(exp[1:], "0")
		return append(dst, exp...), true
	}
	dst = strconv.AppendFloat(dst, f, 'f', -1, 64)
	for _, c := range dst[start:] {
		if c == '.' {
			return dst, true
		}
	}
	return append(dst, '.', '0'), true
}

func appendUint(dst []byte, n uint64) []byte {
	return strconv.AppendUint(dst, n, 10)
}

func appendInt(dst []byte, n int64) []byte {
	return strconv.AppendInt(dst, n, 10)
}
