package canon

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// ErrFloat is returned when a floating-point value reaches the hashed
// surface. Canonicalization never accepts floats; fixed-point integers or
// decimal strings must be used instead.
var ErrFloat = errors.New("floating-point values are forbidden in canonical values")

// Marshal produces the canonical byte string for a value.
// CRITICAL: This is the ONLY serialization that may feed hash computation.
//
// Rules:
//  1. Object keys sorted by Unicode code point
//  2. No insignificant whitespace; "," between items, ":" between key and value
//  3. Strings NFC normalized, emitted as UTF-8; only quote, backslash, and
//     control characters below U+0020 are escaped
//  4. Arrays preserve insertion order
//  5. Integers as canonical decimal - no leading zeros, no unary plus
//  6. true / false / null have a single spelling
//
// Marshal(v) == Marshal(v') iff v and v' are semantically equal.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := marshalTo(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustMarshal is like Marshal but panics on error. Use only in tests or when
// the value is known to be well formed.
func MustMarshal(v Value) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func marshalTo(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("nil Value is not canonicalizable; use canon.Null")
	case Null:
		buf.WriteString("null")
		return nil
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case String:
		marshalString(buf, string(val))
		return nil
	case Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalTo(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
		return nil
	case Object:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			marshalString(buf, k)
			buf.WriteByte(':')
			if err := marshalTo(buf, val[k]); err != nil {
				return fmt.Errorf("object[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("unsupported canonical type: %T", v)
	}
}

const hexDigits = "0123456789abcdef"

// marshalString emits a canonical JSON string. Non-ASCII runes pass through
// as UTF-8 unescaped; only the quote, the backslash, and control characters
// below U+0020 require escaping.
func marshalString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[byte(r)>>4])
				buf.WriteByte(hexDigits[byte(r)&0xf])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}
