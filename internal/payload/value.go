package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind identifies which member of the Value union is set.
type ValueKind uint8

// Value kinds.
const (
	KindNone ValueKind = iota
	KindFloat
	KindInt
	KindString
	KindBool
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "none"
	}
}

// Value is the untagged value carried by a State document.
//
// The zero Value is None and encodes as JSON null.
type Value struct {
	kind ValueKind
	f    float64
	i    int64
	s    string
	b    bool
}

// Float returns a float Value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Int returns an integer Value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Str returns a string Value.
func Str(v string) Value { return Value{kind: KindString, s: v} }

// Boolean returns a boolean Value.
func Boolean(v bool) Value { return Value{kind: KindBool, b: v} }

// Kind reports which member is set.
func (v Value) Kind() ValueKind { return v.kind }

// IsNone reports whether v carries no value.
func (v Value) IsNone() bool { return v.kind == KindNone }

// Float64 returns the value as a float64 when it is numeric.
func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// Text returns the string member.
func (v Value) Text() (string, bool) {
	return v.s, v.kind == KindString
}

// Bool returns the boolean member.
func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// MarshalJSON encodes the set member without a tag.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindFloat:
		return json.Marshal(v.f)
	case KindInt:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindString:
		return json.Marshal(v.s)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes an untagged value. Numbers always decode as Float,
// matching the order in which the variants are tried.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("payload: empty value")
	}

	switch data[0] {
	case 'n':
		*v = Value{}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("payload: decoding bool value: %w", err)
		}
		*v = Boolean(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("payload: decoding string value: %w", err)
		}
		*v = Str(s)
		return nil
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("payload: value is not float, int, string, bool or null: %w", err)
		}
		*v = Float(f)
		return nil
	}
}
