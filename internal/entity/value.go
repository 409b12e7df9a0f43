package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// Kind is the type tag stored alongside every cached value.
type Kind string

// Kinds of cached value.
const (
	KindString    Kind = "string"
	KindInteger   Kind = "integer"
	KindFloat     Kind = "float"
	KindBoolean   Kind = "boolean"
	KindTimestamp Kind = "timestamp"
	KindMapping   Kind = "mapping"
	KindSequence  Kind = "sequence"
)

// Value is an attribute or state value together with its Kind.
//
// The Go representation per Kind is fixed: string, int64, float64, bool,
// time.Time (UTC), map[string]any, and []any. Numbers nested inside a
// mapping or sequence are float64, matching JSON.
type Value struct {
	kind Kind
	v    any
}

// NewValue converts a Go value into a Value. json.Number is split into
// KindInteger or KindFloat by its literal.
func NewValue(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case string:
		return Value{KindString, t}, nil
	case bool:
		return Value{KindBoolean, t}, nil
	case int:
		return Value{KindInteger, int64(t)}, nil
	case int8:
		return Value{KindInteger, int64(t)}, nil
	case int16:
		return Value{KindInteger, int64(t)}, nil
	case int32:
		return Value{KindInteger, int64(t)}, nil
	case int64:
		return Value{KindInteger, t}, nil
	case uint8:
		return Value{KindInteger, int64(t)}, nil
	case uint16:
		return Value{KindInteger, int64(t)}, nil
	case uint32:
		return Value{KindInteger, int64(t)}, nil
	case float32:
		return Value{KindFloat, float64(t)}, nil
	case float64:
		return Value{KindFloat, t}, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Value{KindInteger, i}, nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: number %q", ErrUnsupportedValue, t)
		}
		return Value{KindFloat, f}, nil
	case time.Time:
		return Value{KindTimestamp, t.UTC().Round(0)}, nil
	case map[string]any:
		m, err := normalizeNested(t)
		if err != nil {
			return Value{}, err
		}
		return Value{KindMapping, m}, nil
	case []any:
		s, err := normalizeNested(t)
		if err != nil {
			return Value{}, err
		}
		return Value{KindSequence, s}, nil
	case []string:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = e
		}
		return Value{KindSequence, s}, nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, x)
	}
}

// MustValue is NewValue for literals. It panics on unsupported types.
func MustValue(x any) Value {
	v, err := NewValue(x)
	if err != nil {
		panic(err)
	}
	return v
}

// normalizeNested round-trips x through JSON so nested numbers become
// float64 and nested types are the ones decoding will produce.
func normalizeNested[T map[string]any | []any](x T) (T, error) {
	var out T
	b, err := json.Marshal(x)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return out, nil
}

// Kind returns the type tag. The zero Value has an empty Kind.
func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether v holds nothing.
func (v Value) IsZero() bool { return v.kind == "" }

// Any returns the underlying Go value.
func (v Value) Any() any { return v.v }

// Str returns the string and true when v is KindString.
func (v Value) Str() (string, bool) {
	s, ok := v.v.(string)
	return s, ok && v.kind == KindString
}

// Int returns the integer and true when v is KindInteger.
func (v Value) Int() (int64, bool) {
	i, ok := v.v.(int64)
	return i, ok
}

// Float returns v as float64 for KindFloat and KindInteger.
func (v Value) Float() (float64, bool) {
	switch t := v.v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// Bool returns the boolean and true when v is KindBoolean.
func (v Value) Bool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok
}

// Time returns the timestamp and true when v is KindTimestamp.
func (v Value) Time() (time.Time, bool) {
	t, ok := v.v.(time.Time)
	return t, ok
}

// Map returns the mapping and true when v is KindMapping.
func (v Value) Map() (map[string]any, bool) {
	m, ok := v.v.(map[string]any)
	return m, ok
}

// Slice returns the sequence and true when v is KindSequence.
func (v Value) Slice() ([]any, bool) {
	s, ok := v.v.([]any)
	return s, ok
}

// Equal reports whether v and o carry the same Kind and logical value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if a, ok := v.Time(); ok {
		b, _ := o.Time()
		return a.Equal(b)
	}
	return reflect.DeepEqual(v.v, o.v)
}

// String renders v the way it is stored in the "value" field of the
// type-tagged encoding.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.v.(string)
	case KindInteger:
		return strconv.FormatInt(v.v.(int64), 10)
	case KindFloat:
		return strconv.FormatFloat(v.v.(float64), 'g', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.v.(bool))
	case KindTimestamp:
		return v.v.(time.Time).Format(time.RFC3339Nano)
	case KindMapping, KindSequence:
		b, _ := json.Marshal(v.v)
		return string(b)
	}
	return ""
}

// encoded is the type-tagged wire form stored in the cache.
type encoded struct {
	Value string `json:"value"`
	Type  Kind   `json:"type"`
}

// Encode returns the type-tagged JSON form {"value": "...", "type": "..."}.
func (v Value) Encode() ([]byte, error) {
	if v.IsZero() {
		return nil, fmt.Errorf("%w: zero value", ErrUnsupportedValue)
	}
	return json.Marshal(encoded{Value: v.String(), Type: v.kind})
}

// DecodeValue parses the output of Encode.
func DecodeValue(b []byte) (Value, error) {
	var e encoded
	if err := json.Unmarshal(b, &e); err != nil {
		return Value{}, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}
	v, err := parseTagged(e.Value, e.Type)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %s %q: %w", ErrInvalidEncoding, e.Type, e.Value, err)
	}
	return v, nil
}

func parseTagged(s string, kind Kind) (Value, error) {
	switch kind {
	case KindString:
		return Value{kind, s}, nil
	case KindInteger:
		i, err := strconv.ParseInt(s, 10, 64)
		return Value{kind, i}, err
	case KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		return Value{kind, f}, err
	case KindBoolean:
		b, err := strconv.ParseBool(s)
		return Value{kind, b}, err
	case KindTimestamp:
		t, err := time.Parse(time.RFC3339Nano, s)
		return Value{kind, t.UTC()}, err
	case KindMapping:
		var m map[string]any
		err := json.Unmarshal([]byte(s), &m)
		return Value{kind, m}, err
	case KindSequence:
		var a []any
		err := json.Unmarshal([]byte(s), &a)
		return Value{kind, a}, err
	}
	return Value{}, fmt.Errorf("unknown type tag")
}

// MarshalJSON renders v as its plain JSON value, untagged.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}

// ValueFromJSON decodes a raw JSON attribute into a Value. Strings that
// parse as RFC 3339 timestamps become KindTimestamp. A JSON null yields the
// zero Value and no error.
func ValueFromJSON(raw json.RawMessage) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return Value{}, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}
	return fromDecoded(x)
}

// fromDecoded builds a Value from the output of a UseNumber decoder.
func fromDecoded(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, nil
	case string:
		if ts, ok := parseTimestamp(t); ok {
			return Value{KindTimestamp, ts}, nil
		}
		return Value{KindString, t}, nil
	}
	return NewValue(x)
}

func parseTimestamp(s string) (time.Time, bool) {
	// Cheap reject before time.Parse: RFC 3339 starts with YYYY-MM-DDT.
	if len(s) < 20 || s[4] != '-' || s[10] != 'T' {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
