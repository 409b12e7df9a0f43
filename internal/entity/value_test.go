package entity

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewValue_Kinds(t *testing.T) {
	ts := time.Date(2026, 3, 1, 6, 30, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name string
		in   any
		want Kind
	}{
		{"string", "on", KindString},
		{"int", 3, KindInteger},
		{"int64", int64(-7), KindInteger},
		{"float", 21.5, KindFloat},
		{"bool", true, KindBoolean},
		{"time", ts, KindTimestamp},
		{"map", map[string]any{"r": 1}, KindMapping},
		{"slice", []any{"a", 1}, KindSequence},
		{"strings", []string{"a", "b"}, KindSequence},
		{"json integer", json.Number("42"), KindInteger},
		{"json float", json.Number("4.2"), KindFloat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewValue(tt.in)
			if err != nil {
				t.Fatalf("NewValue() error = %v", err)
			}
			if v.Kind() != tt.want {
				t.Errorf("Kind() = %s, want %s", v.Kind(), tt.want)
			}
		})
	}

	if _, err := NewValue(struct{}{}); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("NewValue(struct) error = %v, want ErrUnsupportedValue", err)
	}
}

func TestValue_TimestampIsUTC(t *testing.T) {
	ts := time.Date(2026, 3, 1, 6, 30, 0, 0, time.FixedZone("CET", 3600))
	v := MustValue(ts)
	got, _ := v.Time()
	if got.Location() != time.UTC || !got.Equal(ts) {
		t.Errorf("Time() = %v, want %v in UTC", got, ts)
	}
}

func TestValue_EncodeDecode(t *testing.T) {
	v := MustValue(map[string]any{"rgb": []any{255, 0, 10}, "on": true})

	b, err := v.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("encoded form is not a JSON object: %v", err)
	}
	if raw["type"] != "mapping" {
		t.Errorf("type tag = %q, want mapping", raw["type"])
	}

	got, err := DecodeValue(b)
	if err != nil {
		t.Fatalf("DecodeValue() error = %v", err)
	}
	if !got.Equal(v) {
		t.Errorf("DecodeValue() = %#v, want %#v", got.Any(), v.Any())
	}
}

func TestValue_FloatKeepsKind(t *testing.T) {
	// A whole-number float must not come back as an integer.
	v := MustValue(20.0)
	b, _ := v.Encode()
	got, err := DecodeValue(b)
	if err != nil {
		t.Fatalf("DecodeValue() error = %v", err)
	}
	if got.Kind() != KindFloat {
		t.Errorf("Kind() = %s, want float", got.Kind())
	}
}

func TestDecodeValue_Invalid(t *testing.T) {
	inputs := []string{
		`not json`,
		`{"value":"abc","type":"integer"}`,
		`{"value":"x","type":"complex"}`,
		`{"value":"yesterday","type":"timestamp"}`,
	}
	for _, in := range inputs {
		if _, err := DecodeValue([]byte(in)); !errors.Is(err, ErrInvalidEncoding) {
			t.Errorf("DecodeValue(%s) error = %v, want ErrInvalidEncoding", in, err)
		}
	}
}

func TestValueFromJSON(t *testing.T) {
	tests := []struct {
		raw  string
		want Kind
	}{
		{`"idle"`, KindString},
		{`"2026-06-01T04:12:00+00:00"`, KindTimestamp},
		{`"2026-06-01T04:12:00.123456Z"`, KindTimestamp},
		{`"2026-06-01"`, KindString},
		{`7`, KindInteger},
		{`7.0`, KindFloat},
		{`false`, KindBoolean},
		{`{"a":[1,2]}`, KindMapping},
		{`[1,"x"]`, KindSequence},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v, err := ValueFromJSON(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("ValueFromJSON() error = %v", err)
			}
			if v.Kind() != tt.want {
				t.Errorf("Kind() = %s, want %s", v.Kind(), tt.want)
			}
		})
	}

	v, err := ValueFromJSON(json.RawMessage(`null`))
	if err != nil || !v.IsZero() {
		t.Errorf("ValueFromJSON(null) = %v, %v; want zero, nil", v, err)
	}
}

func TestValue_Accessors(t *testing.T) {
	if f, ok := MustValue(3).Float(); !ok || f != 3 {
		t.Errorf("integer Float() = %v, %v", f, ok)
	}
	if _, ok := MustValue("3").Int(); ok {
		t.Error("string Int() ok = true")
	}
	if s, ok := MustValue("on").Str(); !ok || s != "on" {
		t.Errorf("Str() = %q, %v", s, ok)
	}
	if MustValue(1).Equal(MustValue(1.0)) {
		t.Error("integer 1 equals float 1.0")
	}
}
