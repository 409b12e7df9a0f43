package entity

import (
	"errors"
	"testing"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"light.bedroom", false},
		{"binary_sensor.front_door_2", false},
		{"_private.thing", false},
		{"sun.sun", false},
		{"Light.bedroom", true},
		{"light", true},
		{"light.", true},
		{".bedroom", true},
		{"light.bed-room", true},
		{"light.bed.room", true},
		{"2light.bedroom", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			id, err := ParseID(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidID) {
					t.Errorf("ParseID(%q) error = %v, want ErrInvalidID", tt.input, err)
				}
				if !id.IsZero() {
					t.Errorf("ParseID(%q) returned non-zero id on error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseID(%q) error = %v", tt.input, err)
			}
			if id.String() != tt.input {
				t.Errorf("String() = %q, want %q", id.String(), tt.input)
			}
		})
	}
}

func TestID_Parts(t *testing.T) {
	id := MustID("switch.motion")
	if id.Domain() != "switch" || id.Name() != "motion" {
		t.Errorf("parts = %q/%q, want switch/motion", id.Domain(), id.Name())
	}

	var decoded ID
	if err := decoded.UnmarshalText([]byte("light.kitchen")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if decoded != MustID("light.kitchen") {
		t.Errorf("UnmarshalText() = %v", decoded)
	}
	if err := decoded.UnmarshalText([]byte("nope")); err == nil {
		t.Error("UnmarshalText(nope) = nil, want error")
	}
}

func TestMustID_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustID(bad) did not panic")
		}
	}()
	MustID("bad id")
}

func TestParseAttributeID(t *testing.T) {
	a, err := ParseAttributeID("sun.sun.next_rising")
	if err != nil {
		t.Fatalf("ParseAttributeID() error = %v", err)
	}
	if a.Entity != MustID("sun.sun") || a.Name != "next_rising" {
		t.Errorf("ParseAttributeID() = %+v", a)
	}
	if a.String() != "sun.sun.next_rising" {
		t.Errorf("String() = %q", a.String())
	}

	for _, bad := range []string{"sun.sun", "sun", "sun.sun.Next", "sun.sun.", "sun..x"} {
		if _, err := ParseAttributeID(bad); !errors.Is(err, ErrInvalidAttribute) {
			t.Errorf("ParseAttributeID(%q) error = %v, want ErrInvalidAttribute", bad, err)
		}
	}
}

func TestNormalizeAttributeName(t *testing.T) {
	tests := map[string]string{
		"Friendly Name": "friendly_name",
		"brightness":    "brightness",
		"RGB Color":     "rgb_color",
	}
	for in, want := range tests {
		if got := NormalizeAttributeName(in); got != want {
			t.Errorf("NormalizeAttributeName(%q) = %q, want %q", in, got, want)
		}
	}
}
