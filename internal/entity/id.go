package entity

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	idRegex        = regexp.MustCompile(`^[a-z_][a-z0-9_]*\.[a-z0-9_]+$`)
	attributeRegex = regexp.MustCompile(`^[a-z0-9_]+$`)
)

// ID identifies a hub entity as domain.name. The zero ID is invalid and is
// only produced by failed parses.
type ID struct {
	domain string
	name   string
}

// ParseID validates s and returns its ID.
func ParseID(s string) (ID, error) {
	if !idRegex.MatchString(s) {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	domain, name, _ := strings.Cut(s, ".")
	return ID{domain: domain, name: name}, nil
}

// MustID is ParseID for identifiers known at compile time. It panics on
// malformed input.
func MustID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Domain returns the part before the dot, e.g. "light".
func (id ID) Domain() string { return id.domain }

// Name returns the part after the dot, e.g. "bedroom".
func (id ID) Name() string { return id.name }

// IsZero reports whether id was never successfully parsed.
func (id ID) IsZero() bool { return id.domain == "" }

func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.domain + "." + id.name
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// AttributeID addresses one attribute of one entity, written domain.name.attr.
type AttributeID struct {
	Entity ID
	Name   string
}

// ParseAttributeID validates s ("sun.sun.next_rising") and returns its parts.
func ParseAttributeID(s string) (AttributeID, error) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 {
		return AttributeID{}, fmt.Errorf("%w: %q", ErrInvalidAttribute, s)
	}
	id, err := ParseID(s[:i])
	if err != nil {
		return AttributeID{}, fmt.Errorf("%w: %q", ErrInvalidAttribute, s)
	}
	return id.Attribute(s[i+1:])
}

// Attribute returns the AttributeID of name on id.
func (id ID) Attribute(name string) (AttributeID, error) {
	if id.IsZero() || !ValidAttributeName(name) {
		return AttributeID{}, fmt.Errorf("%w: %q on %q", ErrInvalidAttribute, name, id)
	}
	return AttributeID{Entity: id, Name: name}, nil
}

func (a AttributeID) String() string {
	return a.Entity.String() + "." + a.Name
}

// ValidAttributeName reports whether name can be stored as a cache key part.
func ValidAttributeName(name string) bool {
	return attributeRegex.MatchString(name)
}

// NormalizeAttributeName lower-cases name and replaces spaces with
// underscores, the form under which hub attributes are cached.
func NormalizeAttributeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}
