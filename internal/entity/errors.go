package entity

import "errors"

// Domain errors for the entity package.
var (
	// ErrInvalidID is returned when an entity identifier is malformed.
	ErrInvalidID = errors.New("entity: invalid id")

	// ErrInvalidAttribute is returned when an attribute name or id is malformed.
	ErrInvalidAttribute = errors.New("entity: invalid attribute")

	// ErrUnsupportedValue is returned when a Go value has no cache Kind.
	ErrUnsupportedValue = errors.New("entity: unsupported value type")

	// ErrInvalidEncoding is returned when a type-tagged value cannot be decoded.
	ErrInvalidEncoding = errors.New("entity: invalid value encoding")
)
