package events

import "errors"

// Domain errors for the events package.
var (
	// ErrMalformedEvent is returned when a raw hub event cannot be classified.
	// The event is dropped.
	ErrMalformedEvent = errors.New("events: malformed event")
)
