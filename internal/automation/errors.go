package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, automation.ErrReservedEventType) {
//	    // register with the dedicated category instead
//	}
var (
	// ErrInvalidTrigger is returned when a registration is malformed.
	ErrInvalidTrigger = errors.New("automation: invalid trigger")

	// ErrInvalidFilter is returned when a filter option does not apply to
	// the trigger's category.
	ErrInvalidFilter = errors.New("automation: filter not valid for category")

	// ErrReservedEventType is returned when a generic event trigger names
	// an event type that has its own category.
	ErrReservedEventType = errors.New("automation: event type has a dedicated trigger category")

	// ErrInvalidSchedule is returned for an unparseable schedule expression.
	ErrInvalidSchedule = errors.New("automation: invalid schedule expression")

	// ErrInvalidOffset is returned when a solar offset exceeds twelve hours.
	ErrInvalidOffset = errors.New("automation: solar offset out of range")

	// ErrUnnamedClosure is returned when one function literal is
	// registered twice under the same key with different filters. Its
	// derived name cannot tell the registrations apart.
	ErrUnnamedClosure = errors.New("automation: function literal registered twice, use Named")

	// ErrRegistryFrozen is returned when registering after Freeze.
	ErrRegistryFrozen = errors.New("automation: registry is frozen")

	// ErrEventMismatch is returned when a handler declared for one record
	// type is invoked with another.
	ErrEventMismatch = errors.New("automation: handler does not accept this event")

	// ErrTriggerNotFound is returned when a scheduled fire names a trigger
	// that is no longer registered.
	ErrTriggerNotFound = errors.New("automation: trigger not found")

	// ErrNoSolarData is returned when the solar entity lacks the attribute
	// for a solar event.
	ErrNoSolarData = errors.New("automation: solar event time unavailable")
)
