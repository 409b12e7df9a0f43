package hub

import "errors"

// Domain errors for the hub bridge package.
var (
	// ErrAuthRejected is returned when the hub refuses the access token.
	// It is a configuration error and is never retried.
	ErrAuthRejected = errors.New("hub: authentication rejected")

	// ErrConnectionFailed is returned when the streaming session cannot be
	// established or is lost.
	ErrConnectionFailed = errors.New("hub: connection failed")

	// ErrSubscribeFailed is returned when the hub refuses the event subscription.
	ErrSubscribeFailed = errors.New("hub: subscription failed")

	// ErrRequestFailed is returned when a REST call fails in transport or
	// with a server error status.
	ErrRequestFailed = errors.New("hub: request failed")

	// ErrEntityNotFound is returned when the hub does not know an entity.
	ErrEntityNotFound = errors.New("hub: entity not found")

	// ErrMalformedResponse is returned when a hub payload cannot be decoded
	// or lacks required fields.
	ErrMalformedResponse = errors.New("hub: malformed response")

	// ErrClosed is returned by a session after Close.
	ErrClosed = errors.New("hub: session closed")
)
