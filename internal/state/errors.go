package state

import "errors"

// Domain errors for the state package.
var (
	// ErrEntityNotFound is returned when neither the cache nor the hub knows the entity.
	ErrEntityNotFound = errors.New("state: entity not found")

	// ErrAttributeNotFound is returned when the entity exists but lacks the attribute.
	ErrAttributeNotFound = errors.New("state: attribute not found")

	// ErrUnavailable is returned when the hub cannot be reached after a cache miss.
	// Callers may retry.
	ErrUnavailable = errors.New("state: hub unavailable")

	// ErrLockContention is returned when the entity lock could not be acquired in time.
	ErrLockContention = errors.New("state: lock contention")

	// ErrInvalidMutation is returned when a mutation request carries nothing to write
	// or an attribute that cannot be cached.
	ErrInvalidMutation = errors.New("state: invalid mutation")
)
