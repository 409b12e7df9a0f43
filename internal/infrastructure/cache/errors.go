package cache

import "errors"

// Domain-specific errors for cache operations.
var (
	// ErrNotFound is returned by Get when the key does not exist or expired.
	ErrNotFound = errors.New("cache: key not found")

	// ErrLockTimeout is returned when a lock could not be acquired in time.
	ErrLockTimeout = errors.New("cache: lock acquisition timed out")

	// ErrUnavailable wraps transport failures talking to the cache service.
	ErrUnavailable = errors.New("cache: service unavailable")
)
