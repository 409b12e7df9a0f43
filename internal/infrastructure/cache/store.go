package cache

import (
	"context"
	"strings"
	"time"
)

// Key prefixes.
const (
	PrefixState      = "STATE"
	PrefixRegistered = "REGISTERED"
	PrefixLock       = "LOCK"
)

// Key joins a prefix and its parts with colons.
func Key(prefix string, parts ...string) string {
	return prefix + ":" + strings.Join(parts, ":")
}

// Store is the key-value contract the state manager relies on.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value at key. A ttl of zero means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Expire resets the ttl of an existing key. It reports false when the
	// key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// Scan returns every key matching a glob pattern, walking the keyspace
	// incrementally.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Ping checks the service is reachable.
	Ping(ctx context.Context) error
}

// ReleaseFunc releases a held lock. It is safe to call more than once.
type ReleaseFunc func(ctx context.Context) error

// Locker provides named, auto-expiring mutual exclusion.
type Locker interface {
	// Lock blocks until key is acquired, wait elapses (ErrLockTimeout), or
	// ctx is done. The lock expires on its own after ttl.
	Lock(ctx context.Context, key string, ttl, wait time.Duration) (ReleaseFunc, error)
}

// lockRetryInterval is the pause between acquisition attempts.
const lockRetryInterval = 25 * time.Millisecond

// retryLock polls try until it succeeds, wait elapses, or ctx is done.
func retryLock(ctx context.Context, wait time.Duration, try func() (bool, error)) error {
	deadline := time.Now().Add(wait)
	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}
