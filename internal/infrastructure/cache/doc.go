// Package cache provides the key-value store that mirrors hub entity state.
//
// Two implementations satisfy Store and Locker:
//   - RedisStore, backed by github.com/redis/go-redis/v9, used in production
//   - MemoryStore, an in-process map with TTLs, used by the test arena
//
// # Key layout
//
// Keys are colon-separated and namespaced by one of three prefixes:
//
//	STATE:light:bedroom              entity primary state
//	STATE:light:bedroom:brightness   one attribute
//	REGISTERED:light:bedroom         entity seen recently
//	LOCK:light:bedroom               distributed mutation lock
//
// Scan walks keys with a cursor (SCAN, never KEYS) so large keyspaces do not
// block the server.
//
// # Locks
//
// Lock acquires SET NX PX with a random token and retries until the wait
// bound elapses. The returned release func deletes the key only while it
// still holds the caller's token, so a lock that expired and was taken by
// another process is never released by the previous holder.
package cache
