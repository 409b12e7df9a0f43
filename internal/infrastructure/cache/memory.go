package cache

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memEntry struct {
	value   string
	expires time.Time // zero = never
}

// MemoryStore implements Store and Locker in process memory. Patterns use
// path.Match, which agrees with Redis glob syntax for the '*' and '?' forms
// used by this module.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]memEntry
	now  func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]memEntry), now: time.Now}
}

// SetClock replaces the time source, for TTL tests.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// live returns the entry at key if present and unexpired. Caller holds mu.
func (m *MemoryStore) live(key string) (memEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.data, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memEntry{value: value, expires: m.expiry(ttl)}
	return nil
}

// Expire implements Store.
func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return false, nil
	}
	e.expires = m.expiry(ttl)
	m.data[key] = e
	return true, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.live(k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

// Scan implements Store. Keys are returned sorted.
func (m *MemoryStore) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if _, ok := m.live(k); !ok {
			continue
		}
		if ok, err := path.Match(pattern, k); err != nil {
			return nil, err
		} else if ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Lock implements Locker.
func (m *MemoryStore) Lock(ctx context.Context, key string, ttl, wait time.Duration) (ReleaseFunc, error) {
	token := uuid.NewString()
	err := retryLock(ctx, wait, func() (bool, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, held := m.live(key); held {
			return false, nil
		}
		m.data[key] = memEntry{value: token, expires: m.expiry(ttl)}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if e, ok := m.live(key); ok && e.value == token {
			delete(m.data, key)
		}
		return nil
	}, nil
}

// Flush removes every key.
func (m *MemoryStore) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]memEntry)
}

// Len returns the number of live keys.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if _, ok := m.live(k); ok {
			n++
		}
	}
	return n
}
