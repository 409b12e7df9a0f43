package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/hubrelay/internal/infrastructure/config"
)

// storeUnderTest bundles a store with a way to move its clock.
type storeUnderTest interface {
	Store
	Locker
}

type harness struct {
	store   storeUnderTest
	advance func(time.Duration)
}

func newRedisHarness(t *testing.T) harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return harness{store: NewRedisStoreFromClient(client), advance: mr.FastForward}
}

func newMemoryHarness(t *testing.T) harness {
	t.Helper()
	m := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	m.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	return harness{store: m, advance: func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}}
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, h harness)) {
	t.Run("redis", func(t *testing.T) { fn(t, newRedisHarness(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryHarness(t)) })
}

func TestKey(t *testing.T) {
	if got := Key(PrefixState, "light", "bedroom", "brightness"); got != "STATE:light:bedroom:brightness" {
		t.Errorf("Key() = %q", got)
	}
	if got := Key(PrefixLock, "light", "bedroom"); got != "LOCK:light:bedroom" {
		t.Errorf("Key() = %q", got)
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		s := h.store

		if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
		}
		if err := s.Set(ctx, "k", "v1", 0); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if err := s.Set(ctx, "k", "v2", 0); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		got, err := s.Get(ctx, "k")
		if err != nil || got != "v2" {
			t.Fatalf("Get() = %q, %v; want v2", got, err)
		}

		n, err := s.Delete(ctx, "k", "missing")
		if err != nil || n != 1 {
			t.Fatalf("Delete() = %d, %v; want 1", n, err)
		}
		if n, _ := s.Delete(ctx); n != 0 {
			t.Errorf("Delete() with no keys = %d", n)
		}
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
	})
}

func TestStore_TTL(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		if err := h.store.Set(ctx, "short", "x", time.Minute); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		h.advance(59 * time.Second)
		if _, err := h.store.Get(ctx, "short"); err != nil {
			t.Fatalf("Get() before expiry error = %v", err)
		}
		h.advance(2 * time.Second)
		if _, err := h.store.Get(ctx, "short"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get() after expiry error = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_Expire(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		if ok, err := h.store.Expire(ctx, "missing", time.Minute); err != nil || ok {
			t.Fatalf("Expire(missing) = %v, %v, want false", ok, err)
		}

		_ = h.store.Set(ctx, "quiet", "on", time.Minute)
		h.advance(50 * time.Second)
		if ok, err := h.store.Expire(ctx, "quiet", time.Minute); err != nil || !ok {
			t.Fatalf("Expire() = %v, %v, want true", ok, err)
		}
		h.advance(50 * time.Second)
		if v, err := h.store.Get(ctx, "quiet"); err != nil || v != "on" {
			t.Fatalf("Get() after refresh = %q, %v", v, err)
		}
		h.advance(11 * time.Second)
		if _, err := h.store.Get(ctx, "quiet"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get() after refreshed ttl error = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_Scan(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		for _, k := range []string{
			"STATE:light:bedroom",
			"STATE:light:bedroom:brightness",
			"STATE:light:bedroom:color_mode",
			"STATE:light:bedroom_lamp:brightness",
			"STATE:switch:fan",
			"LOCK:light:bedroom",
		} {
			if err := h.store.Set(ctx, k, "1", 0); err != nil {
				t.Fatalf("Set(%s) error = %v", k, err)
			}
		}

		keys, err := h.store.Scan(ctx, "STATE:light:bedroom:*")
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		sort.Strings(keys)
		want := []string{"STATE:light:bedroom:brightness", "STATE:light:bedroom:color_mode"}
		if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
			t.Errorf("Scan() = %v, want %v", keys, want)
		}

		all, _ := h.store.Scan(ctx, "STATE:*")
		if len(all) != 5 {
			t.Errorf("Scan(STATE:*) returned %d keys, want 5", len(all))
		}
	})
}

func TestRedisStore_ScanFollowsCursor(t *testing.T) {
	h := newRedisHarness(t)
	ctx := context.Background()
	for i := 0; i < scanBatch*3+7; i++ {
		key := Key(PrefixState, "sensor", fmt.Sprintf("s%d", i))
		if err := h.store.Set(ctx, key, "x", 0); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	keys, err := h.store.Scan(ctx, "STATE:sensor:*")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(keys) != scanBatch*3+7 {
		t.Errorf("Scan() returned %d keys, want %d", len(keys), scanBatch*3+7)
	}
}

func TestLocker_MutualExclusion(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()

		release, err := h.store.Lock(ctx, "LOCK:light:bedroom", 10*time.Second, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("Lock() error = %v", err)
		}

		_, err = h.store.Lock(ctx, "LOCK:light:bedroom", 10*time.Second, 50*time.Millisecond)
		if !errors.Is(err, ErrLockTimeout) {
			t.Fatalf("second Lock() error = %v, want ErrLockTimeout", err)
		}

		if err := release(ctx); err != nil {
			t.Fatalf("release() error = %v", err)
		}
		if err := release(ctx); err != nil {
			t.Fatalf("second release() error = %v", err)
		}

		release2, err := h.store.Lock(ctx, "LOCK:light:bedroom", 10*time.Second, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("Lock() after release error = %v", err)
		}
		_ = release2(ctx)
	})
}

func TestLocker_ExpiredLockNotReleasedByOldHolder(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		key := "LOCK:switch:fan"

		stale, err := h.store.Lock(ctx, key, time.Second, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("Lock() error = %v", err)
		}
		h.advance(2 * time.Second)

		fresh, err := h.store.Lock(ctx, key, 10*time.Second, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("Lock() after expiry error = %v", err)
		}
		defer fresh(ctx) //nolint:errcheck

		_ = stale(ctx)
		if _, err := h.store.Lock(ctx, key, time.Second, 10*time.Millisecond); !errors.Is(err, ErrLockTimeout) {
			t.Errorf("stale release freed the fresh holder's lock: %v", err)
		}
	})
}

func TestMemoryStore_ConcurrentLock(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Lock(ctx, "LOCK:x:y", time.Second, 2*time.Second)
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			_ = release(ctx)
		}()
	}
	wg.Wait()
	if maxSeen.Load() != 1 {
		t.Errorf("max holders = %d, want 1", maxSeen.Load())
	}
}

func TestMemoryStore_FlushAndLen(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.Set(ctx, "a", "1", 0)
	_ = m.Set(ctx, "b", "2", 0)
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
	m.Flush()
	if m.Len() != 0 {
		t.Errorf("Len() after Flush = %d", m.Len())
	}
}

func TestNewRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), config.CacheConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer s.Close()

	mr.Close()
	if err := s.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping() after server close error = %v, want ErrUnavailable", err)
	}
}
