package state

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/nerrad567/hubrelay/internal/bridges/hub"
	"github.com/nerrad567/hubrelay/internal/entity"
	"github.com/nerrad567/hubrelay/internal/infrastructure/cache"
	"github.com/nerrad567/hubrelay/internal/infrastructure/logging"
)

// Logger defines the logging interface used by the state manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Hub is the subset of the hub REST client the manager calls.
// *hub.Client satisfies it.
type Hub interface {
	GetState(ctx context.Context, id entity.ID) (entity.Snapshot, error)
	GetStates(ctx context.Context) ([]entity.Snapshot, error)
	SetState(ctx context.Context, id entity.ID, state string, attrs map[string]entity.Value) (entity.Snapshot, error)
	DeleteState(ctx context.Context, id entity.ID) error
	CallService(ctx context.Context, domain, service string, id entity.ID, params map[string]any) ([]entity.Snapshot, error)
}

// Cache is the key-value store plus its lock primitive.
type Cache interface {
	cache.Store
	cache.Locker
}

// MetricsSink records state manager metrics. Optional; nil disables.
type MetricsSink interface {
	CacheLookup(hit bool)
	LockContention()
}

// Default TTLs and lock bounds.
const (
	DefaultStateTTL      = time.Hour
	DefaultRegisteredTTL = 7 * 24 * time.Hour
	DefaultLockTTL       = 10 * time.Second
	DefaultLockWait      = 5 * time.Second
)

// releaseTimeout bounds the lock release call on every exit path.
const releaseTimeout = 2 * time.Second

// Config holds cache lifetimes and lock bounds.
type Config struct {
	StateTTL      time.Duration
	RegisteredTTL time.Duration
	LockTTL       time.Duration
	LockWait      time.Duration
}

func (c Config) withDefaults() Config {
	if c.StateTTL <= 0 {
		c.StateTTL = DefaultStateTTL
	}
	if c.RegisteredTTL <= 0 {
		c.RegisteredTTL = DefaultRegisteredTTL
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.LockWait <= 0 {
		c.LockWait = DefaultLockWait
	}
	return c
}

// Manager is the read and write path for entity state.
// All methods are safe for concurrent use.
type Manager struct {
	cache   Cache
	hub     Hub
	cfg     Config
	logger  Logger
	metrics MetricsSink
}

// NewManager creates a state manager over c and h.
func NewManager(c Cache, h Hub, cfg Config) *Manager {
	return &Manager{
		cache:  c,
		hub:    h,
		cfg:    cfg.withDefaults(),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// WithMetrics attaches a metrics sink.
func (m *Manager) WithMetrics(sink MetricsSink) *Manager {
	m.metrics = sink
	return m
}

func stateKey(id entity.ID) string {
	return cache.Key(cache.PrefixState, id.Domain(), id.Name())
}

func attrKey(id entity.ID, name string) string {
	return cache.Key(cache.PrefixState, id.Domain(), id.Name(), name)
}

func attrPattern(id entity.ID) string {
	return cache.Key(cache.PrefixState, id.Domain(), id.Name(), "*")
}

func registeredKey(id entity.ID) string {
	return cache.Key(cache.PrefixRegistered, id.Domain(), id.Name())
}

func lockKey(id entity.ID) string {
	return cache.Key(cache.PrefixLock, id.Domain(), id.Name())
}

// attrName returns the attribute segment of a STATE attribute key.
func attrName(id entity.ID, key string) string {
	return strings.TrimPrefix(key, stateKey(id)+":")
}

func (m *Manager) recordLookup(hit bool) {
	if m.metrics != nil {
		m.metrics.CacheLookup(hit)
	}
}

// getValue reads and decodes one cached value. ok is false on a miss.
func (m *Manager) getValue(ctx context.Context, key string) (entity.Value, bool, error) {
	raw, err := m.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return entity.Value{}, false, nil
	}
	if err != nil {
		return entity.Value{}, false, fmt.Errorf("state: reading %s: %w", key, err)
	}
	v, err := entity.DecodeValue([]byte(raw))
	if err != nil {
		// A corrupt entry is treated as a miss so the next fetch rewrites it.
		m.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return entity.Value{}, false, nil
	}
	return v, true, nil
}

func (m *Manager) setValue(ctx context.Context, key string, v entity.Value) error {
	b, err := v.Encode()
	if err != nil {
		return fmt.Errorf("state: encoding %s: %w", key, err)
	}
	if err := m.cache.Set(ctx, key, string(b), m.cfg.StateTTL); err != nil {
		return fmt.Errorf("state: writing %s: %w", key, err)
	}
	return nil
}

// fetch pulls one entity from the hub and caches it. Nothing is written
// when the fetch fails.
func (m *Manager) fetch(ctx context.Context, id entity.ID) (entity.Snapshot, error) {
	snap, err := m.hub.GetState(ctx, id)
	if err != nil {
		return entity.Snapshot{}, hubErr(id, err)
	}
	if err := m.ApplyChange(ctx, snap); err != nil {
		return entity.Snapshot{}, err
	}
	m.logger.Debug("entity fetched from hub", "entity_id", id.String(),
		logging.CorrelationKey, logging.CorrelationID(ctx))
	return snap, nil
}

// hubErr maps a hub client error onto the state taxonomy, keeping the
// original in the chain.
func hubErr(id entity.ID, err error) error {
	if errors.Is(err, hub.ErrEntityNotFound) {
		return fmt.Errorf("%w: %s: %w", ErrEntityNotFound, id, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, id, err)
}

// State returns the entity's primary state, fetching it from the hub on a
// cache miss.
func (m *Manager) State(ctx context.Context, id entity.ID) (string, error) {
	v, ok, err := m.getValue(ctx, stateKey(id))
	if err != nil {
		return "", err
	}
	m.recordLookup(ok)
	if ok {
		return v.String(), nil
	}
	snap, err := m.fetch(ctx, id)
	if err != nil {
		return "", err
	}
	return snap.State, nil
}

// Attribute returns one attribute. On a miss the entity is fetched only when
// the entity itself is not cached; a cached entity without the attribute
// yields ErrAttributeNotFound.
func (m *Manager) Attribute(ctx context.Context, id entity.ID, name string) (entity.Value, error) {
	name = entity.NormalizeAttributeName(name)
	if !entity.ValidAttributeName(name) {
		return entity.Value{}, fmt.Errorf("%w: %q", entity.ErrInvalidAttribute, name)
	}

	v, ok, err := m.getValue(ctx, attrKey(id, name))
	if err != nil {
		return entity.Value{}, err
	}
	m.recordLookup(ok)
	if ok {
		return v, nil
	}

	_, cached, err := m.getValue(ctx, stateKey(id))
	if err != nil {
		return entity.Value{}, err
	}
	if cached {
		return entity.Value{}, fmt.Errorf("%w: %s.%s", ErrAttributeNotFound, id, name)
	}

	snap, err := m.fetch(ctx, id)
	if err != nil {
		return entity.Value{}, err
	}
	if v, ok := snap.Attribute(name); ok {
		return v, nil
	}
	return entity.Value{}, fmt.Errorf("%w: %s.%s", ErrAttributeNotFound, id, name)
}

// Snapshot returns the full cached snapshot, fetching on a miss.
func (m *Manager) Snapshot(ctx context.Context, id entity.ID) (entity.Snapshot, error) {
	snap, ok, err := m.cached(ctx, id)
	if err != nil {
		return entity.Snapshot{}, err
	}
	m.recordLookup(ok)
	if ok {
		return snap, nil
	}
	return m.fetch(ctx, id)
}

// Cached returns the cached snapshot without falling back to the hub.
// ok is false when the entity is not cached.
func (m *Manager) Cached(ctx context.Context, id entity.ID) (entity.Snapshot, bool, error) {
	return m.cached(ctx, id)
}

func (m *Manager) cached(ctx context.Context, id entity.ID) (entity.Snapshot, bool, error) {
	v, ok, err := m.getValue(ctx, stateKey(id))
	if err != nil || !ok {
		return entity.Snapshot{}, false, err
	}
	keys, err := m.cache.Scan(ctx, attrPattern(id))
	if err != nil {
		return entity.Snapshot{}, false, fmt.Errorf("state: scanning %s: %w", id, err)
	}

	snap := entity.Snapshot{ID: id, State: v.String(), Attributes: make(map[string]entity.Value, len(keys))}
	for _, key := range keys {
		av, ok, err := m.getValue(ctx, key)
		if err != nil {
			return entity.Snapshot{}, false, err
		}
		if ok {
			snap.Attributes[attrName(id, key)] = av
		}
	}
	if lu, ok := snap.Attributes[entity.AttrLastUpdated].Time(); ok {
		snap.LastUpdated = lu
	}
	return snap, true, nil
}

// ApplyChange writes snap over whatever is cached for its entity: the
// primary state and every attribute are overwritten and attribute keys
// absent from snap are deleted.
func (m *Manager) ApplyChange(ctx context.Context, snap entity.Snapshot) error {
	if snap.IsZero() {
		return fmt.Errorf("%w: empty snapshot", entity.ErrInvalidID)
	}
	id := snap.ID

	existing, err := m.cache.Scan(ctx, attrPattern(id))
	if err != nil {
		return fmt.Errorf("state: scanning %s: %w", id, err)
	}

	if err := m.setValue(ctx, stateKey(id), entity.MustValue(snap.State)); err != nil {
		return err
	}
	for name, v := range snap.Attributes {
		if v.IsZero() {
			continue
		}
		if err := m.setValue(ctx, attrKey(id, name), v); err != nil {
			return err
		}
	}

	var stale []string
	for _, key := range existing {
		if v, ok := snap.Attributes[attrName(id, key)]; !ok || v.IsZero() {
			stale = append(stale, key)
		}
	}
	if len(stale) > 0 {
		if _, err := m.cache.Delete(ctx, stale...); err != nil {
			return fmt.Errorf("state: deleting stale attributes of %s: %w", id, err)
		}
		m.logger.Debug("stale attributes removed", "entity_id", id.String(), "count", len(stale))
	}
	return nil
}

// DeleteEntity removes every cached key for id, including its
// registration marker.
func (m *Manager) DeleteEntity(ctx context.Context, id entity.ID) error {
	keys, err := m.cache.Scan(ctx, attrPattern(id))
	if err != nil {
		return fmt.Errorf("state: scanning %s: %w", id, err)
	}
	keys = append(keys, stateKey(id), registeredKey(id))
	if _, err := m.cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("state: deleting %s: %w", id, err)
	}
	return nil
}

// Refresh re-fetches one entity from the hub and re-caches it.
func (m *Manager) Refresh(ctx context.Context, id entity.ID) (entity.Snapshot, error) {
	return m.fetch(ctx, id)
}

// SyncAll pulls every entity from the hub into the cache and returns the
// number cached.
func (m *Manager) SyncAll(ctx context.Context) (int, error) {
	snaps, err := m.hub.GetStates(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: full state pull: %w", ErrUnavailable, err)
	}
	n := 0
	for _, snap := range snaps {
		if err := m.ApplyChange(ctx, snap); err != nil {
			return n, err
		}
		n++
	}
	m.logger.Info("cache synchronised with hub", "entities", n)
	return n, nil
}

// TouchAll resets the TTL of every cached STATE key and returns how many
// were refreshed. Keeping quiet entities cached lets a resync after an
// outage compare against their last known snapshot.
func (m *Manager) TouchAll(ctx context.Context) (int, error) {
	keys, err := m.cache.Scan(ctx, cache.Key(cache.PrefixState, "*"))
	if err != nil {
		return 0, fmt.Errorf("state: scanning cached state: %w", err)
	}
	n := 0
	for _, key := range keys {
		ok, err := m.cache.Expire(ctx, key, m.cfg.StateTTL)
		if err != nil {
			return n, fmt.Errorf("state: refreshing %s: %w", key, err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// KeepAlive runs TouchAll every half StateTTL until ctx is done. Failures
// are logged and retried on the next tick.
func (m *Manager) KeepAlive(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.StateTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.TouchAll(ctx)
			if err != nil {
				m.logger.Warn("refreshing cached state TTLs failed", "refreshed", n, "error", err)
				continue
			}
			m.logger.Debug("cached state TTLs refreshed", "keys", n)
		}
	}
}

// MarkRegistered records that id has been seen and refreshes the marker's
// TTL. first is true when no marker existed.
func (m *Manager) MarkRegistered(ctx context.Context, id entity.ID) (bool, error) {
	key := registeredKey(id)
	_, err := m.cache.Get(ctx, key)
	first := errors.Is(err, cache.ErrNotFound)
	if err != nil && !first {
		return false, fmt.Errorf("state: reading %s: %w", key, err)
	}
	if err := m.cache.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), m.cfg.RegisteredTTL); err != nil {
		return false, fmt.Errorf("state: writing %s: %w", key, err)
	}
	return first, nil
}

// lock acquires the entity lock. The returned function releases it and is
// safe to defer.
func (m *Manager) lock(ctx context.Context, id entity.ID) (func(), error) {
	release, err := m.cache.Lock(ctx, lockKey(id), m.cfg.LockTTL, m.cfg.LockWait)
	if err != nil {
		if errors.Is(err, cache.ErrLockTimeout) {
			if m.metrics != nil {
				m.metrics.LockContention()
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrLockContention, id, err)
		}
		return nil, fmt.Errorf("state: locking %s: %w", id, err)
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := release(rctx); err != nil {
			m.logger.Warn("releasing entity lock failed", "entity_id", id.String(), "error", err)
		}
	}, nil
}

// MutateRequest describes a write to one entity. A nil State keeps the
// current primary state. Attributes are merged over the current ones.
type MutateRequest struct {
	State      *string
	Attributes map[string]any
}

// hubManagedAttrs are set by the hub on every write and never sent back.
var hubManagedAttrs = []string{entity.AttrLastChanged, entity.AttrLastUpdated, entity.AttrPreviousState}

// Mutate writes the desired state and attribute updates to the hub under
// the entity lock and caches the hub's answer.
func (m *Manager) Mutate(ctx context.Context, id entity.ID, req MutateRequest) (entity.Snapshot, error) {
	if req.State == nil && len(req.Attributes) == 0 {
		return entity.Snapshot{}, fmt.Errorf("%w: nothing to write for %s", ErrInvalidMutation, id)
	}
	updates := make(map[string]entity.Value, len(req.Attributes))
	for name, raw := range req.Attributes {
		key := entity.NormalizeAttributeName(name)
		if !entity.ValidAttributeName(key) {
			return entity.Snapshot{}, fmt.Errorf("%w: attribute %q", ErrInvalidMutation, name)
		}
		v, err := entity.NewValue(raw)
		if err != nil {
			return entity.Snapshot{}, fmt.Errorf("%w: attribute %q: %w", ErrInvalidMutation, name, err)
		}
		updates[key] = v
	}

	unlock, err := m.lock(ctx, id)
	if err != nil {
		return entity.Snapshot{}, err
	}
	defer unlock()

	var current entity.Snapshot
	switch cur, err := m.Snapshot(ctx, id); {
	case err == nil:
		current = cur
	case errors.Is(err, ErrEntityNotFound):
		// Writing creates the entity.
	default:
		return entity.Snapshot{}, err
	}

	desired := current.State
	if req.State != nil {
		desired = *req.State
	}
	attrs := maps.Clone(current.Attributes)
	if attrs == nil {
		attrs = map[string]entity.Value{}
	}
	for _, name := range hubManagedAttrs {
		delete(attrs, name)
	}
	maps.Copy(attrs, updates)

	snap, err := m.hub.SetState(ctx, id, desired, attrs)
	if err != nil {
		return entity.Snapshot{}, fmt.Errorf("%w: writing %s: %w", ErrUnavailable, id, err)
	}
	if err := m.ApplyChange(ctx, snap); err != nil {
		return entity.Snapshot{}, err
	}
	m.logger.Debug("entity mutated", "entity_id", id.String(), "state", snap.State,
		logging.CorrelationKey, logging.CorrelationID(ctx))
	return snap, nil
}

// InvokeAction calls a hub action on id under the entity lock and caches
// every state the hub reports as changed. A zero id calls the action
// without a target and without locking.
func (m *Manager) InvokeAction(ctx context.Context, domain, action string, id entity.ID, params map[string]any) ([]entity.Snapshot, error) {
	if !id.IsZero() {
		unlock, err := m.lock(ctx, id)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	changed, err := m.hub.CallService(ctx, domain, action, id, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrUnavailable, domain, action, err)
	}
	for _, snap := range changed {
		if err := m.ApplyChange(ctx, snap); err != nil {
			return changed, err
		}
	}
	m.logger.Debug("action invoked", "action", domain+"."+action, "entity_id", id.String(),
		"changed", len(changed), logging.CorrelationKey, logging.CorrelationID(ctx))
	return changed, nil
}
