package automation

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/hubrelay/internal/bridges/hub"
	"github.com/nerrad567/hubrelay/internal/entity"
	"github.com/nerrad567/hubrelay/internal/events"
)

// Logger defines the logging interface used by the Registry and Dispatcher.
// This allows different logging implementations to be used.
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

// maxSolarOffset bounds the offset of a solar trigger in either direction.
const maxSolarOffset = 12 * time.Hour

// reservedEventTypes have their own trigger category.
var reservedEventTypes = map[string]Category{
	hub.EventStateChanged:       CategoryStateChange,
	hub.EventNotificationAction: CategoryNotificationAction,
	hub.EventHubStarted:         CategoryHubLifecycle,
	hub.EventHubStopped:         CategoryHubLifecycle,
}

// cronParser accepts five-field expressions and descriptors such as @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Source is a read view over registered triggers.
type Source interface {
	// Lookup returns the entries under (category, key) in registration order.
	Lookup(category Category, key string) []Entry

	// Entries returns every entry of category, ordered by key then
	// registration order.
	Entries(category Category) []Entry
}

// Registry maps category → key → ordered entries.
//
// Registration appends under (category, key); an entry whose handler has
// the same qualified name as an existing one under that key replaces it in
// place. The production registry is populated at startup and then frozen.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	entries map[Category]map[string][]Entry
	frozen  bool
	logger  Logger
}

var _ Source = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Category]map[string][]Entry),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// OnStateChange registers h for transitions of id. Accepts From and To.
func (r *Registry) OnStateChange(id entity.ID, h Handler, opts ...Option) error {
	if id.IsZero() {
		return fmt.Errorf("%w: empty entity id", ErrInvalidTrigger)
	}
	return r.add(CategoryStateChange, id.String(), h, opts)
}

// OnSchedule registers h on a cron expression (five fields or a
// descriptor), evaluated in the site timezone.
func (r *Registry) OnSchedule(expr string, h Handler) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, expr, err)
	}
	return r.add(CategorySchedule, expr, h, nil)
}

// OnSolar registers h at a solar event shifted by offset (within ±12h).
func (r *Registry) OnSolar(event SolarEvent, offset time.Duration, h Handler) error {
	if !event.Valid() {
		return fmt.Errorf("%w: unknown solar event %q", ErrInvalidTrigger, event)
	}
	if offset > maxSolarOffset || offset < -maxSolarOffset {
		return fmt.Errorf("%w: %s", ErrInvalidOffset, offset)
	}
	return r.add(CategorySolar, string(event), h, []Option{func(e *Entry) { e.Offset = offset }})
}

// OnEvent registers h for a generic hub event type. Accepts ByUser and
// WithData. Types with a dedicated category are rejected.
func (r *Registry) OnEvent(eventType string, h Handler, opts ...Option) error {
	if eventType == "" {
		return fmt.Errorf("%w: empty event type", ErrInvalidTrigger)
	}
	if cat, ok := reservedEventTypes[eventType]; ok {
		return fmt.Errorf("%w: %s (use %s)", ErrReservedEventType, eventType, cat)
	}
	return r.add(CategoryEvent, eventType, h, opts)
}

// OnNotificationAction registers h for a notification action name.
// Accepts FromDevice.
func (r *Registry) OnNotificationAction(action string, h Handler, opts ...Option) error {
	if action == "" {
		return fmt.Errorf("%w: empty action name", ErrInvalidTrigger)
	}
	return r.add(CategoryNotificationAction, action, h, opts)
}

// OnHubLifecycle registers h for the hub starting or stopping.
func (r *Registry) OnHubLifecycle(phase events.Phase, h Handler) error {
	if err := validPhase(phase); err != nil {
		return err
	}
	return r.add(CategoryHubLifecycle, string(phase), h, nil)
}

// OnServiceLifecycle registers h for this service starting or stopping.
func (r *Registry) OnServiceLifecycle(phase events.Phase, h Handler) error {
	if err := validPhase(phase); err != nil {
		return err
	}
	return r.add(CategoryServiceLifecycle, string(phase), h, nil)
}

func validPhase(p events.Phase) error {
	if p != events.PhaseStart && p != events.PhaseStop {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidTrigger, p)
	}
	return nil
}

// checkFilters rejects filters that the category does not evaluate.
func checkFilters(e Entry) error {
	var bad []string
	if e.Category != CategoryStateChange && (e.From != nil || e.To != nil) {
		bad = append(bad, "from/to")
	}
	if e.Category != CategoryEvent && (e.UserID != "" || len(e.Data) > 0) {
		bad = append(bad, "user/data")
	}
	if e.Category != CategoryNotificationAction && e.DeviceID != "" {
		bad = append(bad, "device")
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: %v on %s", ErrInvalidFilter, bad, e.Category)
	}
	return nil
}

func (r *Registry) add(cat Category, key string, h Handler, opts []Option) error {
	if h.IsZero() {
		return fmt.Errorf("%w: nil handler", ErrInvalidTrigger)
	}
	if h.name == "" {
		return fmt.Errorf("%w: handler has no qualified name, use Named", ErrInvalidTrigger)
	}
	if h.acceptsEvent && (cat == CategorySchedule || cat == CategorySolar) {
		return fmt.Errorf("%w: %s triggers carry no event, use Func", ErrInvalidTrigger, cat)
	}
	e := Entry{Category: cat, Key: key, Handler: h}
	for _, o := range opts {
		o(&e)
	}
	if err := checkFilters(e); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}

	byKey, ok := r.entries[cat]
	if !ok {
		byKey = make(map[string][]Entry)
		r.entries[cat] = byKey
	}
	list := byKey[key]
	for i := range list {
		if list[i].Name() != h.name {
			continue
		}
		same := reflect.DeepEqual(list[i].Filters(), e.Filters())
		switch {
		case same:
			r.logger.Debug("trigger replaced", "category", cat, "key", key, "name", h.name)
		case h.anonymous:
			return fmt.Errorf("%w: %s on %s %q", ErrUnnamedClosure, h.name, cat, key)
		default:
			r.logger.Warn("trigger replaced with different filters", "category", cat, "key", key, "name", h.name,
				"old", list[i].Filters(), "new", e.Filters())
		}
		list[i] = e
		return nil
	}
	byKey[key] = append(list, e)
	r.logger.Debug("trigger registered", "category", cat, "key", key, "name", h.name)
	return nil
}

// Freeze rejects all further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Reset removes every entry and unfreezes the registry. Intended for the
// test overlay between tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[Category]map[string][]Entry)
	r.frozen = false
}

// Lookup implements Source.
func (r *Registry) Lookup(cat Category, key string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.entries[cat][key]
	if len(list) == 0 {
		return nil
	}
	out := make([]Entry, len(list))
	for i, e := range list {
		out[i] = e.clone()
	}
	return out
}

// Entries implements Source.
func (r *Registry) Entries(cat Category) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byKey := r.entries[cat]
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []Entry
	for _, k := range keys {
		for _, e := range byKey[k] {
			out = append(out, e.clone())
		}
	}
	return out
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, byKey := range r.entries {
		for _, list := range byKey {
			n += len(list)
		}
	}
	return n
}

// Overlay combines the production registry with a test registry. With a
// Test registry set, lookups see only it unless Union is true.
type Overlay struct {
	Production *Registry
	Test       *Registry
	Union      bool
}

var _ Source = Overlay{}

func (o Overlay) sources() []*Registry {
	switch {
	case o.Test == nil:
		return []*Registry{o.Production}
	case o.Union && o.Production != nil:
		return []*Registry{o.Production, o.Test}
	default:
		return []*Registry{o.Test}
	}
}

// Lookup implements Source.
func (o Overlay) Lookup(cat Category, key string) []Entry {
	var out []Entry
	for _, r := range o.sources() {
		if r != nil {
			out = append(out, r.Lookup(cat, key)...)
		}
	}
	return out
}

// Entries implements Source.
func (o Overlay) Entries(cat Category) []Entry {
	var out []Entry
	for _, r := range o.sources() {
		if r != nil {
			out = append(out, r.Entries(cat)...)
		}
	}
	return out
}
