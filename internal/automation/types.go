package automation

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/nerrad567/hubrelay/internal/events"
)

// Category classifies triggers by what fires them.
type Category string

// Trigger categories.
const (
	CategoryStateChange        Category = "state_change"
	CategorySchedule           Category = "schedule"
	CategorySolar              Category = "solar"
	CategoryEvent              Category = "event"
	CategoryNotificationAction Category = "notification_action"
	CategoryServiceLifecycle   Category = "service_lifecycle"
	CategoryHubLifecycle       Category = "hub_lifecycle"
)

// AllCategories returns every category in display order.
func AllCategories() []Category {
	return []Category{
		CategoryStateChange,
		CategorySchedule,
		CategorySolar,
		CategoryEvent,
		CategoryNotificationAction,
		CategoryServiceLifecycle,
		CategoryHubLifecycle,
	}
}

// SolarEvent is a sun position the solar category can fire on.
type SolarEvent string

// Solar events, each backed by the sun entity's next_<event> attribute.
const (
	SolarDawn     SolarEvent = "dawn"
	SolarDusk     SolarEvent = "dusk"
	SolarMidnight SolarEvent = "midnight"
	SolarNoon     SolarEvent = "noon"
	SolarRising   SolarEvent = "rising"
	SolarSetting  SolarEvent = "setting"
)

// Attribute returns the sun entity attribute holding the next occurrence.
func (s SolarEvent) Attribute() string { return "next_" + string(s) }

// Valid reports whether s is a known solar event.
func (s SolarEvent) Valid() bool {
	switch s {
	case SolarDawn, SolarDusk, SolarMidnight, SolarNoon, SolarRising, SolarSetting:
		return true
	}
	return false
}

// Handler is a registered trigger body. Build one with Func or EventFunc;
// whether it receives the event record is fixed at construction.
type Handler struct {
	name         string
	anonymous    bool
	acceptsEvent bool
	call         func(ctx context.Context, ev events.Event) error
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// Named overrides the qualified name derived from the function. Use it
// when one function literal is registered more than once, since the
// qualified name is the deduplication key.
func Named(name string) HandlerOption {
	return func(h *Handler) {
		h.name = name
		h.anonymous = false
	}
}

// Func wraps a handler that does not take the event record.
func Func(fn func(ctx context.Context) error, opts ...HandlerOption) Handler {
	h := Handler{
		name:      qualifiedName(fn),
		anonymous: isClosure(fn),
		call:      func(ctx context.Context, _ events.Event) error { return fn(ctx) },
	}
	for _, o := range opts {
		o(&h)
	}
	return h
}

// EventFunc wraps a handler that receives the event record as E, which is
// either events.Event or one concrete record type.
func EventFunc[E events.Event](fn func(ctx context.Context, ev E) error, opts ...HandlerOption) Handler {
	h := Handler{
		name:         qualifiedName(fn),
		anonymous:    isClosure(fn),
		acceptsEvent: true,
		call: func(ctx context.Context, ev events.Event) error {
			e, ok := ev.(E)
			if !ok {
				return fmt.Errorf("%w: got %T", ErrEventMismatch, ev)
			}
			return fn(ctx, e)
		},
	}
	for _, o := range opts {
		o(&h)
	}
	return h
}

// Name returns the qualified name.
func (h Handler) Name() string { return h.name }

// AcceptsEvent reports whether the handler receives the event record.
func (h Handler) AcceptsEvent() bool { return h.acceptsEvent }

// IsZero reports whether h was never built.
func (h Handler) IsZero() bool { return h.call == nil }

// Call invokes the handler. ev may be nil for scheduled fires.
func (h Handler) Call(ctx context.Context, ev events.Event) error {
	return h.call(ctx, ev)
}

// qualifiedName is the package-qualified function name.
func qualifiedName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return ""
	}
	// Method values carry a "-fm" suffix.
	return strings.TrimSuffix(f.Name(), "-fm")
}

// closureName matches the runtime names of function literals:
// "pkg.Fn.func1", "pkg.Fn.func1.2", "pkg.Fn[...].func3".
var closureName = regexp.MustCompile(`\.func\d+(\.\d+)*$`)

// isClosure reports whether fn is a function literal rather than a
// declared function or method.
func isClosure(fn any) bool {
	return closureName.MatchString(qualifiedName(fn))
}

// Entry is one registration. It is immutable once registered; accessors
// return copies.
type Entry struct {
	Category Category
	Key      string
	Handler  Handler

	// state_change filters
	From *string
	To   *string

	// event filters
	UserID string
	Data   map[string]any

	// notification_action filter
	DeviceID string

	// solar offset from the event time
	Offset time.Duration
}

// Name returns the handler's qualified name.
func (e Entry) Name() string { return e.Handler.name }

// clone returns a copy that shares nothing mutable with e.
func (e Entry) clone() Entry {
	c := e
	if e.From != nil {
		s := *e.From
		c.From = &s
	}
	if e.To != nil {
		s := *e.To
		c.To = &s
	}
	c.Data = maps.Clone(e.Data)
	return c
}

// Filters renders the entry's filters for listings.
func (e Entry) Filters() map[string]any {
	f := map[string]any{}
	if e.From != nil {
		f["from"] = *e.From
	}
	if e.To != nil {
		f["to"] = *e.To
	}
	if e.UserID != "" {
		f["user_id"] = e.UserID
	}
	if len(e.Data) > 0 {
		f["data"] = maps.Clone(e.Data)
	}
	if e.DeviceID != "" {
		f["device_id"] = e.DeviceID
	}
	if e.Offset != 0 {
		f["offset"] = e.Offset.String()
	}
	return f
}

// Option sets a category filter on a registration.
type Option func(*Entry)

// From requires the previous primary state to equal state.
func From(state string) Option {
	return func(e *Entry) { e.From = &state }
}

// To requires the new primary state to equal state.
func To(state string) Option {
	return func(e *Entry) { e.To = &state }
}

// ByUser requires the event to have been caused by userID.
func ByUser(userID string) Option {
	return func(e *Entry) { e.UserID = userID }
}

// WithData requires every key in data to be present in the event data
// with an equal value.
func WithData(data map[string]any) Option {
	return func(e *Entry) {
		if e.Data == nil {
			e.Data = make(map[string]any, len(data))
		}
		maps.Copy(e.Data, data)
	}
}

// FromDevice requires the notification action to come from deviceID.
func FromDevice(deviceID string) Option {
	return func(e *Entry) { e.DeviceID = deviceID }
}
