package events

import (
	"context"
	"time"

	"github.com/nerrad567/hubrelay/internal/bridges/hub"
	"github.com/nerrad567/hubrelay/internal/entity"
	"github.com/nerrad567/hubrelay/internal/infrastructure/logging"
)

// Logger defines the logging interface used by the router.
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

// StateStore is the part of the state manager the router writes through.
// *state.Manager satisfies it.
type StateStore interface {
	Cached(ctx context.Context, id entity.ID) (entity.Snapshot, bool, error)
	ApplyChange(ctx context.Context, snap entity.Snapshot) error
	DeleteEntity(ctx context.Context, id entity.ID) error
	MarkRegistered(ctx context.Context, id entity.ID) (bool, error)
}

// Dispatcher receives records that should fire triggers.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event)
}

// Observer sees every processed record, whether or not it fires triggers.
// Observers must not block.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// MetricsSink records routing metrics. Optional; nil disables.
type MetricsSink interface {
	EventRouted(kind string, synthetic bool)
	EventDropped(reason string)
}

// Drop reasons reported to MetricsSink.
const (
	DropMalformed = "malformed"
	DropIgnored   = "ignored_domain"
)

// Router classifies raw hub events, keeps the state cache current, and
// hands records to the dispatcher. It implements hub.Sink.
type Router struct {
	state      StateStore
	dispatcher Dispatcher
	ignored    map[string]struct{}
	observers  []Observer
	logger     Logger
	metrics    MetricsSink
}

var _ hub.Sink = (*Router)(nil)

// NewRouter creates a router. Entities in ignoredDomains are neither
// cached nor dispatched.
func NewRouter(state StateStore, dispatcher Dispatcher, ignoredDomains []string) *Router {
	ignored := make(map[string]struct{}, len(ignoredDomains))
	for _, d := range ignoredDomains {
		ignored[d] = struct{}{}
	}
	return &Router{
		state:      state,
		dispatcher: dispatcher,
		ignored:    ignored,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// WithMetrics attaches a metrics sink.
func (r *Router) WithMetrics(sink MetricsSink) *Router {
	r.metrics = sink
	return r
}

// AddObserver registers an observer. Not safe to call once events flow.
func (r *Router) AddObserver(o Observer) {
	r.observers = append(r.observers, o)
}

func (r *Router) isIgnored(id entity.ID) bool {
	_, ok := r.ignored[id.Domain()]
	return ok
}

// HandleEvent implements hub.Sink.
func (r *Router) HandleEvent(ctx context.Context, raw hub.Event) {
	corr := logging.NewCorrelationID()
	ctx = logging.WithCorrelationID(ctx, corr)
	ev, err := Classify(raw, corr)
	if err != nil {
		r.logger.Warn("dropping hub event", "event_type", raw.EventType, "error", err,
			logging.CorrelationKey, corr)
		r.dropped(DropMalformed)
		return
	}
	r.route(ctx, ev)
}

// Publish routes a record produced inside the process, such as a service
// lifecycle event. A missing correlation id or fire time is filled in.
func (r *Router) Publish(ctx context.Context, ev Event) {
	meta := ev.Meta()
	if meta.CorrelationID == "" || meta.FiredAt.IsZero() {
		if meta.CorrelationID == "" {
			meta.CorrelationID = logging.NewCorrelationID()
		}
		if meta.FiredAt.IsZero() {
			meta.FiredAt = time.Now().UTC()
		}
		ev = withEnvelope(ev, meta)
	}
	r.route(logging.WithCorrelationID(ctx, meta.CorrelationID), ev)
}

func (r *Router) route(ctx context.Context, ev Event) {
	fire := true
	if sc, ok := ev.(StateChanged); ok {
		if r.isIgnored(sc.ID) {
			r.dropped(DropIgnored)
			return
		}
		sc, fire = r.applyStateChanged(ctx, sc)
		ev = sc
	}

	synthetic := false
	if sc, ok := ev.(StateChanged); ok {
		synthetic = sc.Synthetic
	}
	if r.metrics != nil {
		r.metrics.EventRouted(string(ev.Kind()), synthetic)
	}

	for _, o := range r.observers {
		o.Observe(ctx, ev)
	}
	if fire && r.dispatcher != nil {
		r.dispatcher.Dispatch(ctx, ev)
	}
}

// applyStateChanged writes a transition to the cache and reports whether
// it should fire triggers: creations and removals never do, and a
// transition does only when the primary state changed.
func (r *Router) applyStateChanged(ctx context.Context, ev StateChanged) (StateChanged, bool) {
	corr := ev.CorrelationID
	switch {
	case ev.New == nil:
		if err := r.state.DeleteEntity(ctx, ev.ID); err != nil {
			r.logger.Error("removing entity from cache failed", "entity_id", ev.ID.String(), "error", err,
				logging.CorrelationKey, corr)
		}
		r.logger.Info("entity removed", "entity_id", ev.ID.String(), logging.CorrelationKey, corr)
		return ev, false

	case ev.Old == nil:
		r.register(ctx, ev.ID, corr)
		if err := r.state.ApplyChange(ctx, *ev.New); err != nil {
			r.logger.Error("caching new entity failed", "entity_id", ev.ID.String(), "error", err,
				logging.CorrelationKey, corr)
		}
		return ev, false
	}

	r.register(ctx, ev.ID, corr)
	next := ev.New.Clone()
	next.Attributes[entity.AttrPreviousState] = entity.MustValue(ev.Old.State)
	ev.New = &next

	if err := r.state.ApplyChange(ctx, next); err != nil {
		r.logger.Error("caching state change failed", "entity_id", ev.ID.String(), "error", err,
			logging.CorrelationKey, corr)
	}
	changed := ev.Old.State != next.State
	if changed {
		r.logger.Debug("state changed", "entity_id", ev.ID.String(), "from", ev.Old.State, "to", next.State,
			"synthetic", ev.Synthetic, logging.CorrelationKey, corr)
	}
	return ev, changed
}

func (r *Router) register(ctx context.Context, id entity.ID, corr string) {
	first, err := r.state.MarkRegistered(ctx, id)
	if err != nil {
		r.logger.Warn("registration tracking failed", "entity_id", id.String(), "error", err)
		return
	}
	if first {
		r.logger.Info("entity discovered", "entity_id", id.String(), logging.CorrelationKey, corr)
	}
}

// Warm implements hub.Sink: snapshots are cached without firing anything.
func (r *Router) Warm(ctx context.Context, snaps []entity.Snapshot) {
	n := 0
	for _, snap := range snaps {
		if r.isIgnored(snap.ID) {
			continue
		}
		r.register(ctx, snap.ID, "")
		if err := r.state.ApplyChange(ctx, snap); err != nil {
			r.logger.Error("warming cache failed", "entity_id", snap.ID.String(), "error", err)
			continue
		}
		n++
	}
	r.logger.Info("state cache warmed", "entities", n)
}

// Resync implements hub.Sink: each snapshot is republished as a synthetic
// transition from the last cached snapshot.
func (r *Router) Resync(ctx context.Context, snaps []entity.Snapshot) {
	now := time.Now().UTC()
	for _, snap := range snaps {
		if r.isIgnored(snap.ID) {
			continue
		}
		next := snap
		ev := StateChanged{
			Envelope:  Envelope{CorrelationID: logging.NewCorrelationID(), FiredAt: now},
			ID:        snap.ID,
			New:       &next,
			Synthetic: true,
		}
		prev, ok, err := r.state.Cached(ctx, snap.ID)
		if err != nil {
			r.logger.Warn("reading cached snapshot for resync failed", "entity_id", snap.ID.String(), "error", err)
		}
		if ok {
			ev.Old = &prev
		}
		r.route(logging.WithCorrelationID(ctx, ev.CorrelationID), ev)
	}
	r.logger.Info("resync republished", "entities", len(snaps))
}

func (r *Router) dropped(reason string) {
	if r.metrics != nil {
		r.metrics.EventDropped(reason)
	}
}

// withEnvelope returns ev with its envelope replaced.
func withEnvelope(ev Event, env Envelope) Event {
	switch e := ev.(type) {
	case StateChanged:
		e.Envelope = env
		return e
	case EventFired:
		e.Envelope = env
		return e
	case NotificationAction:
		e.Envelope = env
		return e
	case HubLifecycle:
		e.Envelope = env
		return e
	case ServiceLifecycle:
		e.Envelope = env
		return e
	}
	return ev
}
