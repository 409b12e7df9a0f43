package testenv

import (
	"context"
	"errors"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hubrelay/internal/automation"
	"github.com/nerrad567/hubrelay/internal/entity"
	"github.com/nerrad567/hubrelay/internal/events"
	"github.com/nerrad567/hubrelay/internal/infrastructure/cache"
	"github.com/nerrad567/hubrelay/internal/jobs"
	"github.com/nerrad567/hubrelay/internal/state"
)

// DefaultStart is the arena clock's starting instant unless Options.Start
// is set.
var DefaultStart = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

// Options configures an Arena.
type Options struct {
	// Production triggers also fire when Union is true. Otherwise only the
	// arena's own registry is consulted.
	Production *automation.Registry
	Union      bool

	// Routines are installed into the arena registry on creation.
	Routines []automation.Routine

	Start time.Time
}

// Arena wires the bridge with a fake hub, an in-memory cache, a
// synchronous dispatcher, and a manual job scheduler. Every trigger runs
// to completion before the Trigger call returns.
type Arena struct {
	tb testing.TB

	Hub        *FakeHub
	Cache      *cache.MemoryStore
	State      *state.Manager
	Registry   *automation.Registry
	Dispatcher *automation.Dispatcher
	Router     *events.Router
	Jobs       *jobs.Scheduler
	Services   automation.Services

	mu  sync.Mutex
	now time.Time
}

// New builds an arena for one test. Routine installation failures are
// fatal.
func New(tb testing.TB, opts Options) *Arena {
	tb.Helper()
	a := &Arena{tb: tb, now: opts.Start}
	if a.now.IsZero() {
		a.now = DefaultStart
	}

	a.Hub = NewFakeHub(a.Now)
	a.Cache = cache.NewMemoryStore()
	a.Cache.SetClock(a.Now)
	a.State = state.NewManager(a.Cache, a.Hub, state.Config{LockWait: 100 * time.Millisecond})

	a.Registry = automation.NewRegistry()
	source := automation.Overlay{Production: opts.Production, Test: a.Registry, Union: opts.Union}
	a.Dispatcher = automation.NewDispatcher(source, automation.DispatcherConfig{
		Mode:     automation.ModeSync,
		Location: time.UTC,
		Now:      a.Now,
	})
	a.Router = events.NewRouter(a.State, a.Dispatcher, nil)

	a.Jobs = jobs.NewScheduler(jobs.NewMemoryStore(), jobs.Config{Manual: true, Now: a.Now})
	if err := a.Jobs.Start(context.Background()); err != nil {
		tb.Fatalf("starting job scheduler: %v", err)
	}
	tb.Cleanup(a.Jobs.Stop)

	a.Services = automation.Services{State: a.State, Jobs: a.Jobs, Now: a.Now}
	if err := automation.Install(a.Registry, a.Services, opts.Routines...); err != nil {
		tb.Fatalf("installing routines: %v", err)
	}
	return a
}

func (a *Arena) ctx() context.Context { return context.Background() }

// Now returns the arena clock.
func (a *Arena) Now() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now
}

// Advance moves the clock forward by d and runs every job that became
// due. It returns the number of jobs run.
func (a *Arena) Advance(d time.Duration) int {
	a.tb.Helper()
	a.mu.Lock()
	a.now = a.now.Add(d)
	now := a.now
	a.mu.Unlock()

	n, err := a.Jobs.RunPending(a.ctx(), now)
	if err != nil {
		a.tb.Fatalf("running pending jobs: %v", err)
	}
	return n
}

// StartSolar schedules the first occurrence of every solar trigger from
// the current sun.sun state.
func (a *Arena) StartSolar() {
	a.tb.Helper()
	if err := a.Dispatcher.StartSolar(a.ctx(), a.State, a.Jobs); err != nil {
		a.tb.Fatalf("starting solar triggers: %v", err)
	}
}

func (a *Arena) snapshot(id entity.ID, st string, attrs map[string]any) entity.Snapshot {
	a.tb.Helper()
	now := a.Now()
	snap, dropped := entity.NewSnapshot(id, st, attrs, now)
	if len(dropped) > 0 {
		a.tb.Fatalf("unsupported attributes for %s: %v", id, dropped)
	}
	snap.Attributes[entity.AttrLastChanged] = entity.MustValue(now)
	snap.Attributes[entity.AttrLastUpdated] = entity.MustValue(now)
	return snap
}

// SetState makes id exist with st and attrs in both the hub and the
// cache, without firing triggers or recording a mutation.
func (a *Arena) SetState(id entity.ID, st string, attrs map[string]any) entity.Snapshot {
	a.tb.Helper()
	snap := a.snapshot(id, st, attrs)
	a.Hub.Put(snap)
	if err := a.State.ApplyChange(a.ctx(), snap); err != nil {
		a.tb.Fatalf("caching %s: %v", id, err)
	}
	return snap
}

// GetState returns the cached primary state of id.
func (a *Arena) GetState(id entity.ID) string {
	a.tb.Helper()
	st, err := a.State.State(a.ctx(), id)
	if err != nil {
		a.tb.Fatalf("reading state of %s: %v", id, err)
	}
	return st
}

// TriggerStateChange publishes a transition of id to newState. An empty
// oldState defaults to the current state, or "" for an unknown entity.
// The new state is stored in the hub and the cache.
func (a *Arena) TriggerStateChange(id entity.ID, oldState, newState string, newAttrs map[string]any) {
	a.tb.Helper()
	old := entity.Snapshot{ID: id, Attributes: map[string]entity.Value{}}
	cur, ok, err := a.State.Cached(a.ctx(), id)
	if err != nil {
		a.tb.Fatalf("reading %s: %v", id, err)
	}
	if ok {
		old = cur
	}
	if oldState != "" {
		old.State = oldState
	}

	next := a.snapshot(id, newState, newAttrs)
	a.Hub.Put(next)
	a.Router.Publish(a.ctx(), events.StateChanged{
		Envelope: events.Envelope{FiredAt: a.Now()},
		ID:       id,
		Old:      &old,
		New:      &next,
	})
}

// TriggerEvent publishes a generic hub event.
func (a *Arena) TriggerEvent(eventType string, data map[string]any, userID string) {
	a.Router.Publish(a.ctx(), events.EventFired{
		Envelope: events.Envelope{FiredAt: a.Now()},
		Type:     eventType,
		Data:     maps.Clone(data),
		UserID:   userID,
	})
}

// TriggerNotificationAction publishes a notification button press from
// deviceID.
func (a *Arena) TriggerNotificationAction(action, deviceID string, data map[string]any) {
	a.Router.Publish(a.ctx(), events.NotificationAction{
		Envelope:   events.Envelope{FiredAt: a.Now()},
		Action:     action,
		DeviceID:   deviceID,
		DeviceName: deviceID,
		Data:       maps.Clone(data),
	})
}

// TriggerHubLifecycle publishes the hub starting or stopping.
func (a *Arena) TriggerHubLifecycle(phase events.Phase) {
	a.Router.Publish(a.ctx(), events.HubLifecycle{Envelope: events.Envelope{FiredAt: a.Now()}, Phase: phase})
}

// TriggerServiceLifecycle publishes this service starting or stopping.
func (a *Arena) TriggerServiceLifecycle(phase events.Phase) {
	a.Router.Publish(a.ctx(), events.ServiceLifecycle{Envelope: events.Envelope{FiredAt: a.Now()}, Phase: phase})
}

// TriggerSchedule fires the triggers registered under expr. It returns
// how many fired.
func (a *Arena) TriggerSchedule(expr string) int {
	return a.Dispatcher.RunSchedule(a.ctx(), expr)
}

// SetActionResponses queues the states returned by successive actions.
func (a *Arena) SetActionResponses(responses ...[]entity.Snapshot) {
	a.Hub.SetActionResponses(responses...)
}

// Mutations returns the recorded writes to id.
func (a *Arena) Mutations(id entity.ID) []Mutation {
	return a.Hub.Mutations(id)
}

// Actions returns the recorded service calls matching f.
func (a *Arena) Actions(f ActionFilter) []Action {
	return a.Hub.Actions(f)
}

// AssertMutated fails unless id was written with primary state st.
func (a *Arena) AssertMutated(id entity.ID, st string) {
	a.tb.Helper()
	ms := a.Mutations(id)
	for _, m := range ms {
		if m.State == st {
			return
		}
	}
	a.tb.Errorf("expected %s to be set to %q; writes: %v", id, st, states(ms))
}

// AssertNotMutated fails if id was written at all.
func (a *Arena) AssertNotMutated(id entity.ID) {
	a.tb.Helper()
	if ms := a.Mutations(id); len(ms) > 0 {
		a.tb.Errorf("expected no writes to %s; got %v", id, states(ms))
	}
}

// AssertActionCalled fails unless at least one action matches f.
func (a *Arena) AssertActionCalled(f ActionFilter) {
	a.tb.Helper()
	if len(a.Actions(f)) == 0 {
		a.tb.Errorf("expected action %s.%s on %q to be called; all calls: %v",
			f.Domain, f.Action, f.ID.String(), a.Actions(ActionFilter{}))
	}
}

// AssertActionCalledTimes fails unless exactly n actions match f.
func (a *Arena) AssertActionCalledTimes(f ActionFilter, n int) {
	a.tb.Helper()
	if got := len(a.Actions(f)); got != n {
		a.tb.Errorf("expected action %s.%s to be called %d times, got %d", f.Domain, f.Action, n, got)
	}
}

// AssertActionNotCalled fails if any action matches f.
func (a *Arena) AssertActionNotCalled(f ActionFilter) {
	a.tb.Helper()
	if calls := a.Actions(f); len(calls) > 0 {
		a.tb.Errorf("expected action %s.%s not to be called; got %v", f.Domain, f.Action, calls)
	}
}

// AssertState fails unless the cached state of id is want.
func (a *Arena) AssertState(id entity.ID, want string) {
	a.tb.Helper()
	if got := a.GetState(id); got != want {
		a.tb.Errorf("state of %s = %q, want %q", id, got, want)
	}
}

// AssertJobScheduled fails unless a job with id is pending.
func (a *Arena) AssertJobScheduled(id string) jobs.Job {
	a.tb.Helper()
	for _, j := range a.pendingJobs() {
		if j.ID == id {
			return j
		}
	}
	a.tb.Errorf("expected job %s to be scheduled", id)
	return jobs.Job{}
}

// AssertJobNotScheduled fails if a job with id is pending.
func (a *Arena) AssertJobNotScheduled(id string) {
	a.tb.Helper()
	for _, j := range a.pendingJobs() {
		if j.ID == id {
			a.tb.Errorf("expected job %s not to be scheduled; runs at %v", id, j.RunAt)
		}
	}
}

func (a *Arena) pendingJobs() []jobs.Job {
	a.tb.Helper()
	js, err := a.Jobs.Jobs(a.ctx())
	if err != nil {
		a.tb.Fatalf("listing jobs: %v", err)
	}
	return js
}

// Reset clears hub state and recordings, the cache, and pending jobs.
// Registered triggers stay.
func (a *Arena) Reset() {
	a.tb.Helper()
	a.Hub.Reset()
	a.Cache.Flush()
	for _, j := range a.pendingJobs() {
		if err := a.Jobs.Cancel(a.ctx(), j.ID); err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
			a.tb.Fatalf("cancelling job %s: %v", j.ID, err)
		}
	}
}

func states(ms []Mutation) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.State
	}
	return out
}
