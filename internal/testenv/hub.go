package testenv

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/hubrelay/internal/bridges/hub"
	"github.com/nerrad567/hubrelay/internal/entity"
	"github.com/nerrad567/hubrelay/internal/state"
)

// Mutation is one recorded state write.
type Mutation struct {
	ID         entity.ID
	State      string
	Attributes map[string]entity.Value
}

// Action is one recorded service call.
type Action struct {
	Domain string
	Action string
	ID     entity.ID
	Params map[string]any
}

// ActionFilter selects recorded actions. Zero fields match anything.
type ActionFilter struct {
	Domain string
	Action string
	ID     entity.ID
}

func (f ActionFilter) match(a Action) bool {
	return (f.Domain == "" || f.Domain == a.Domain) &&
		(f.Action == "" || f.Action == a.Action) &&
		(f.ID.IsZero() || f.ID == a.ID)
}

// FakeHub is an in-memory hub that records every write. It satisfies
// state.Hub.
type FakeHub struct {
	mu        sync.Mutex
	now       func() time.Time
	states    map[entity.ID]entity.Snapshot
	mutations []Mutation
	actions   []Action
	responses [][]entity.Snapshot
	healthErr error
}

var _ state.Hub = (*FakeHub)(nil)

// NewFakeHub returns an empty hub using now for timestamps.
func NewFakeHub(now func() time.Time) *FakeHub {
	if now == nil {
		now = time.Now
	}
	return &FakeHub{now: now, states: make(map[entity.ID]entity.Snapshot)}
}

// Put stores snap without recording a mutation.
func (h *FakeHub) Put(snap entity.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[snap.ID] = snap.Clone()
}

// SetHealth makes Health return err.
func (h *FakeHub) SetHealth(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthErr = err
}

// Health reports the configured health error.
func (h *FakeHub) Health(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthErr
}

// GetState implements state.Hub.
func (h *FakeHub) GetState(_ context.Context, id entity.ID) (entity.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap, ok := h.states[id]
	if !ok {
		return entity.Snapshot{}, hub.ErrEntityNotFound
	}
	return snap.Clone(), nil
}

// GetStates implements state.Hub.
func (h *FakeHub) GetStates(context.Context) ([]entity.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]entity.Snapshot, 0, len(h.states))
	for _, s := range h.states {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// SetState implements state.Hub and records a Mutation.
func (h *FakeHub) SetState(_ context.Context, id entity.ID, st string, attrs map[string]entity.Value) (entity.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mutations = append(h.mutations, Mutation{ID: id, State: st, Attributes: maps.Clone(attrs)})

	now := h.now().UTC()
	snap := entity.Snapshot{ID: id, State: st, Attributes: maps.Clone(attrs), LastUpdated: now}
	if snap.Attributes == nil {
		snap.Attributes = make(map[string]entity.Value)
	}
	changed := now
	if prev, ok := h.states[id]; ok && prev.State == st {
		if v, ok := prev.Attribute(entity.AttrLastChanged); ok {
			if t, ok := v.Time(); ok {
				changed = t
			}
		}
	}
	snap.Attributes[entity.AttrLastChanged] = entity.MustValue(changed)
	snap.Attributes[entity.AttrLastUpdated] = entity.MustValue(now)
	h.states[id] = snap
	return snap.Clone(), nil
}

// DeleteState implements state.Hub.
func (h *FakeHub) DeleteState(_ context.Context, id entity.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.states[id]; !ok {
		return hub.ErrEntityNotFound
	}
	delete(h.states, id)
	return nil
}

// CallService implements state.Hub. It records an Action and returns the
// next queued response, applying its snapshots to the hub's states.
func (h *FakeHub) CallService(_ context.Context, domain, service string, id entity.ID, params map[string]any) ([]entity.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = append(h.actions, Action{Domain: domain, Action: service, ID: id, Params: maps.Clone(params)})
	if len(h.responses) == 0 {
		return nil, nil
	}
	resp := h.responses[0]
	h.responses = h.responses[1:]
	for _, s := range resp {
		h.states[s.ID] = s.Clone()
	}
	return resp, nil
}

// SetActionResponses queues responses returned by successive CallService
// calls, first in first out.
func (h *FakeHub) SetActionResponses(responses ...[]entity.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, responses...)
}

// Mutations returns the recorded writes to id, oldest first. A zero id
// returns every write.
func (h *FakeHub) Mutations(id entity.ID) []Mutation {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Mutation
	for _, m := range h.mutations {
		if id.IsZero() || m.ID == id {
			out = append(out, m)
		}
	}
	return out
}

// Actions returns the recorded service calls matching f, oldest first.
func (h *FakeHub) Actions(f ActionFilter) []Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Action
	for _, a := range h.actions {
		if f.match(a) {
			out = append(out, a)
		}
	}
	return out
}

// ClearCalls forgets recorded mutations and actions but keeps states.
func (h *FakeHub) ClearCalls() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mutations = nil
	h.actions = nil
}

// Reset clears states, recordings, queued responses, and health.
func (h *FakeHub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = make(map[entity.ID]entity.Snapshot)
	h.mutations = nil
	h.actions = nil
	h.responses = nil
	h.healthErr = nil
}
