package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/hubrelay/internal/entity"
	"github.com/nerrad567/hubrelay/internal/events"
)

// memRepo records created entries.
type memRepo struct {
	mu   sync.Mutex
	logs []AuditLog
	err  error
}

func (m *memRepo) Create(_ context.Context, log *AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, *log)
	return nil
}

func (m *memRepo) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("not implemented")
}

func (m *memRepo) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.logs))
	for i, l := range m.logs {
		out[i] = l.Action
	}
	return out
}

func TestEntry(t *testing.T) {
	id := entity.MustID("light.kitchen")
	snap := &entity.Snapshot{ID: id, State: "on"}
	env := events.Envelope{CorrelationID: "c-1", FiredAt: base}

	tests := []struct {
		name    string
		ev      events.Event
		ok      bool
		action  string
		source  string
		subject string
	}{
		{"hub start", events.HubLifecycle{Envelope: env, Phase: events.PhaseStart}, true, ActionHubStarted, SourceHub, ""},
		{"hub stop", events.HubLifecycle{Envelope: env, Phase: events.PhaseStop}, true, ActionHubStopped, SourceHub, ""},
		{"service start", events.ServiceLifecycle{Envelope: env, Phase: events.PhaseStart}, true, ActionServiceStarted, SourceService, ""},
		{"service stop", events.ServiceLifecycle{Envelope: env, Phase: events.PhaseStop}, true, ActionServiceStopped, SourceService, ""},
		{"notification", events.NotificationAction{Envelope: env, Action: "open_door", DeviceID: "phone"}, true, ActionNotificationAction, SourceHub, "open_door"},
		{"entity added", events.StateChanged{Envelope: env, ID: id, New: snap}, true, ActionEntityAdded, SourceHub, "light.kitchen"},
		{"entity removed", events.StateChanged{Envelope: env, ID: id, Old: snap}, true, ActionEntityRemoved, SourceHub, "light.kitchen"},
		{"transition", events.StateChanged{Envelope: env, ID: id, Old: snap, New: snap}, false, "", "", ""},
		{"generic event", events.EventFired{Envelope: env, Type: "call_service"}, false, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Entry(tt.ev)
			if ok != tt.ok {
				t.Fatalf("Entry() ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.Action != tt.action || got.Source != tt.source || got.Subject != tt.subject {
				t.Errorf("Entry() = %s/%s/%s, want %s/%s/%s",
					got.Action, got.Source, got.Subject, tt.action, tt.source, tt.subject)
			}
			if got.CorrelationID != "c-1" || !got.CreatedAt.Equal(base) {
				t.Errorf("Entry() envelope = %q %v", got.CorrelationID, got.CreatedAt)
			}
		})
	}
}

func TestRecorder_WritesQueuedEntries(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, 0)
	ctx := context.Background()

	// Queued before Start, written once the worker runs.
	rec.Observe(ctx, events.ServiceLifecycle{Phase: events.PhaseStart})
	rec.Start()
	rec.Observe(ctx, events.NotificationAction{Action: "open_door"})
	rec.Observe(ctx, events.EventFired{Type: "ignored"})
	rec.Stop()

	got := repo.actions()
	if len(got) != 2 || got[0] != ActionServiceStarted || got[1] != ActionNotificationAction {
		t.Errorf("written = %v", got)
	}

	rec.Observe(ctx, events.ServiceLifecycle{Phase: events.PhaseStop})
	if n := len(repo.actions()); n != 2 {
		t.Errorf("Observe after Stop wrote, have %d entries", n)
	}
}

func TestRecorder_DropsOnFullQueue(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec.Observe(ctx, events.HubLifecycle{Phase: events.PhaseStart})
	}
	if rec.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", rec.Dropped())
	}
	rec.Start()
	rec.Stop()
	if n := len(repo.actions()); n != 1 {
		t.Errorf("written %d entries, want 1", n)
	}
}

func TestRecorder_WriteErrorKeepsRunning(t *testing.T) {
	repo := &memRepo{err: errors.New("disk full")}
	rec := NewRecorder(repo, 0)
	rec.Start()
	rec.Observe(context.Background(), events.HubLifecycle{Phase: events.PhaseStop})
	rec.Stop()
	if len(repo.actions()) != 0 {
		t.Error("failed write should not be recorded")
	}
}
