package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hubrelay/internal/entity"
	"github.com/nerrad567/hubrelay/internal/events"
	"github.com/nerrad567/hubrelay/internal/infrastructure/mqtt"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type mockPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic, payload, qos, retained})
	return p.err
}

func (p *mockPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

var firedAt = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func snap(id, state string, attrs map[string]any) *entity.Snapshot {
	s, _ := entity.NewSnapshot(entity.MustID(id), state, attrs, firedAt)
	return &s
}

func env(corr string) events.Envelope {
	return events.Envelope{CorrelationID: corr, FiredAt: firedAt}
}

func TestMQTT_StateChangeRetained(t *testing.T) {
	pub := &mockPublisher{}
	m := NewMQTT(pub, mqtt.NewTopics("hubrelay"), 1, 0)
	m.Start()

	m.Observe(context.Background(), events.StateChanged{
		Envelope: env("c-1"),
		ID:       entity.MustID("light.kitchen"),
		Old:      snap("light.kitchen", "off", nil),
		New:      snap("light.kitchen", "on", map[string]any{"brightness": 200}),
	})
	m.Stop()

	msgs := pub.all()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	got := msgs[0]
	if got.topic != "hubrelay/state/light/kitchen" || !got.retained || got.qos != 1 {
		t.Errorf("message = %q retained=%v qos=%d", got.topic, got.retained, got.qos)
	}

	var body struct {
		EntityID      string         `json:"entity_id"`
		State         string         `json:"state"`
		Attributes    map[string]any `json:"attributes"`
		CorrelationID string         `json:"correlation_id"`
	}
	if err := json.Unmarshal(got.payload, &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body.EntityID != "light.kitchen" || body.State != "on" || body.CorrelationID != "c-1" {
		t.Errorf("body = %+v", body)
	}
	if body.Attributes["brightness"] != float64(200) {
		t.Errorf("brightness = %v, want 200", body.Attributes["brightness"])
	}
}

func TestMQTT_RemovalClearsRetained(t *testing.T) {
	pub := &mockPublisher{}
	m := NewMQTT(pub, mqtt.NewTopics("hubrelay"), 0, 0)
	m.Start()

	m.Observe(context.Background(), events.StateChanged{
		Envelope: env("c-2"),
		ID:       entity.MustID("sensor.gone"),
		Old:      snap("sensor.gone", "1", nil),
	})
	m.Stop()

	msgs := pub.all()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "hubrelay/state/sensor/gone" || len(msgs[0].payload) != 0 || !msgs[0].retained {
		t.Errorf("removal message = %+v, want empty retained payload", msgs[0])
	}
}

func TestMQTT_EventTopics(t *testing.T) {
	tests := []struct {
		name      string
		ev        events.Event
		wantTopic string
		wantKind  string
	}{
		{
			name:      "fired event",
			ev:        events.EventFired{Envelope: env("a"), Type: "call_service", Data: map[string]any{"domain": "light"}, UserID: "u1"},
			wantTopic: "hubrelay/event/event_fired/call_service",
			wantKind:  "event_fired",
		},
		{
			name:      "notification action",
			ev:        events.NotificationAction{Envelope: env("b"), Action: "SNOOZE", DeviceID: "phone"},
			wantTopic: "hubrelay/event/notification_action/SNOOZE",
			wantKind:  "notification_action",
		},
		{
			name:      "hub lifecycle",
			ev:        events.HubLifecycle{Envelope: env("c"), Phase: events.PhaseStart},
			wantTopic: "hubrelay/event/hub_lifecycle/start",
			wantKind:  "hub_lifecycle",
		},
		{
			name:      "service lifecycle",
			ev:        events.ServiceLifecycle{Envelope: env("d"), Phase: events.PhaseStop},
			wantTopic: "hubrelay/event/service_lifecycle/stop",
			wantKind:  "service_lifecycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{}
			m := NewMQTT(pub, mqtt.NewTopics("hubrelay"), 1, 0)
			m.Start()
			m.Observe(context.Background(), tt.ev)
			m.Stop()

			msgs := pub.all()
			if len(msgs) != 1 {
				t.Fatalf("published %d messages, want 1", len(msgs))
			}
			if msgs[0].topic != tt.wantTopic {
				t.Errorf("topic = %q, want %q", msgs[0].topic, tt.wantTopic)
			}
			if msgs[0].retained {
				t.Error("events must not be retained")
			}
			var body EventPayload
			if err := json.Unmarshal(msgs[0].payload, &body); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if string(body.Kind) != tt.wantKind || body.CorrelationID != tt.ev.Meta().CorrelationID {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestMQTT_FullQueueDrops(t *testing.T) {
	pub := &mockPublisher{}
	m := NewMQTT(pub, mqtt.NewTopics("hubrelay"), 1, 1)

	// Not started: the first message fills the queue.
	for range 3 {
		m.Observe(context.Background(), events.HubLifecycle{Envelope: env("x"), Phase: events.PhaseStart})
	}
	if got := m.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}

	m.Start()
	m.Stop()
	if got := len(pub.all()); got != 1 {
		t.Errorf("published %d messages after drain, want 1", got)
	}
}

func TestMQTT_ObserveAfterStop(t *testing.T) {
	pub := &mockPublisher{}
	m := NewMQTT(pub, mqtt.NewTopics("hubrelay"), 1, 0)
	m.Start()
	m.Stop()

	m.Observe(context.Background(), events.HubLifecycle{Envelope: env("x"), Phase: events.PhaseStop})
	if got := len(pub.all()); got != 0 {
		t.Errorf("published %d messages after Stop, want 0", got)
	}
	m.Stop()
}

func TestMQTT_PublishErrorDoesNotStopWorker(t *testing.T) {
	pub := &mockPublisher{err: errors.New("mqtt: client not connected")}
	m := NewMQTT(pub, mqtt.NewTopics("hubrelay"), 1, 0)
	m.Start()
	for range 2 {
		m.Observe(context.Background(), events.HubLifecycle{Envelope: env("x"), Phase: events.PhaseStart})
	}
	m.Stop()

	if got := len(pub.all()); got != 2 {
		t.Errorf("publish attempts = %d, want 2", got)
	}
}
