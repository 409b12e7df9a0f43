package mirror

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/hubrelay/internal/entity"
	"github.com/nerrad567/hubrelay/internal/events"
	"github.com/nerrad567/hubrelay/internal/infrastructure/mqtt"
)

// DefaultQueueSize bounds the MQTT mirror's pending messages.
const DefaultQueueSize = 1024

// Publisher is the part of mqtt.Client the mirror needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

var _ Publisher = (*mqtt.Client)(nil)

// StatePayload is the retained message body of an entity's state topic.
type StatePayload struct {
	EntityID      entity.ID               `json:"entity_id"`
	State         string                  `json:"state"`
	Attributes    map[string]entity.Value `json:"attributes"`
	LastUpdated   time.Time               `json:"last_updated"`
	CorrelationID string                  `json:"correlation_id,omitempty"`
}

// EventPayload is the body of an event topic message.
type EventPayload struct {
	Kind          events.Kind    `json:"kind"`
	Type          string         `json:"type,omitempty"`
	Phase         events.Phase   `json:"phase,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	DeviceID      string         `json:"device_id,omitempty"`
	DeviceName    string         `json:"device_name,omitempty"`
	FiredAt       time.Time      `json:"fired_at"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

type message struct {
	topic    string
	payload  []byte
	retained bool
}

// MQTT publishes entity state (retained) and events to a broker.
//
// Lifecycle: NewMQTT, Start, attach to the router, Stop. Stop publishes
// whatever is still queued before returning.
type MQTT struct {
	pub    Publisher
	topics mqtt.Topics
	qos    byte
	logger Logger

	queue   chan message
	done    chan struct{}
	wg      sync.WaitGroup
	start   sync.Once
	stop    sync.Once
	dropped atomic.Uint64
}

var _ events.Observer = (*MQTT)(nil)

// NewMQTT creates a mirror publishing through pub. queueSize <= 0 uses
// DefaultQueueSize.
func NewMQTT(pub Publisher, topics mqtt.Topics, qos byte, queueSize int) *MQTT {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &MQTT{
		pub:    pub,
		topics: topics,
		qos:    qos,
		logger: noopLogger{},
		queue:  make(chan message, queueSize),
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the mirror.
func (m *MQTT) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Start launches the publishing worker.
func (m *MQTT) Start() {
	m.start.Do(func() {
		m.wg.Add(1)
		go m.run()
	})
}

// Stop drains the queue and waits for the worker.
func (m *MQTT) Stop() {
	m.stop.Do(func() { close(m.done) })
	m.wg.Wait()
}

// Dropped returns how many messages were discarded on a full queue.
func (m *MQTT) Dropped() uint64 {
	return m.dropped.Load()
}

// Observe implements events.Observer.
func (m *MQTT) Observe(_ context.Context, ev events.Event) {
	select {
	case <-m.done:
		return
	default:
	}

	msg, ok, err := m.encode(ev)
	if err != nil {
		m.logger.Warn("mirror: encoding record failed", "kind", ev.Kind(), "error", err,
			"correlation_id", ev.Meta().CorrelationID)
		return
	}
	if !ok {
		return
	}

	select {
	case m.queue <- msg:
	default:
		m.dropped.Add(1)
		m.logger.Warn("mirror: queue full, message dropped", "topic", msg.topic)
	}
}

func (m *MQTT) run() {
	defer m.wg.Done()
	for {
		select {
		case msg := <-m.queue:
			m.publish(msg)
		case <-m.done:
			for {
				select {
				case msg := <-m.queue:
					m.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (m *MQTT) publish(msg message) {
	if err := m.pub.Publish(msg.topic, msg.payload, m.qos, msg.retained); err != nil {
		m.logger.Warn("mirror: publish failed", "topic", msg.topic, "error", err)
	}
}

// encode maps a record to its message. Entity creation and removal are
// mirrored too: a removal clears the retained state with an empty payload.
func (m *MQTT) encode(ev events.Event) (message, bool, error) {
	meta := ev.Meta()
	var p EventPayload
	switch e := ev.(type) {
	case events.StateChanged:
		topic := m.topics.State(e.ID)
		if e.New == nil {
			return message{topic: topic, retained: true}, true, nil
		}
		b, err := json.Marshal(StatePayload{
			EntityID:      e.ID,
			State:         e.New.State,
			Attributes:    e.New.Attributes,
			LastUpdated:   e.New.LastUpdated,
			CorrelationID: meta.CorrelationID,
		})
		return message{topic: topic, payload: b, retained: true}, err == nil, err
	case events.EventFired:
		p = EventPayload{Type: e.Type, Data: e.Data, UserID: e.UserID}
	case events.NotificationAction:
		p = EventPayload{Type: e.Action, Data: e.Data, DeviceID: e.DeviceID, DeviceName: e.DeviceName}
	case events.HubLifecycle:
		p = EventPayload{Phase: e.Phase}
	case events.ServiceLifecycle:
		p = EventPayload{Phase: e.Phase}
	default:
		return message{}, false, nil
	}

	p.Kind = ev.Kind()
	p.FiredAt = meta.FiredAt
	p.CorrelationID = meta.CorrelationID
	sub := p.Type
	if sub == "" {
		sub = string(p.Phase)
	}
	b, err := json.Marshal(p)
	return message{topic: m.topics.Event(string(p.Kind), sub), payload: b}, err == nil, err
}
