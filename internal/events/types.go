package events

import (
	"time"

	"github.com/nerrad567/hubrelay/internal/entity"
)

// Kind names a record variant. It is also the trigger category.
type Kind string

// Record kinds.
const (
	KindStateChanged       Kind = "state_changed"
	KindEventFired         Kind = "event_fired"
	KindNotificationAction Kind = "notification_action"
	KindHubLifecycle       Kind = "hub_lifecycle"
	KindServiceLifecycle   Kind = "service_lifecycle"
)

// Phase is a lifecycle transition.
type Phase string

// Lifecycle phases.
const (
	PhaseStart Phase = "start"
	PhaseStop  Phase = "stop"
)

// Envelope is carried by every record.
type Envelope struct {
	CorrelationID string
	FiredAt       time.Time
}

// Meta returns the envelope.
func (e Envelope) Meta() Envelope { return e }

func (Envelope) isEvent() {}

// Event is a classified inbound record. The set of implementations is
// closed to this package.
type Event interface {
	Kind() Kind
	Meta() Envelope
	isEvent()
}

// StateChanged is an entity state transition. Old is nil when the entity
// was just created; New is nil when it was removed.
type StateChanged struct {
	Envelope
	ID  entity.ID
	Old *entity.Snapshot
	New *entity.Snapshot

	// Synthetic is set on transitions rebuilt after a stale reconnect.
	Synthetic bool
}

// Kind implements Event.
func (StateChanged) Kind() Kind { return KindStateChanged }

// FromState returns the previous primary state, or "" on creation.
func (e StateChanged) FromState() string {
	if e.Old == nil {
		return ""
	}
	return e.Old.State
}

// ToState returns the new primary state, or "" on removal.
func (e StateChanged) ToState() string {
	if e.New == nil {
		return ""
	}
	return e.New.State
}

// EventFired is any hub event without a dedicated record.
type EventFired struct {
	Envelope
	Type   string
	Data   map[string]any
	UserID string
}

// Kind implements Event.
func (EventFired) Kind() Kind { return KindEventFired }

// NotificationAction is a push-notification button press.
type NotificationAction struct {
	Envelope
	Action     string
	DeviceID   string
	DeviceName string
	Data       map[string]any
}

// Kind implements Event.
func (NotificationAction) Kind() Kind { return KindNotificationAction }

// HubLifecycle reports the hub starting or stopping.
type HubLifecycle struct {
	Envelope
	Phase Phase
}

// Kind implements Event.
func (HubLifecycle) Kind() Kind { return KindHubLifecycle }

// ServiceLifecycle reports this service starting or stopping.
type ServiceLifecycle struct {
	Envelope
	Phase Phase
}

// Kind implements Event.
func (ServiceLifecycle) Kind() Kind { return KindServiceLifecycle }
