package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/hubrelay/internal/entity"
)

// Streaming message types.
const (
	msgAuthRequired    = "auth_required"
	msgAuth            = "auth"
	msgAuthOK          = "auth_ok"
	msgAuthInvalid     = "auth_invalid"
	msgSubscribeEvents = "subscribe_events"
	msgResult          = "result"
	msgEvent           = "event"
	msgPing            = "ping"
	msgPong            = "pong"
)

// Hub event types with dedicated handling.
const (
	EventStateChanged       = "state_changed"
	EventNotificationAction = "ios.notification_action_fired"
	EventHubStarted         = "homeassistant_started"
	EventHubStopped         = "homeassistant_final_write"
)

// requiredStateKeys must be present on every entity payload.
var requiredStateKeys = []string{"entity_id", "state", "attributes", "last_changed", "last_updated"}

// message is the envelope of every streaming frame, in either direction.
type message struct {
	ID          int           `json:"id,omitempty"`
	Type        string        `json:"type"`
	AccessToken string        `json:"access_token,omitempty"`
	Success     *bool         `json:"success,omitempty"`
	Error       *messageError `json:"error,omitempty"`
	Message     string        `json:"message,omitempty"`
	HAVersion   string        `json:"ha_version,omitempty"`
	Event       *Event        `json:"event,omitempty"`
}

type messageError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventContext identifies who or what caused an event.
type EventContext struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	ParentID string `json:"parent_id"`
}

// Event is one raw event from the stream, before classification.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	TimeFired time.Time       `json:"time_fired"`
	Origin    string          `json:"origin"`
	Context   EventContext    `json:"context"`
}

// StatePayload is the hub's JSON representation of one entity.
type StatePayload map[string]json.RawMessage

// DecodeState decodes and validates one entity payload.
func DecodeState(raw []byte) (entity.Snapshot, error) {
	var p StatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return entity.Snapshot{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return p.Snapshot()
}

// Snapshot validates p and converts it. Attribute names are normalized,
// timestamp-like strings become timestamps, null attributes are dropped,
// and last_changed/last_updated are added as timestamp attributes.
func (p StatePayload) Snapshot() (entity.Snapshot, error) {
	var missing []string
	for _, k := range requiredStateKeys {
		if _, ok := p[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return entity.Snapshot{}, fmt.Errorf("%w: missing keys %s", ErrMalformedResponse, strings.Join(missing, ", "))
	}

	var rawID string
	if err := json.Unmarshal(p["entity_id"], &rawID); err != nil {
		return entity.Snapshot{}, fmt.Errorf("%w: entity_id: %w", ErrMalformedResponse, err)
	}
	id, err := entity.ParseID(rawID)
	if err != nil {
		return entity.Snapshot{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	state, err := stateString(p["state"])
	if err != nil {
		return entity.Snapshot{}, fmt.Errorf("%w: %s state: %w", ErrMalformedResponse, id, err)
	}

	var attrs map[string]any
	dec := json.NewDecoder(bytes.NewReader(p["attributes"]))
	dec.UseNumber()
	if err := dec.Decode(&attrs); err != nil {
		return entity.Snapshot{}, fmt.Errorf("%w: %s attributes: %w", ErrMalformedResponse, id, err)
	}

	lastChanged, err := decodeTime(p["last_changed"])
	if err != nil {
		return entity.Snapshot{}, fmt.Errorf("%w: %s last_changed: %w", ErrMalformedResponse, id, err)
	}
	lastUpdated, err := decodeTime(p["last_updated"])
	if err != nil {
		return entity.Snapshot{}, fmt.Errorf("%w: %s last_updated: %w", ErrMalformedResponse, id, err)
	}

	snap, _ := entity.NewSnapshot(id, state, attrs, lastUpdated)
	snap.Attributes[entity.AttrLastChanged] = entity.MustValue(lastChanged)
	snap.Attributes[entity.AttrLastUpdated] = entity.MustValue(lastUpdated)
	return snap, nil
}

// stateString returns the primary state as a string. Non-string states
// (numbers, booleans) are rendered as their JSON literal.
func stateString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var x any
	if err := json.Unmarshal(raw, &x); err != nil {
		return "", err
	}
	if x == nil {
		return "", nil
	}
	return strings.TrimSpace(string(raw)), nil
}

func decodeTime(raw json.RawMessage) (time.Time, error) {
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// EncodeAttributes renders attribute values for a REST write.
func EncodeAttributes(attrs map[string]entity.Value) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if v.IsZero() {
			continue
		}
		out[k] = v
	}
	return out
}
