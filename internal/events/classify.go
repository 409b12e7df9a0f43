package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/hubrelay/internal/bridges/hub"
	"github.com/nerrad567/hubrelay/internal/entity"
)

// stateChangedData is the data of a state_changed event.
type stateChangedData struct {
	EntityID string          `json:"entity_id"`
	OldState json.RawMessage `json:"old_state"`
	NewState json.RawMessage `json:"new_state"`
}

// notificationData is the data of a notification action event.
type notificationData struct {
	ActionName       string         `json:"actionName"`
	SourceDeviceID   string         `json:"sourceDeviceID"`
	SourceDeviceName string         `json:"sourceDeviceName"`
	ActionData       map[string]any `json:"action_data"`
}

// Classify builds the typed record for one raw hub event. Errors wrap
// ErrMalformedEvent.
func Classify(raw hub.Event, correlationID string) (Event, error) {
	env := Envelope{CorrelationID: correlationID, FiredAt: raw.TimeFired.UTC()}
	if raw.TimeFired.IsZero() {
		env.FiredAt = time.Now().UTC()
	}

	switch raw.EventType {
	case hub.EventStateChanged:
		return classifyStateChanged(raw.Data, env)

	case hub.EventNotificationAction:
		var d notificationData
		if err := unmarshalData(raw.Data, &d); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedEvent, raw.EventType, err)
		}
		if d.ActionName == "" {
			return nil, fmt.Errorf("%w: %s without actionName", ErrMalformedEvent, raw.EventType)
		}
		data := normalizeNumbers(d.ActionData)
		if data == nil {
			data = map[string]any{}
		}
		return NotificationAction{
			Envelope:   env,
			Action:     d.ActionName,
			DeviceID:   d.SourceDeviceID,
			DeviceName: d.SourceDeviceName,
			Data:       data.(map[string]any),
		}, nil

	case hub.EventHubStarted:
		return HubLifecycle{Envelope: env, Phase: PhaseStart}, nil

	case hub.EventHubStopped:
		return HubLifecycle{Envelope: env, Phase: PhaseStop}, nil

	case "":
		return nil, fmt.Errorf("%w: missing event_type", ErrMalformedEvent)
	}

	var data map[string]any
	if err := unmarshalData(raw.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedEvent, raw.EventType, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return EventFired{
		Envelope: env,
		Type:     raw.EventType,
		Data:     normalizeNumbers(data).(map[string]any),
		UserID:   raw.Context.UserID,
	}, nil
}

func classifyStateChanged(raw json.RawMessage, env Envelope) (Event, error) {
	var d stateChangedData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: state_changed: %w", ErrMalformedEvent, err)
	}
	id, err := entity.ParseID(d.EntityID)
	if err != nil {
		return nil, fmt.Errorf("%w: state_changed: %w", ErrMalformedEvent, err)
	}

	old, err := optionalState(d.OldState)
	if err != nil {
		return nil, fmt.Errorf("%w: %s old_state: %w", ErrMalformedEvent, id, err)
	}
	next, err := optionalState(d.NewState)
	if err != nil {
		return nil, fmt.Errorf("%w: %s new_state: %w", ErrMalformedEvent, id, err)
	}
	if old == nil && next == nil {
		return nil, fmt.Errorf("%w: %s has neither old nor new state", ErrMalformedEvent, id)
	}
	for _, s := range []*entity.Snapshot{old, next} {
		if s != nil && s.ID != id {
			return nil, fmt.Errorf("%w: state for %s inside event for %s", ErrMalformedEvent, s.ID, id)
		}
	}
	return StateChanged{Envelope: env, ID: id, Old: old, New: next}, nil
}

// optionalState decodes an entity payload that may be absent or null.
func optionalState(raw json.RawMessage) (*entity.Snapshot, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	snap, err := hub.DecodeState(raw)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func unmarshalData(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// normalizeNumbers replaces json.Number with int64 or float64, recursively.
func normalizeNumbers(x any) any {
	switch t := x.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		if t == nil {
			return nil
		}
		for k, v := range t {
			t[k] = normalizeNumbers(v)
		}
		return t
	case []any:
		for i, v := range t {
			t[i] = normalizeNumbers(v)
		}
		return t
	}
	return x
}
