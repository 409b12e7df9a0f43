package mirror

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/hubrelay/internal/events"
	"github.com/nerrad567/hubrelay/internal/infrastructure/influxdb"
)

// PointWriter is the part of influxdb.Client the history mirror needs.
type PointWriter interface {
	WriteEntityState(domain, entityID string, fields map[string]any, ts time.Time)
}

var _ PointWriter = (*influxdb.Client)(nil)

// History records entity state history. Numeric states are written as a
// float "value" field and on/off states as a boolean "on" field; other
// states are skipped.
type History struct {
	w       PointWriter
	domains map[string]struct{}
	logger  Logger
}

var _ events.Observer = (*History)(nil)

// NewHistory writes through w. With domains set, only those entity
// domains are recorded.
func NewHistory(w PointWriter, domains ...string) *History {
	h := &History{w: w, logger: noopLogger{}}
	if len(domains) > 0 {
		h.domains = make(map[string]struct{}, len(domains))
		for _, d := range domains {
			h.domains[d] = struct{}{}
		}
	}
	return h
}

// SetLogger sets the logger for the mirror.
func (h *History) SetLogger(logger Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// Observe implements events.Observer. The influx write API is
// non-blocking, so the point is handed over directly.
func (h *History) Observe(_ context.Context, ev events.Event) {
	sc, ok := ev.(events.StateChanged)
	if !ok || sc.New == nil {
		return
	}
	domain := sc.ID.Domain()
	if h.domains != nil {
		if _, ok := h.domains[domain]; !ok {
			return
		}
	}
	fields := StateFields(sc.New.State)
	if fields == nil {
		return
	}
	ts := sc.New.LastUpdated
	if ts.IsZero() {
		ts = sc.FiredAt
	}
	h.w.WriteEntityState(domain, sc.ID.String(), fields, ts)
	h.logger.Debug("history point written", "entity_id", sc.ID, "correlation_id", sc.CorrelationID)
}

// StateFields maps a primary state to history fields, or nil when the
// state is neither numeric nor on/off.
func StateFields(state string) map[string]any {
	switch strings.ToLower(state) {
	case "on", "true", "open", "home":
		return map[string]any{"on": true}
	case "off", "false", "closed", "not_home":
		return map[string]any{"on": false}
	case "", "unknown", "unavailable", "nan", "inf", "+inf", "-inf", "infinity", "-infinity":
		return nil
	}
	f, err := strconv.ParseFloat(state, 64)
	if err != nil {
		return nil
	}
	return map[string]any{"value": f}
}
