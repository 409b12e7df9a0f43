package entity

import (
	"maps"
	"sort"
	"time"
)

// Attribute names the hub always reports and that are cached alongside the
// entity's own attributes.
const (
	AttrLastChanged   = "last_changed"
	AttrLastUpdated   = "last_updated"
	AttrPreviousState = "previous_state"
)

// Snapshot is the full picture of one entity at one instant. A newer
// Snapshot for the same entity supersedes an older one entirely; attributes
// are never merged across snapshots.
type Snapshot struct {
	ID          ID
	State       string
	Attributes  map[string]Value
	LastUpdated time.Time
}

// NewSnapshot builds a Snapshot from loosely typed attributes. Attribute
// names are normalized; nil and unsupported values are dropped. The returned
// slice lists the names that were dropped.
func NewSnapshot(id ID, state string, attrs map[string]any, lastUpdated time.Time) (Snapshot, []string) {
	snap := Snapshot{
		ID:          id,
		State:       state,
		Attributes:  make(map[string]Value, len(attrs)),
		LastUpdated: lastUpdated.UTC(),
	}
	var dropped []string
	for name, raw := range attrs {
		var (
			v   Value
			err error
		)
		if s, ok := raw.(string); ok {
			v, err = fromDecoded(s)
		} else if raw != nil {
			v, err = NewValue(raw)
		}
		key := NormalizeAttributeName(name)
		if err != nil || v.IsZero() || !ValidAttributeName(key) {
			dropped = append(dropped, name)
			continue
		}
		snap.Attributes[key] = v
	}
	sort.Strings(dropped)
	return snap, dropped
}

// Attribute returns the named attribute.
func (s Snapshot) Attribute(name string) (Value, bool) {
	v, ok := s.Attributes[name]
	return v, ok
}

// AttributeNames returns the attribute names in sorted order.
func (s Snapshot) AttributeNames() []string {
	names := make([]string, 0, len(s.Attributes))
	for name := range s.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy whose attribute map can be modified independently.
// Mapping and sequence values are shared; Value exposes them read-only.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Attributes = maps.Clone(s.Attributes)
	if c.Attributes == nil {
		c.Attributes = map[string]Value{}
	}
	return c
}

// IsZero reports whether s is the empty Snapshot.
func (s Snapshot) IsZero() bool {
	return s.ID.IsZero()
}
