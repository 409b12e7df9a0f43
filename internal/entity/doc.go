// Package entity defines the identifiers, typed values, and snapshots that
// describe hub entities.
//
// An entity is addressed by a validated "domain.name" identifier. Its picture
// at one instant is a Snapshot: a primary state string plus attributes, each
// attribute held as a Value that remembers its Kind. Values encode to a
// type-tagged form so a number, boolean, timestamp, mapping, or sequence read
// back from the cache is the same logical value with the same Kind.
//
// Usage:
//
//	id, err := entity.ParseID("light.bedroom")
//	snap := entity.NewSnapshot(id, "on", map[string]any{"brightness": 255}, time.Now())
//	v, ok := snap.Attribute("brightness") // v.Kind() == entity.KindInteger
package entity
