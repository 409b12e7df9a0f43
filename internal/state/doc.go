// Package state owns the local mirror of hub entity state.
//
// Reads are cache-through: a miss fetches the entity from the hub, caches
// the full snapshot, and then answers. Writes coming from the event stream
// go through ApplyChange, which replaces the snapshot wholesale and removes
// attribute keys the new snapshot no longer carries.
//
// Cache layout (every value in the type-tagged form, see entity.Value.Encode):
//
//	STATE:<domain>:<name>          primary state (string kind)
//	STATE:<domain>:<name>:<attr>   one attribute
//	REGISTERED:<domain>:<name>     first-seen marker
//	LOCK:<domain>:<name>           mutation lock
//
// Mutate and InvokeAction hold the entity lock for the duration of the hub
// call so concurrent handlers never interleave writes to one entity.
package state
