// Package jobs runs persisted one-shot jobs.
//
// A job is an id, a run time, the name of a registered handler, and a
// parameter map. Jobs survive a restart: handlers are registered by name
// at startup so persisted jobs rebind to them, and anything that fell due
// while the process was down runs as soon as Start is called.
//
// A job is removed from the store immediately before its handler runs, so
// a handler may schedule a new job under its own id.
//
// Parameters are stored as JSON. After a reload, numbers come back as
// float64; handlers that need integers should convert.
//
// In manual mode nothing is armed; RunPending runs whatever is due at a
// caller-supplied time. The test arena uses this.
package jobs
