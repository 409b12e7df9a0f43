// Package automation registers triggers and dispatches classified records
// to their handlers.
//
// A trigger is a (category, key) pair, optional filters, and a Handler:
//
//	reg := automation.NewRegistry()
//	err := reg.OnStateChange(entity.MustID("switch.motion"),
//	    automation.Func(turnOnLights),
//	    automation.From("off"), automation.To("on"))
//
// Handlers are built with Func (no record) or EventFunc (receives the
// record, optionally typed as one concrete record):
//
//	automation.EventFunc(func(ctx context.Context, ev events.StateChanged) error { ... })
//
// The qualified function name identifies a handler. Registering the same
// name twice under one key replaces the first registration. Closures
// built from one literal share a name; give them distinct names with
// Named.
//
// The Dispatcher looks up candidates for each record, applies filters in
// registration order, and runs every match. In ModeAsync each handler
// gets its own goroutine, optionally capped by MaxConcurrent. In ModeSync
// handlers run on the caller in order, which the test arena relies on.
// Handler errors and panics are logged with the record's correlation id
// and never reach the caller.
//
// Schedule triggers run on a cron engine in the site timezone. Solar
// triggers schedule a one-shot job at the next occurrence read from
// sun.sun and reschedule themselves after each fire.
package automation
