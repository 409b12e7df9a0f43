// Package events turns raw hub events into typed records and routes them.
//
// Every inbound event gets a correlation id, is classified into one of a
// closed set of records (StateChanged, EventFired, NotificationAction,
// HubLifecycle, ServiceLifecycle), updates the state cache when it carries
// entity state, and is then handed to the trigger dispatcher and any
// observers.
//
// Router implements hub.Sink, so the connection manager feeds it directly.
// Events are processed on the caller's goroutine in arrival order; cache
// writes for an event complete before that event is dispatched.
package events
