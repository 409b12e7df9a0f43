// Package mirror republishes what the router sees to optional downstream
// sinks: an MQTT broker (retained entity state plus one message per event)
// and InfluxDB (numeric and on/off state history).
//
// Both sinks implement events.Observer and are attached with
// Router.AddObserver. Observe never blocks the router; the MQTT sink queues
// messages for a worker and drops them when the queue is full.
package mirror
