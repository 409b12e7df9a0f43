// Package metrics exports bridge metrics to Prometheus.
//
// PrometheusSink satisfies the MetricsSink interface of every component:
// the hub connection manager, the state manager, the event router, the
// trigger dispatcher, and the job scheduler. Each component treats a nil
// sink as disabled, so wiring is optional.
package metrics
