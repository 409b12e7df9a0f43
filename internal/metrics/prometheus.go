package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/hubrelay/internal/automation"
	"github.com/nerrad567/hubrelay/internal/bridges/hub"
	"github.com/nerrad567/hubrelay/internal/events"
	"github.com/nerrad567/hubrelay/internal/jobs"
	"github.com/nerrad567/hubrelay/internal/state"
)

const namespace = "hubrelay"

var durationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30}

// PrometheusSink implements every component MetricsSink.
// All methods are non-blocking. Registration errors are logged, never
// returned.
type PrometheusSink struct {
	// hub connection
	connected  prometheus.Gauge
	reconnects prometheus.Counter
	resyncs    prometheus.Counter
	resynced   prometheus.Counter

	// state cache
	cacheLookups    *prometheus.CounterVec
	lockContentions prometheus.Counter

	// routing
	eventsRouted  *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec

	// handlers
	handlerRuns     *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec

	// jobs
	jobsScheduled *prometheus.CounterVec
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
}

var (
	_ hub.MetricsSink        = (*PrometheusSink)(nil)
	_ state.MetricsSink      = (*PrometheusSink)(nil)
	_ events.MetricsSink     = (*PrometheusSink)(nil)
	_ automation.MetricsSink = (*PrometheusSink)(nil)
	_ jobs.MetricsSink       = (*PrometheusSink)(nil)
)

// NewPrometheusSink creates the collectors and registers them with reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "hub", Name: "connected",
			Help: "1 while a streaming session to the hub is open.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "reconnects_total",
			Help: "Streaming sessions opened after the first.",
		}),
		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "resyncs_total",
			Help: "Full resyncs after an outage longer than the staleness threshold.",
		}),
		resynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "resync_entities_total",
			Help: "Entities republished as synthetic transitions.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "state", Name: "cache_lookups_total",
			Help: "State cache lookups by result.",
		}, []string{"result"}),
		lockContentions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "state", Name: "lock_contentions_total",
			Help: "Entity lock acquisitions that timed out.",
		}),
		eventsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "routed_total",
			Help: "Records routed, by kind.",
		}, []string{"kind", "synthetic"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "dropped_total",
			Help: "Records dropped before dispatch, by reason.",
		}, []string{"reason"}),
		handlerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "triggers", Name: "handler_runs_total",
			Help: "Handler invocations by category and outcome.",
		}, []string{"category", "outcome"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "triggers", Name: "handler_duration_seconds",
			Help: "Handler run time.", Buckets: durationBuckets,
		}, []string{"category"}),
		jobsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "scheduled_total",
			Help: "One-shot jobs scheduled, by handler.",
		}, []string{"handler"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "runs_total",
			Help: "One-shot jobs run, by handler and outcome.",
		}, []string{"handler", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "duration_seconds",
			Help: "Job run time.", Buckets: durationBuckets,
		}, []string{"handler"}),
	}

	for _, c := range []prometheus.Collector{
		s.connected, s.reconnects, s.resyncs, s.resynced,
		s.cacheLookups, s.lockContentions,
		s.eventsRouted, s.eventsDropped,
		s.handlerRuns, s.handlerDuration,
		s.jobsScheduled, s.jobRuns, s.jobDuration,
	} {
		if err := reg.Register(c); err != nil {
			slog.Warn("metrics: collector not registered", "error", err)
		}
	}
	return s
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ConnectionState implements hub.MetricsSink.
func (s *PrometheusSink) ConnectionState(connected bool) {
	if connected {
		s.connected.Set(1)
		return
	}
	s.connected.Set(0)
}

// Reconnect implements hub.MetricsSink.
func (s *PrometheusSink) Reconnect() { s.reconnects.Inc() }

// Resync implements hub.MetricsSink.
func (s *PrometheusSink) Resync(entities int) {
	s.resyncs.Inc()
	s.resynced.Add(float64(entities))
}

// CacheLookup implements state.MetricsSink.
func (s *PrometheusSink) CacheLookup(hit bool) {
	if hit {
		s.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	s.cacheLookups.WithLabelValues("miss").Inc()
}

// LockContention implements state.MetricsSink.
func (s *PrometheusSink) LockContention() { s.lockContentions.Inc() }

// EventRouted implements events.MetricsSink.
func (s *PrometheusSink) EventRouted(kind string, synthetic bool) {
	syn := "false"
	if synthetic {
		syn = "true"
	}
	s.eventsRouted.WithLabelValues(kind, syn).Inc()
}

// EventDropped implements events.MetricsSink.
func (s *PrometheusSink) EventDropped(reason string) {
	s.eventsDropped.WithLabelValues(reason).Inc()
}

// HandlerRun implements automation.MetricsSink. Handler names are left out
// of the labels to bound cardinality.
func (s *PrometheusSink) HandlerRun(category, _ string, err error, d time.Duration) {
	s.handlerRuns.WithLabelValues(category, outcome(err)).Inc()
	s.handlerDuration.WithLabelValues(category).Observe(d.Seconds())
}

// JobScheduled implements jobs.MetricsSink.
func (s *PrometheusSink) JobScheduled(handler string) {
	s.jobsScheduled.WithLabelValues(handler).Inc()
}

// JobRun implements jobs.MetricsSink.
func (s *PrometheusSink) JobRun(handler string, err error, d time.Duration) {
	s.jobRuns.WithLabelValues(handler, outcome(err)).Inc()
	s.jobDuration.WithLabelValues(handler).Observe(d.Seconds())
}
