package automation

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/hubrelay/internal/entity"
	"github.com/nerrad567/hubrelay/internal/events"
	"github.com/nerrad567/hubrelay/internal/infrastructure/logging"
)

// Mode selects how matched handlers run.
type Mode string

// Dispatch modes.
const (
	// ModeAsync runs each matched handler on its own goroutine.
	ModeAsync Mode = "async"

	// ModeSync runs matched handlers on the caller in registration order.
	ModeSync Mode = "sync"
)

// DefaultSolarLookahead is the minimum distance of a rescheduled solar
// occurrence from now.
const DefaultSolarLookahead = 20 * time.Hour

// Solar retry defaults, used when the sun entity cannot be read.
const (
	DefaultSolarRetryBase = 30 * time.Second
	DefaultSolarRetryMax  = 15 * time.Minute
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Mode Mode

	// MaxConcurrent caps running handler goroutines in ModeAsync. Zero
	// means no cap.
	MaxConcurrent int

	SolarLookahead time.Duration

	// SolarRetryBase is the linear step between attempts to schedule a
	// solar trigger whose event time could not be read. SolarRetryMax
	// caps the delay.
	SolarRetryBase time.Duration
	SolarRetryMax  time.Duration

	// Location is the timezone schedule expressions are evaluated in.
	Location *time.Location

	// Now is the clock for solar scheduling. Defaults to time.Now.
	Now func() time.Time
}

// MetricsSink records handler runs. Optional; nil disables.
type MetricsSink interface {
	HandlerRun(category, name string, err error, duration time.Duration)
}

// Dispatcher matches records against a Source and invokes handlers. It
// implements events.Dispatcher.
type Dispatcher struct {
	source  Source
	cfg     DispatcherConfig
	logger  Logger
	metrics MetricsSink
	sem     *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	cron *cron.Cron
	sun  SolarSource
	jobs JobScheduler
}

var _ events.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over source.
func NewDispatcher(source Source, cfg DispatcherConfig) *Dispatcher {
	if cfg.Mode == "" {
		cfg.Mode = ModeAsync
	}
	if cfg.SolarLookahead <= 0 {
		cfg.SolarLookahead = DefaultSolarLookahead
	}
	if cfg.SolarRetryBase <= 0 {
		cfg.SolarRetryBase = DefaultSolarRetryBase
	}
	if cfg.SolarRetryMax < cfg.SolarRetryBase {
		cfg.SolarRetryMax = max(DefaultSolarRetryMax, cfg.SolarRetryBase)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	d := &Dispatcher{source: source, cfg: cfg, logger: noopLogger{}}
	if cfg.MaxConcurrent > 0 {
		d.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// WithMetrics attaches a metrics sink.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// Mode returns the dispatch mode.
func (d *Dispatcher) Mode() Mode { return d.cfg.Mode }

// routeKey derives the category and lookup key of ev.
func routeKey(ev events.Event) (Category, string, bool) {
	switch e := ev.(type) {
	case events.StateChanged:
		return CategoryStateChange, e.ID.String(), true
	case events.EventFired:
		return CategoryEvent, e.Type, true
	case events.NotificationAction:
		return CategoryNotificationAction, e.Action, true
	case events.HubLifecycle:
		return CategoryHubLifecycle, string(e.Phase), true
	case events.ServiceLifecycle:
		return CategoryServiceLifecycle, string(e.Phase), true
	}
	return "", "", false
}

// Candidates returns the entries whose key and filters match ev, in
// registration order.
func (d *Dispatcher) Candidates(ev events.Event) []Entry {
	cat, key, ok := routeKey(ev)
	if !ok {
		return nil
	}
	var out []Entry
	for _, e := range d.source.Lookup(cat, key) {
		if matches(e, ev) {
			out = append(out, e)
		}
	}
	return out
}

// Dispatch invokes every matching handler. Handler failures are logged
// and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev events.Event) {
	corr := ev.Meta().CorrelationID
	if corr == "" {
		_, corr = logging.EnsureCorrelationID(ctx)
	}
	matched := d.Candidates(ev)
	if len(matched) == 0 {
		return
	}
	cat, key, _ := routeKey(ev)
	d.logger.Debug("dispatching", "category", cat, "key", key, "handlers", len(matched),
		logging.CorrelationKey, corr)
	for _, e := range matched {
		d.invoke(ctx, e, ev, corr)
	}
}

func matches(e Entry, ev events.Event) bool {
	switch x := ev.(type) {
	case events.StateChanged:
		if e.From != nil && *e.From != x.FromState() {
			return false
		}
		if e.To != nil && *e.To != x.ToState() {
			return false
		}
	case events.EventFired:
		if e.UserID != "" && e.UserID != x.UserID {
			return false
		}
		for k, want := range e.Data {
			got, ok := x.Data[k]
			if !ok || !dataEqual(want, got) {
				return false
			}
		}
	case events.NotificationAction:
		if e.DeviceID != "" && e.DeviceID != x.DeviceID {
			return false
		}
	}
	return true
}

// dataEqual compares a filter value with event data. Numbers compare by
// value regardless of integer or float representation.
func dataEqual(want, got any) bool {
	w, err := entity.NewValue(want)
	if err != nil {
		return false
	}
	g, err := entity.NewValue(got)
	if err != nil {
		return false
	}
	if w.Equal(g) {
		return true
	}
	wf, wok := w.Float()
	gf, gok := g.Float()
	return wok && gok && wf == gf
}

// invoke runs one handler in the configured mode. In ModeSync it runs on
// the caller's context; in ModeAsync on the dispatcher's own, so it
// outlives the event that fired it.
func (d *Dispatcher) invoke(ctx context.Context, e Entry, ev events.Event, corr string) {
	if d.cfg.Mode == ModeSync {
		d.run(logging.WithCorrelationID(ctx, corr), e, ev, corr)
		return
	}

	hctx := logging.WithCorrelationID(d.ctx, corr)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.sem != nil {
			if err := d.sem.Acquire(hctx, 1); err != nil {
				d.logger.Warn("handler skipped on shutdown", "name", e.Name(), logging.CorrelationKey, corr)
				return
			}
			defer d.sem.Release(1)
		}
		d.run(hctx, e, ev, corr)
	}()
}

// run calls the handler, converting a panic into an error.
func (d *Dispatcher) run(ctx context.Context, e Entry, ev events.Event, corr string) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				d.logger.Debug("handler panic stack", "name", e.Name(), "stack", string(debug.Stack()))
			}
		}()
		return e.Handler.Call(ctx, ev)
	}()
	if d.metrics != nil {
		d.metrics.HandlerRun(string(e.Category), e.Name(), err, time.Since(start))
	}
	if err != nil {
		d.logger.Error("handler failed",
			"category", e.Category,
			"key", e.Key,
			"name", e.Name(),
			"error", err,
			logging.CorrelationKey, corr,
		)
	}
}

// Wait blocks until every running handler goroutine returns.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stop halts the cron engine and cancels the handler context, then waits
// for running handlers until ctx expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	c := d.cron
	d.cron = nil
	d.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.logger.Warn("handlers still running at shutdown")
		return ctx.Err()
	}
}
