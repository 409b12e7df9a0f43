package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/hubrelay/internal/entity"
	"github.com/nerrad567/hubrelay/internal/infrastructure/logging"
	"github.com/nerrad567/hubrelay/internal/jobs"
)

// SolarJobHandler is the job handler name solar occurrences run under.
const SolarJobHandler = "automation.solar"

// SunEntity holds next_<event> timestamp attributes.
var SunEntity = entity.MustID("sun.sun")

// SolarSource reads the sun entity. *state.Manager satisfies it.
type SolarSource interface {
	Attribute(ctx context.Context, id entity.ID, name string) (entity.Value, error)
}

// JobScheduler is the part of the job scheduler solar triggers use.
// *jobs.Scheduler satisfies it.
type JobScheduler interface {
	RegisterFunc(name string, h jobs.Handler) error
	Schedule(ctx context.Context, runAt time.Time, handler string, params map[string]any, opts ...jobs.Option) (string, error)
	Cancel(ctx context.Context, id string) error
}

// NextSolarRun returns when a solar trigger should next fire.
//
// The candidate is eventTime+offset, moved a day later when it is not
// after now. When rescheduling after a fire, a candidate earlier than
// now+lookahead is also moved a day later, since the sun entity may still
// report the occurrence that just fired.
func NextSolarRun(eventTime time.Time, offset time.Duration, now time.Time, lookahead time.Duration, rescheduling bool) time.Time {
	next := eventTime.Add(offset)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	if rescheduling && next.Before(now.Add(lookahead)) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// SolarJobID is the deterministic job id of a solar trigger. Each trigger
// has at most one pending occurrence.
func SolarJobID(e Entry) string {
	return "solar:" + e.Key + ":" + e.Name()
}

// StartSolar binds the solar job handler on js and schedules the first
// occurrence of every solar trigger. A trigger whose event time cannot be
// read gets a retry job under its own id instead.
func (d *Dispatcher) StartSolar(ctx context.Context, sun SolarSource, js JobScheduler) error {
	d.mu.Lock()
	d.sun, d.jobs = sun, js
	d.mu.Unlock()

	if err := js.RegisterFunc(SolarJobHandler, d.runSolarJob); err != nil {
		return fmt.Errorf("registering solar job handler: %w", err)
	}
	for _, e := range d.source.Entries(CategorySolar) {
		if err := d.scheduleSolar(ctx, e, false); err != nil {
			d.logger.Warn("solar trigger not scheduled", "event", e.Key, "name", e.Name(), "error", err)
			if err := d.retrySolar(ctx, e, false, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// solarParams are the job params of a solar occurrence. A retry job
// carries the attempt number and fires nothing when it runs.
func solarParams(e Entry, afterFire bool, attempt int) map[string]any {
	p := map[string]any{"kind": e.Key, "name": e.Name()}
	if attempt > 0 {
		p["attempt"] = attempt
		p["after_fire"] = afterFire
	}
	return p
}

// intParam reads an integer param; values read back from the job store
// are float64.
func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// solarRetryDelay is the linear backoff before retry attempt n.
func (d *Dispatcher) solarRetryDelay(attempt int) time.Duration {
	return min(d.cfg.SolarRetryBase*time.Duration(attempt), d.cfg.SolarRetryMax)
}

func (d *Dispatcher) scheduleSolar(ctx context.Context, e Entry, rescheduling bool) error {
	d.mu.Lock()
	sun, js := d.sun, d.jobs
	d.mu.Unlock()
	if sun == nil || js == nil {
		return fmt.Errorf("%w: solar scheduling not started", ErrNoSolarData)
	}

	attr := SolarEvent(e.Key).Attribute()
	v, err := sun.Attribute(ctx, SunEntity, attr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNoSolarData, attr, err)
	}
	at, ok := v.Time()
	if !ok {
		return fmt.Errorf("%w: %s is %s, not a timestamp", ErrNoSolarData, attr, v.Kind())
	}

	next := NextSolarRun(at, e.Offset, d.cfg.Now(), d.cfg.SolarLookahead, rescheduling)
	if _, err := js.Schedule(ctx, next, SolarJobHandler, solarParams(e, false, 0), jobs.WithID(SolarJobID(e)), jobs.Replace()); err != nil {
		return err
	}
	d.logger.Debug("solar trigger scheduled", "event", e.Key, "name", e.Name(), "run_at", next)
	return nil
}

// retrySolar keeps the trigger's single pending job alive as a retry
// attempt after its event time could not be read.
func (d *Dispatcher) retrySolar(ctx context.Context, e Entry, afterFire bool, attempt int) error {
	d.mu.Lock()
	js := d.jobs
	d.mu.Unlock()

	at := d.cfg.Now().Add(d.solarRetryDelay(attempt))
	if _, err := js.Schedule(ctx, at, SolarJobHandler, solarParams(e, afterFire, attempt),
		jobs.WithID(SolarJobID(e)), jobs.Replace()); err != nil {
		return fmt.Errorf("scheduling solar retry for %s: %w", e.Key, err)
	}
	d.logger.Debug("solar trigger retry scheduled", "event", e.Key, "name", e.Name(), "attempt", attempt, "run_at", at)
	return nil
}

// runSolarJob is the job handler for solar occurrences. It fires the
// trigger, then schedules the next occurrence. A retry job only
// schedules.
func (d *Dispatcher) runSolarJob(ctx context.Context, params map[string]any) error {
	kind, _ := params["kind"].(string)
	name, _ := params["name"].(string)

	var entry Entry
	found := false
	for _, e := range d.source.Lookup(CategorySolar, kind) {
		if e.Name() == name {
			entry, found = e, true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: solar %s %s", ErrTriggerNotFound, kind, name)
	}

	attempt := intParam(params, "attempt")
	afterFire := true
	if attempt > 0 {
		afterFire, _ = params["after_fire"].(bool)
	} else {
		corr := logging.CorrelationID(ctx)
		if corr == "" {
			corr = logging.NewCorrelationID()
		}
		d.invoke(ctx, entry, nil, corr)
	}

	err := d.scheduleSolar(ctx, entry, afterFire)
	if err == nil {
		return nil
	}
	d.logger.Warn("solar trigger not rescheduled", "event", kind, "name", name, "attempt", attempt+1, "error", err)
	if rerr := d.retrySolar(ctx, entry, afterFire, attempt+1); rerr != nil {
		return fmt.Errorf("rescheduling solar %s: %w", kind, errors.Join(err, rerr))
	}
	return nil
}
