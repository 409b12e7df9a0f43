package automation

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/hubrelay/internal/infrastructure/logging"
)

// StartSchedules registers every schedule trigger with a cron engine in
// the configured location and starts it. Call once, after the registry is
// frozen.
func (d *Dispatcher) StartSchedules(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		return nil
	}

	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(d.cfg.Location))
	entries := d.source.Entries(CategorySchedule)
	for _, e := range entries {
		if _, err := c.AddFunc(e.Key, func() { d.fireScheduled(d.ctx, e) }); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, e.Key, err)
		}
	}
	c.Start()
	d.cron = c
	d.logger.Info("schedules started", "count", len(entries), "location", d.cfg.Location.String())
	return nil
}

// RunSchedule fires every trigger registered under expr as if the cron
// engine had. It returns the number fired.
func (d *Dispatcher) RunSchedule(ctx context.Context, expr string) int {
	entries := d.source.Lookup(CategorySchedule, expr)
	for _, e := range entries {
		d.fireScheduled(ctx, e)
	}
	return len(entries)
}

func (d *Dispatcher) fireScheduled(ctx context.Context, e Entry) {
	corr := logging.NewCorrelationID()
	d.logger.Debug("schedule fired", "expr", e.Key, "name", e.Name(), logging.CorrelationKey, corr)
	d.invoke(ctx, e, nil, corr)
}
