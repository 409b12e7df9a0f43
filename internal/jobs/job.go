package jobs

import (
	"context"
	"maps"
	"time"
)

// Handler runs one job.
type Handler func(ctx context.Context, params map[string]any) error

// Job is one pending one-shot job.
type Job struct {
	ID        string
	RunAt     time.Time
	Handler   string
	Params    map[string]any
	CreatedAt time.Time
}

func (j Job) clone() Job {
	c := j
	c.Params = maps.Clone(j.Params)
	return c
}

type scheduleOptions struct {
	id      string
	replace bool
}

// Option customises Schedule.
type Option func(*scheduleOptions)

// WithID uses id instead of a generated one.
func WithID(id string) Option {
	return func(o *scheduleOptions) { o.id = id }
}

// Replace overwrites a pending job with the same id instead of failing.
func Replace() Option {
	return func(o *scheduleOptions) { o.replace = true }
}
