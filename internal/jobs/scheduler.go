package jobs

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/hubrelay/internal/infrastructure/logging"
)

// Logger defines the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsSink records job metrics. Optional; nil disables.
type MetricsSink interface {
	JobScheduled(handler string)
	JobRun(handler string, err error, duration time.Duration)
}

// maxPendingRounds bounds RunPending when handlers keep scheduling jobs
// that are already due.
const maxPendingRounds = 100

// Config configures a Scheduler.
type Config struct {
	// Manual disables timers; jobs run only through RunPending.
	Manual bool

	// Now is the clock used for CreatedAt. Defaults to time.Now.
	Now func() time.Time
}

// Scheduler runs persisted one-shot jobs at their run time.
//
// Lifecycle:
//   - RegisterFunc binds handler names (before Start)
//   - Start loads persisted jobs and arms a timer per job; past-due jobs
//     run immediately
//   - Stop disarms timers and waits for running handlers
type Scheduler struct {
	store   Store
	cfg     Config
	logger  Logger
	metrics MetricsSink

	mu       sync.Mutex
	handlers map[string]Handler
	timers   map[string]armed
	seq      uint64
	running  bool
	stopped  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler over store.
func NewScheduler(store Store, cfg Config) *Scheduler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    store,
		cfg:      cfg,
		logger:   noopLogger{},
		handlers: make(map[string]Handler),
		timers:   make(map[string]armed),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// WithMetrics attaches a metrics sink.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// RegisterFunc binds name to h. Registering a name twice replaces it.
func (s *Scheduler) RegisterFunc(name string, h Handler) error {
	if name == "" || h == nil {
		return fmt.Errorf("%w: handler name and function are required", ErrInvalidJob)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
	return nil
}

// Schedule persists a job and arms it when the scheduler is running.
//
// Returns:
//   - the job id (generated unless WithID is given)
//   - ErrJobExists when the id is pending and Replace was not given
//   - ErrUnknownHandler when handler was never registered
func (s *Scheduler) Schedule(ctx context.Context, runAt time.Time, handler string, params map[string]any, opts ...Option) (string, error) {
	var o scheduleOptions
	for _, opt := range opts {
		opt(&o)
	}
	if runAt.IsZero() {
		return "", fmt.Errorf("%w: zero run time", ErrInvalidJob)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return "", ErrStopped
	}
	if _, ok := s.handlers[handler]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownHandler, handler)
	}

	id := o.id
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := s.store.Get(ctx, id); err == nil {
		if !o.replace {
			return "", fmt.Errorf("%w: %s", ErrJobExists, id)
		}
		s.disarm(id)
	} else if !errors.Is(err, ErrJobNotFound) {
		return "", err
	}

	j := Job{ID: id, RunAt: runAt.UTC(), Handler: handler, Params: maps.Clone(params), CreatedAt: s.cfg.Now().UTC()}
	if err := s.store.Save(ctx, j); err != nil {
		return "", err
	}
	if s.running && !s.cfg.Manual {
		s.arm(j)
	}
	if s.metrics != nil {
		s.metrics.JobScheduled(handler)
	}
	s.logger.Debug("job scheduled", "job_id", id, "handler", handler, "run_at", j.RunAt)
	return id, nil
}

// Cancel removes a pending job.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarm(id)
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Debug("job cancelled", "job_id", id)
	return nil
}

// Jobs returns every pending job ordered by run time.
func (s *Scheduler) Jobs(ctx context.Context) ([]Job, error) {
	return s.store.List(ctx)
}

// Start loads persisted jobs and arms them. In manual mode it only marks
// the scheduler running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.running {
		return nil
	}
	s.running = true
	if s.cfg.Manual {
		return nil
	}

	pending, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("loading persisted jobs: %w", err)
	}
	for _, j := range pending {
		if _, ok := s.handlers[j.Handler]; !ok {
			s.logger.Warn("persisted job names an unregistered handler", "job_id", j.ID, "handler", j.Handler)
		}
		s.arm(j)
	}
	s.logger.Info("job scheduler started", "pending", len(pending))
	return nil
}

// Stop disarms every timer and waits for running handlers. Pending jobs
// stay persisted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id := range s.timers {
		s.disarm(id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// armed is a pending timer. seq identifies the arming so a timer that
// already expired cannot claim a job scheduled after it.
type armed struct {
	timer *time.Timer
	seq   uint64
}

// arm starts a timer for j. Caller holds mu.
func (s *Scheduler) arm(j Job) {
	s.disarm(j.ID)
	delay := max(time.Until(j.RunAt), 0)
	id := j.ID
	s.seq++
	seq := s.seq
	s.timers[id] = armed{timer: time.AfterFunc(delay, func() { s.fire(id, seq) }), seq: seq}
}

// disarm stops the timer for id. Caller holds mu.
func (s *Scheduler) disarm(id string) {
	if a, ok := s.timers[id]; ok {
		a.timer.Stop()
		delete(s.timers, id)
	}
}

// fire runs when the timer armed as seq expires. The job is claimed
// under mu, so a concurrent Schedule either replaces it before the claim
// or saves a new job after it.
func (s *Scheduler) fire(id string, seq uint64) {
	s.mu.Lock()
	if a, ok := s.timers[id]; s.stopped || !ok || a.seq != seq {
		// stopped, cancelled, or re-armed by a replacing Schedule
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	j, err := s.take(s.ctx, id)
	if err == nil {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if err != nil {
		if !errors.Is(err, ErrJobNotFound) {
			s.logger.Error("loading due job failed", "job_id", id, "error", err)
		}
		return
	}
	defer s.wg.Done()
	s.run(s.ctx, j)
}

// take removes j from the store and returns it. A job is deleted before
// it runs so its handler may reuse the id.
func (s *Scheduler) take(ctx context.Context, id string) (Job, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return Job{}, err
	}
	return j, nil
}

// run invokes j's handler, isolating errors and panics.
func (s *Scheduler) run(ctx context.Context, j Job) {
	s.mu.Lock()
	h, ok := s.handlers[j.Handler]
	s.mu.Unlock()
	if !ok {
		s.logger.Error("dropping job with unregistered handler", "job_id", j.ID, "handler", j.Handler)
		return
	}

	ctx, corr := logging.EnsureCorrelationID(ctx)
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return h(ctx, j.Params)
	}()
	if s.metrics != nil {
		s.metrics.JobRun(j.Handler, err, time.Since(start))
	}
	if err != nil {
		s.logger.Error("job failed", "job_id", j.ID, "handler", j.Handler, "error", err,
			logging.CorrelationKey, corr)
		return
	}
	s.logger.Debug("job completed", "job_id", j.ID, "handler", j.Handler, logging.CorrelationKey, corr)
}

// RunPending runs, in run-time order on the caller's goroutine, every job
// due at or before now. Jobs scheduled by handlers that are themselves due
// run in the same call. It returns the number of jobs run.
func (s *Scheduler) RunPending(ctx context.Context, now time.Time) (int, error) {
	ran := 0
	for range maxPendingRounds {
		pending, err := s.store.List(ctx)
		if err != nil {
			return ran, err
		}
		var due []Job
		for _, j := range pending {
			if !j.RunAt.After(now) {
				due = append(due, j)
			}
		}
		if len(due) == 0 {
			return ran, nil
		}
		for _, j := range due {
			s.mu.Lock()
			s.disarm(j.ID)
			taken, err := s.take(ctx, j.ID)
			s.mu.Unlock()
			if errors.Is(err, ErrJobNotFound) {
				continue
			}
			if err != nil {
				return ran, err
			}
			s.run(ctx, taken)
			ran++
		}
	}
	return ran, nil
}
