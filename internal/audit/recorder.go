package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/hubrelay/internal/events"
)

// Entity activity recorded alongside the lifecycle actions.
const (
	ActionEntityAdded   = "entity_added"
	ActionEntityRemoved = "entity_removed"
)

// DefaultQueueSize bounds the entries waiting to be written.
const DefaultQueueSize = 256

// writeTimeout bounds a single insert.
const writeTimeout = 5 * time.Second

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder turns routed records into activity log entries. Writes happen
// on a worker goroutine; a full queue drops the entry.
type Recorder struct {
	repo   Repository
	logger Logger

	queue   chan AuditLog
	done    chan struct{}
	wg      sync.WaitGroup
	start   sync.Once
	stop    sync.Once
	dropped atomic.Uint64
}

var _ events.Observer = (*Recorder)(nil)

// NewRecorder writes to repo. queueSize <= 0 uses DefaultQueueSize.
func NewRecorder(repo Repository, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Recorder{
		repo:   repo,
		logger: noopLogger{},
		queue:  make(chan AuditLog, queueSize),
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Start launches the writer.
func (r *Recorder) Start() {
	r.start.Do(func() {
		r.wg.Add(1)
		go r.run()
	})
}

// Stop writes whatever is queued and waits for the writer.
func (r *Recorder) Stop() {
	r.stop.Do(func() { close(r.done) })
	r.wg.Wait()
}

// Dropped returns how many entries were discarded on a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Observe implements events.Observer.
func (r *Recorder) Observe(_ context.Context, ev events.Event) {
	select {
	case <-r.done:
		return
	default:
	}
	entry, ok := Entry(ev)
	if !ok {
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit: queue full, entry dropped", "action", entry.Action)
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-r.done:
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, &e); err != nil {
		r.logger.Warn("audit: write failed", "action", e.Action, "error", err,
			"correlation_id", e.CorrelationID)
	}
}

// Entry maps a record to its activity log entry. State transitions are
// not recorded; entity creation and removal are.
func Entry(ev events.Event) (AuditLog, bool) {
	meta := ev.Meta()
	e := AuditLog{CorrelationID: meta.CorrelationID, CreatedAt: meta.FiredAt}

	switch x := ev.(type) {
	case events.HubLifecycle:
		e.Source = SourceHub
		e.Action = ActionHubStarted
		if x.Phase == events.PhaseStop {
			e.Action = ActionHubStopped
		}
	case events.ServiceLifecycle:
		e.Source = SourceService
		e.Action = ActionServiceStarted
		if x.Phase == events.PhaseStop {
			e.Action = ActionServiceStopped
		}
	case events.NotificationAction:
		e.Source = SourceHub
		e.Action = ActionNotificationAction
		e.Subject = x.Action
		e.Details = map[string]any{}
		if x.DeviceID != "" {
			e.Details["device_id"] = x.DeviceID
		}
		if x.DeviceName != "" {
			e.Details["device_name"] = x.DeviceName
		}
		if len(x.Data) > 0 {
			e.Details["data"] = x.Data
		}
	case events.StateChanged:
		switch {
		case x.New == nil && x.Old != nil:
			e.Action = ActionEntityRemoved
		case x.Old == nil && x.New != nil:
			e.Action = ActionEntityAdded
		default:
			return AuditLog{}, false
		}
		e.Source = SourceHub
		e.Subject = x.ID.String()
		if x.Synthetic {
			e.Details = map[string]any{"synthetic": true}
		}
	default:
		return AuditLog{}, false
	}
	return e, true
}
