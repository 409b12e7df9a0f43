package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/hubrelay/internal/entity"
)

// Logger defines the logging interface used by the hub bridge.
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

// Default reconnection policy.
const (
	DefaultReconnectBase      = time.Second
	DefaultReconnectMax       = time.Minute
	DefaultStalenessThreshold = 30 * time.Second
)

// Sink receives everything the Manager reads from the hub.
// All calls are made from the listener goroutine, in arrival order.
type Sink interface {
	// HandleEvent processes one streamed event.
	HandleEvent(ctx context.Context, ev Event)

	// Warm caches a full state pull without firing triggers. Called after
	// the first connection.
	Warm(ctx context.Context, snaps []entity.Snapshot)

	// Resync republishes a full state pull as synthetic state transitions.
	// Called after a reconnection that followed a stale outage.
	Resync(ctx context.Context, snaps []entity.Snapshot)
}

// StateFetcher pulls the hub's full state.
type StateFetcher interface {
	GetStates(ctx context.Context) ([]entity.Snapshot, error)
}

// MetricsSink records connection metrics. Optional; nil disables.
type MetricsSink interface {
	ConnectionState(connected bool)
	Reconnect()
	Resync(entities int)
}

// ManagerConfig is the reconnection and resync policy.
type ManagerConfig struct {
	// ReconnectBase is the first delay and the linear step between attempts.
	ReconnectBase time.Duration
	// ReconnectMax caps the delay.
	ReconnectMax time.Duration
	// StalenessThreshold is the outage length beyond which a reconnect
	// performs a full resync.
	StalenessThreshold time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = DefaultReconnectBase
	}
	if c.ReconnectMax < c.ReconnectBase {
		c.ReconnectMax = max(DefaultReconnectMax, c.ReconnectBase)
	}
	return c
}

// Backoff returns the wait before reconnect attempt n (1-based): base*n,
// capped at max.
func (c ManagerConfig) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := c.ReconnectBase * time.Duration(n)
	if d > c.ReconnectMax || d < 0 {
		return c.ReconnectMax
	}
	return d
}

// Stats is a point-in-time view of the Manager.
type Stats struct {
	Connected      bool
	Reconnects     uint64
	EventsReceived uint64
	Resyncs        uint64
	LastDisconnect time.Time
}

// Manager keeps exactly one authenticated, subscribed session open and
// feeds its events to a Sink.
//
// Lifecycle:
//   - Start launches the listener goroutine (idempotent)
//   - On unexpected closure it waits ReconnectBase*n (capped) and redials
//   - Authentication rejection stops the Manager and is reported on Fatal
//   - Stop closes the session and waits for the listener to exit
type Manager struct {
	dialer  SessionDialer
	fetcher StateFetcher
	sink    Sink
	cfg     ManagerConfig
	logger  Logger
	metrics MetricsSink
	now     func() time.Time

	mu      sync.Mutex
	started bool
	session Session
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup

	fatal chan error

	connected      atomic.Bool
	reconnects     atomic.Uint64
	eventsReceived atomic.Uint64
	resyncs        atomic.Uint64
	lastDisconnect atomic.Int64 // unix nanos, 0 = never
}

// NewManager wires a Manager. fetcher may be nil, which disables warm-up
// and resync.
func NewManager(dialer SessionDialer, fetcher StateFetcher, sink Sink, cfg ManagerConfig) *Manager {
	return &Manager{
		dialer:  dialer,
		fetcher: fetcher,
		sink:    sink,
		cfg:     cfg.withDefaults(),
		logger:  noopLogger{},
		now:     time.Now,
		done:    make(chan struct{}),
		fatal:   make(chan error, 1),
	}
}

// SetLogger sets the logger for this manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// WithMetrics attaches a metrics sink.
func (m *Manager) WithMetrics(sink MetricsSink) *Manager {
	m.metrics = sink
	return m
}

// Fatal delivers the unrecoverable error (authentication rejection) that
// stopped the Manager. It never delivers more than one value.
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}

// Start launches the listener on its own goroutine and returns. Calling
// Start while running, or after Stop, is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(runCtx)
}

// Stop closes the session and waits for the listener to exit. No
// reconnection happens afterwards. Safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	m.started = true
	if m.cancel != nil {
		m.cancel()
	}
	sess := m.session
	m.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	m.wg.Wait()
}

// IsConnected reports whether a session is currently open.
func (m *Manager) IsConnected() bool {
	return m.connected.Load()
}

// HealthCheck returns ErrConnectionFailed while disconnected.
func (m *Manager) HealthCheck(context.Context) error {
	if !m.IsConnected() {
		return ErrConnectionFailed
	}
	return nil
}

// Stats returns current operational statistics.
func (m *Manager) Stats() Stats {
	st := Stats{
		Connected:      m.IsConnected(),
		Reconnects:     m.reconnects.Load(),
		EventsReceived: m.eventsReceived.Load(),
		Resyncs:        m.resyncs.Load(),
	}
	if ns := m.lastDisconnect.Load(); ns != 0 {
		st.LastDisconnect = time.Unix(0, ns)
	}
	return st
}

func (m *Manager) isStopped() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// run is the listener goroutine: dial, sync, listen, back off, repeat.
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	firstSession := true
	attempt := 0
	for {
		if attempt > 0 {
			backoff := m.cfg.Backoff(attempt)
			m.logger.Info("reconnecting to hub", "attempt", attempt, "backoff", backoff.String())
			select {
			case <-m.done:
				return
			case <-time.After(backoff):
			}
			m.reconnects.Add(1)
			if m.metrics != nil {
				m.metrics.Reconnect()
			}
		}
		if m.isStopped() {
			return
		}

		sess, err := m.dialer.Dial(ctx)
		if err != nil {
			if errors.Is(err, ErrAuthRejected) {
				m.logger.Error("hub rejected access token, stopping", "error", err)
				m.fatal <- err
				return
			}
			m.logger.Warn("hub connection attempt failed", "attempt", attempt+1, "error", err)
			attempt++
			continue
		}

		if !m.attach(sess) {
			_ = sess.Close()
			return
		}
		attempt = 0
		m.logger.Info("hub session established")

		m.syncAfterConnect(ctx, firstSession)
		firstSession = false

		err = m.listen(ctx, sess)

		m.detach()
		_ = sess.Close()
		if m.isStopped() {
			return
		}
		m.logger.Warn("hub session lost", "error", err)
		attempt = 1
	}
}

// attach publishes sess as current unless Stop already ran.
func (m *Manager) attach(sess Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isStopped() {
		return false
	}
	m.session = sess
	m.connected.Store(true)
	if m.metrics != nil {
		m.metrics.ConnectionState(true)
	}
	return true
}

func (m *Manager) detach() {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	m.connected.Store(false)
	m.lastDisconnect.Store(m.now().UnixNano())
	if m.metrics != nil {
		m.metrics.ConnectionState(false)
	}
}

// syncAfterConnect warms the cache on the first session and resyncs on a
// later one when the outage exceeded the staleness threshold.
func (m *Manager) syncAfterConnect(ctx context.Context, first bool) {
	if m.fetcher == nil {
		return
	}

	resync := false
	if !first {
		outage := m.now().Sub(time.Unix(0, m.lastDisconnect.Load()))
		if outage <= m.cfg.StalenessThreshold {
			m.logger.Debug("outage within staleness threshold, skipping resync", "outage", outage.String())
			return
		}
		resync = true
		m.logger.Info("outage exceeded staleness threshold, resyncing", "outage", outage.String())
	}

	snaps, err := m.fetcher.GetStates(ctx)
	if err != nil {
		m.logger.Error("full state pull failed", "resync", resync, "error", err)
		return
	}

	if resync {
		m.resyncs.Add(1)
		if m.metrics != nil {
			m.metrics.Resync(len(snaps))
		}
		m.sink.Resync(ctx, snaps)
		return
	}
	m.sink.Warm(ctx, snaps)
}

// listen reads until the session fails. Each event is handed to the sink
// on this goroutine; a panicking sink drops only that event.
func (m *Manager) listen(ctx context.Context, sess Session) error {
	for {
		ev, err := sess.Next()
		if err != nil {
			return err
		}
		m.eventsReceived.Add(1)
		m.deliver(ctx, ev)
	}
}

func (m *Manager) deliver(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic handling hub event", "event_type", ev.EventType, "panic", r)
		}
	}()
	m.sink.HandleEvent(ctx, ev)
}
