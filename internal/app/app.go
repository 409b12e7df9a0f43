package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/hubrelay/internal/api"
	"github.com/nerrad567/hubrelay/internal/audit"
	"github.com/nerrad567/hubrelay/internal/automation"
	"github.com/nerrad567/hubrelay/internal/bridges/hub"
	"github.com/nerrad567/hubrelay/internal/events"
	"github.com/nerrad567/hubrelay/internal/infrastructure/database"
	"github.com/nerrad567/hubrelay/internal/infrastructure/influxdb"
	"github.com/nerrad567/hubrelay/internal/infrastructure/mqtt"
	"github.com/nerrad567/hubrelay/internal/jobs"
	"github.com/nerrad567/hubrelay/internal/metrics"
	"github.com/nerrad567/hubrelay/internal/mirror"
	"github.com/nerrad567/hubrelay/migrations"
)

// shutdownTimeout bounds how long Run waits for in-flight handlers.
const shutdownTimeout = 10 * time.Second

// Bridge is the fully wired service.
type Bridge struct {
	*Core

	Version    string
	Registry   *automation.Registry
	Dispatcher *automation.Dispatcher
	Router     *events.Router
	DB         *database.DB
	Audit      *audit.SQLiteRepository
	Jobs       *jobs.Scheduler
	Connection *hub.Manager
	Metrics    *metrics.PrometheusSink
	Prometheus *prometheus.Registry

	recorder   *audit.Recorder
	mqtt       *mqtt.Client
	mqttMirror *mirror.MQTT
	influx     *influxdb.Client
	closers    []func() error
}

// New wires a Bridge over core. routines are installed into the
// production registry, which is frozen afterwards. Nothing runs until Run.
// On failure everything New opened is released; core stays open.
func New(ctx context.Context, core *Core, version string, routines ...automation.Routine) (b *Bridge, err error) {
	cfg, log := core.Config, core.Logger
	b = &Bridge{Core: core, Version: version}
	defer func() {
		if err != nil {
			b.closeOwned() //nolint:errcheck // already failing
		}
	}()

	b.Prometheus = prometheus.NewRegistry()
	b.Prometheus.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	b.Metrics = metrics.NewPrometheusSink(b.Prometheus)
	core.State.WithMetrics(b.Metrics)

	// Job store
	b.DB, err = database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	b.closers = append(b.closers, b.DB.Close)
	applied, err := b.DB.Migrate(ctx, migrations.FS)
	if err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", b.DB.Path(), "migrations_applied", applied)

	b.Jobs = jobs.NewScheduler(jobs.NewSQLiteStore(b.DB), jobs.Config{}).WithMetrics(b.Metrics)
	b.Jobs.SetLogger(log)

	// Triggers
	b.Registry = automation.NewRegistry()
	b.Registry.SetLogger(log)
	svc := automation.Services{State: core.State, Jobs: b.Jobs, Logger: log}
	if err := automation.Install(b.Registry, svc, routines...); err != nil {
		return nil, err
	}
	b.Registry.Freeze()
	log.Info("triggers registered", "count", b.Registry.Len())

	b.Dispatcher = automation.NewDispatcher(b.Registry, automation.DispatcherConfig{
		Mode:           automation.Mode(cfg.Triggers.Mode),
		MaxConcurrent:  cfg.Triggers.MaxConcurrent,
		SolarLookahead: cfg.GetSolarLookahead(),
		SolarRetryBase: cfg.GetReconnectBase(),
		SolarRetryMax:  cfg.GetReconnectMax(),
		Location:       cfg.Location(),
	}).WithMetrics(b.Metrics)
	b.Dispatcher.SetLogger(log)

	b.Router = events.NewRouter(core.State, b.Dispatcher, cfg.Hub.IgnoredDomains).WithMetrics(b.Metrics)
	b.Router.SetLogger(log)

	b.Audit = audit.NewSQLiteRepository(b.DB)
	b.recorder = audit.NewRecorder(b.Audit, 0)
	b.recorder.SetLogger(log)
	b.Router.AddObserver(b.recorder)

	if err := b.attachMirrors(); err != nil {
		return nil, err
	}

	// Streaming connection
	dialer, err := hub.NewDialer(hub.StreamConfig{
		URL:          cfg.Hub.URL,
		Token:        cfg.Hub.Token,
		ReadTimeout:  cfg.GetReadTimeout(),
		PingInterval: cfg.GetPingInterval(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating hub dialer: %w", err)
	}
	dialer.SetLogger(log)
	b.Connection = hub.NewManager(dialer, core.Hub, b.Router, hub.ManagerConfig{
		ReconnectBase:      cfg.GetReconnectBase(),
		ReconnectMax:       cfg.GetReconnectMax(),
		StalenessThreshold: cfg.GetStalenessThreshold(),
	}).WithMetrics(b.Metrics)
	b.Connection.SetLogger(log)

	return b, nil
}

// attachMirrors connects the optional MQTT and InfluxDB sinks.
func (b *Bridge) attachMirrors() error {
	cfg, log := b.Config, b.Logger

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		b.mqtt = client
		b.closers = append(b.closers, client.Close)
		client.SetOnConnect(func() { log.Info("MQTT connected") })
		client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		b.mqttMirror = mirror.NewMQTT(client, client.Topics(), client.QoS(), 0)
		b.mqttMirror.SetLogger(log)
		b.Router.AddObserver(b.mqttMirror)
		log.Info("MQTT mirror enabled",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"prefix", client.Topics().Prefix(),
		)
	} else {
		log.Info("MQTT mirror disabled")
	}

	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		b.influx = client
		b.closers = append(b.closers, client.Close)
		client.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })

		history := mirror.NewHistory(client, cfg.InfluxDB.Domains...)
		history.SetLogger(log)
		b.Router.AddObserver(history)
		log.Info("state history enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("state history disabled")
	}
	return nil
}

// Checks returns the component health checks behind /healthz.
func (b *Bridge) Checks() []api.Check {
	checks := []api.Check{
		{Name: "cache", Check: b.Cache.Ping},
		{Name: "hub", Check: b.Hub.Health},
		{Name: "stream", Check: b.Connection.HealthCheck},
		{Name: "database", Check: b.DB.HealthCheck},
	}
	if b.mqtt != nil {
		checks = append(checks, api.Check{Name: "mqtt", Check: b.mqtt.HealthCheck})
	}
	if b.influx != nil {
		checks = append(checks, api.Check{Name: "influxdb", Check: b.influx.HealthCheck})
	}
	return checks
}

// Run starts every component, fires the service start lifecycle, and
// blocks until ctx ends or the hub rejects authentication. On the way out
// it fires the service stop lifecycle and shuts components down in
// reverse order.
func (b *Bridge) Run(ctx context.Context) error {
	log := b.Logger

	b.recorder.Start()
	defer b.recorder.Stop()

	if b.mqttMirror != nil {
		b.mqttMirror.Start()
		defer b.mqttMirror.Stop()
	}

	if b.Config.API.Enabled {
		server, err := api.New(api.Deps{
			Config:   b.Config.API,
			Logger:   log,
			Checks:   b.Checks(),
			Triggers: b.Registry,
			Gatherer: b.Prometheus,
			Stats:    b.Connection.Stats,
			Audit:    b.Audit,
			Version:  b.Version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if err := server.Close(); err != nil {
				log.Error("error closing API server", "error", err)
			}
		}()
	}

	// Solar handlers must be bound before Start re-arms persisted jobs.
	if err := b.Dispatcher.StartSolar(ctx, b.State, b.Jobs); err != nil {
		return fmt.Errorf("scheduling solar triggers: %w", err)
	}
	if err := b.Jobs.Start(ctx); err != nil {
		return fmt.Errorf("starting job scheduler: %w", err)
	}
	defer b.Jobs.Stop()

	if err := b.Dispatcher.StartSchedules(ctx); err != nil {
		return fmt.Errorf("starting schedules: %w", err)
	}
	defer b.stopDispatcher()

	b.Connection.Start(ctx)
	defer b.Connection.Stop()

	keepCtx, stopKeep := context.WithCancel(ctx)
	keepDone := make(chan struct{})
	go func() {
		defer close(keepDone)
		b.State.KeepAlive(keepCtx)
	}()
	defer func() {
		stopKeep()
		<-keepDone
	}()

	b.Router.Publish(ctx, events.ServiceLifecycle{Phase: events.PhaseStart})
	log.Info("hubrelay running", "version", b.Version, "mode", b.Dispatcher.Mode())

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-b.Connection.Fatal():
		runErr = fmt.Errorf("hub connection: %w", err)
		log.Error("hub connection failed permanently", "error", err)
	}

	// Stop handlers still get a live context.
	b.Router.Publish(context.WithoutCancel(ctx), events.ServiceLifecycle{Phase: events.PhaseStop})
	return runErr
}

// stopDispatcher lets in-flight handlers finish, then cancels stragglers.
func (b *Bridge) stopDispatcher() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		b.Dispatcher.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
	}
	if err := b.Dispatcher.Stop(ctx); err != nil {
		b.Logger.Warn("handlers still running at shutdown", "error", err)
	}
}

// Close releases every resource opened by New and the Core, in reverse
// order of acquisition.
func (b *Bridge) Close() error {
	return errors.Join(b.closeOwned(), b.Core.Close())
}

func (b *Bridge) closeOwned() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
