package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/hubrelay/internal/audit"
	"github.com/nerrad567/hubrelay/internal/automation"
	"github.com/nerrad567/hubrelay/internal/bridges/hub"
	"github.com/nerrad567/hubrelay/internal/infrastructure/config"
	"github.com/nerrad567/hubrelay/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// healthCheckTimeout bounds each component check behind /healthz.
const healthCheckTimeout = 3 * time.Second

// Check is one named component health check.
type Check struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Checks   []Check
	Triggers automation.Source
	Gatherer prometheus.Gatherer

	// Stats reports connection statistics. Optional.
	Stats func() hub.Stats

	// Audit serves /debug/audit. Optional.
	Audit   audit.Repository
	Version string
}

// Server is the operational HTTP server.
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	checks   []Check
	triggers automation.Source
	gatherer prometheus.Gatherer
	stats    func() hub.Stats
	audit    audit.Repository
	version  string
	started  time.Time
	server   *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Triggers == nil {
		return nil, fmt.Errorf("trigger source is required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		checks:   deps.Checks,
		triggers: deps.Triggers,
		gatherer: deps.Gatherer,
		stats:    deps.Stats,
		audit:    deps.Audit,
		version:  deps.Version,
		started:  time.Now(),
	}, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go func() {
		s.logger.Info("API server starting", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
