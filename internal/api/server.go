package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/pzem016-mqtt/internal/broker"
	"github.com/nerrad567/pzem016-mqtt/internal/collector"
	"github.com/nerrad567/pzem016-mqtt/internal/history"
	"github.com/nerrad567/pzem016-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/pzem016-mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/pzem016-mqtt/internal/supervisor"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// healthCheckTimeout bounds each dependency check behind /health.
const healthCheckTimeout = 2 * time.Second

// SupervisorStatus reports task state.
type SupervisorStatus interface {
	Stats() supervisor.Stats
}

// ReadingSource serves the collector's in-memory view of the meters.
type ReadingSource interface {
	Latest() []collector.Reading
	LatestFor(addr uint8) (collector.Reading, bool)
	Stats() collector.Stats
}

// BrokerStatus reports broker task counters.
type BrokerStatus interface {
	Stats() broker.Stats
}

// GatewayStatus reports per-gateway circuit breaker state.
type GatewayStatus interface {
	BreakerStates() map[string]string
}

// History serves stored readings and task events.
type History interface {
	Readings(ctx context.Context, addr uint8, limit int) ([]history.ReadingEntry, error)
	TaskEvents(ctx context.Context, limit int) ([]supervisor.TaskEvent, error)
}

// HealthChecker is a dependency reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// PoolStats reports connection pool statistics.
type PoolStats interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
// Supervisor, Collector and Logger are required; the rest are optional.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Supervisor SupervisorStatus
	Collector  ReadingSource
	Broker     BrokerStatus
	Gateways   GatewayStatus
	History    History
	DB         PoolStats

	// Checks are run by /health, keyed by the name reported.
	Checks map[string]HealthChecker

	// Hub, when set, is used instead of a server-owned hub. The binary
	// creates it first so the supervisor can feed it forwarded messages.
	Hub *Hub

	Version string
}

// Server is the operator HTTP server.
//
// It manages the HTTP listener, routes, middleware, and the live tap hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	supervisor SupervisorStatus
	collector  ReadingSource
	broker     BrokerStatus
	gateways   GatewayStatus
	history    History
	db         PoolStats
	checks     map[string]HealthChecker
	version    string

	hub         *Hub
	externalHub bool

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, ErrNoLogger
	}
	if deps.Supervisor == nil {
		return nil, ErrNoSupervisor
	}
	if deps.Collector == nil {
		return nil, ErrNoCollector
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		supervisor: deps.Supervisor,
		collector:  deps.Collector,
		broker:     deps.Broker,
		gateways:   deps.Gateways,
		history:    deps.History,
		db:         deps.DB,
		checks:     deps.Checks,
		version:    deps.Version,
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the live tap hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start binds the listener and serves in the background. A bind failure
// is returned; later serve errors are logged.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return ErrAlreadyStarted
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// Serve starts the server and blocks until ctx is cancelled, then closes it.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return ErrNotStarted
	}
	return nil
}
