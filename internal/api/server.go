package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/ble-scanner/internal/device"
	"github.com/nerrad567/ble-scanner/internal/infrastructure/config"
	"github.com/nerrad567/ble-scanner/internal/infrastructure/logging"
	"github.com/nerrad567/ble-scanner/internal/proxy"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Scanner controls the proxy ingestion loops. It is satisfied by
// *proxy.Manager.
type Scanner interface {
	Start(ctx context.Context) error
	Stop() error
	Running() bool
	Statuses() []proxy.EndpointStatus
	Endpoints() int
}

// ConnectionChecker reports broker connectivity. It is satisfied by
// *mqtt.Client.
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthCheck is one dependency probed by GET /api/health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error

	// Optional checks are reported but never make the scanner unhealthy.
	Optional bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config       config.APIConfig
	WS           config.WebSocketConfig
	Security     config.SecurityConfig
	Logger       *logging.Logger
	Registry     *device.Registry
	Scanner      Scanner
	MQTT         ConnectionChecker // nil when MQTT is disabled
	ScanInterval time.Duration
	Checks       []HealthCheck
	Version      string
}

// Server is the HTTP API server of the scanner.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket hub
// that streams registry events. The server is created with New() and
// started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	secCfg       config.SecurityConfig
	logger       *logging.Logger
	registry     *device.Registry
	scanner      Scanner
	mqtt         ConnectionChecker
	scanInterval time.Duration
	checks       []HealthCheck
	version      string
	startedAt    time.Time

	hub    *Hub
	server *http.Server
	cancel context.CancelFunc // cancels the hub on Close()

	// baseCtx parents the proxy loops started through the API, so a scan
	// outlives the request that started it.
	baseCtx context.Context
	ctxMu   sync.RWMutex
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. The hub is created
// and subscribed to registry events immediately, so events are streamed
// from the first request on.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		secCfg:       deps.Security,
		logger:       deps.Logger,
		registry:     deps.Registry,
		scanner:      deps.Scanner,
		mqtt:         deps.MQTT,
		scanInterval: deps.ScanInterval,
		checks:       deps.Checks,
		version:      deps.Version,
		startedAt:    time.Now(),
		baseCtx:      context.Background(),
	}

	s.hub = NewHub(deps.WS, deps.Logger)
	s.hub.SetSnapshot(s.sortedDevices)
	deps.Registry.AddListener(s.hub.HandleEvent)

	return s, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine.
//
// ctx parents the WebSocket hub and any scan started through the API.
// Binding errors (port in use) are returned directly.
func (s *Server) Start(ctx context.Context) error {
	srvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.ctxMu.Lock()
	s.baseCtx = ctx
	s.ctxMu.Unlock()

	go s.hub.Run(srvCtx)

	read, write, idle := s.cfg.Timeouts.Durations()
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      write,
		IdleTimeout:       idle,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
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

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) scanContext() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.baseCtx
}
