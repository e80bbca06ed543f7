package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/petnestiq/habitat-gateway/internal/audit"
	"github.com/petnestiq/habitat-gateway/internal/gateway"
	"github.com/petnestiq/habitat-gateway/internal/history"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/config"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/database"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Gateway *gateway.Gateway

	// Default is used by POST /gateway/connect when the body is empty.
	Default gateway.ConnectionConfig

	// History is optional; without it /history answers 503.
	History history.Repository

	// Audit is optional; without it operate calls go unrecorded and
	// /audit answers 503.
	Audit audit.Repository

	// DB is optional and only reported by /health.
	DB *database.DB

	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer

	Version string
}

// Server is the HTTP API server.
type Server struct {
	deps      Deps
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	gw        *gateway.Gateway
	hub       *Hub
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	relays   sync.WaitGroup
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	ws := deps.WS
	if ws.Path == "" {
		ws.Path = "/ws"
	}
	if ws.MaxMessageSize <= 0 {
		ws.MaxMessageSize = 8192
	}
	if ws.PingInterval <= 0 {
		ws.PingInterval = 30
	}
	if ws.PongTimeout <= 0 {
		ws.PongTimeout = 10
	}

	return &Server{
		deps:      deps,
		cfg:       deps.Config,
		wsCfg:     ws,
		logger:    deps.Logger,
		gw:        deps.Gateway,
		hub:       NewHub(ws, deps.Logger),
		startTime: time.Now(),
	}, nil
}

// Handler returns the router. Tests serve it through httptest.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// StartRelays forwards gateway changes to WebSocket subscribers until
// ctx is cancelled. Start calls it; tests using Handler call it directly.
func (s *Server) StartRelays(ctx context.Context) {
	s.relays.Add(1)
	go func() {
		defer s.relays.Done()
		s.hub.Run(ctx)
	}()
	s.relays.Add(1)
	go func() {
		defer s.relays.Done()
		s.relayGateway(ctx)
	}()
}

// Start begins listening in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listening on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	s.StartRelays(srvCtx)

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.mu.Lock()
	s.server, s.listener, s.cancel = srv, ln, cancel
	s.mu.Unlock()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops the relays and gracefully shuts down the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server, s.cancel = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.relays.Wait()
	if srv == nil {
		return nil
	}

	ctx, stop := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer stop()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
