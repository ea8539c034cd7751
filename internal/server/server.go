package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"

	"github.com/ParisaSokuti/DS-project-sub000/internal/auth"
	"github.com/ParisaSokuti/DS-project-sub000/internal/game"
	"github.com/ParisaSokuti/DS-project-sub000/internal/randutil"
	"github.com/ParisaSokuti/DS-project-sub000/internal/store"
)

// Server accepts WebSocket transports and wires them into the
// dispatcher. Everything downstream of the upgrade (identity, rooms,
// game state) lives in the dispatcher's collaborators.
type Server struct {
	upgrader   websocket.Upgrader
	logger     *log.Logger
	limiter    *endpointLimiter
	dispatcher *Dispatcher
	registry   *RoomRegistry
	sessions   *SessionManager

	mu          sync.Mutex
	connections map[*Connection]struct{}
	httpServer  *http.Server
}

// Option configures a Server.
type Option func(*options)

type options struct {
	clock     quartz.Clock
	newEngine func() *game.Engine
}

// WithClock injects a clock for timers and TTLs (tests).
func WithClock(clock quartz.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithEngineFactory overrides per-room engine construction (tests use
// deterministically seeded engines).
func WithEngineFactory(f func() *game.Engine) Option {
	return func(o *options) { o.newEngine = f }
}

// NewServer assembles the full coordination stack over the given store
// and token verifier.
func NewServer(st store.StateStore, verifier auth.Verifier, logger *log.Logger, opts ...Option) *Server {
	o := options{
		clock: quartz.NewReal(),
		newEngine: func() *game.Engine {
			return game.NewEngine(randutil.NewCrypto())
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	sessions := NewSessionManager(st, o.clock, logger)
	dispatcher := NewDispatcher(sessions, verifier, logger)
	registry := NewRoomRegistry(st, sessions, dispatcher, o.clock, logger, o.newEngine)
	dispatcher.SetRegistry(registry)

	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Game clients connect cross-origin; identity comes from
				// the authenticate message, not the origin.
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:      logger.WithPrefix("server"),
		limiter:     newEndpointLimiter(o.clock),
		dispatcher:  dispatcher,
		registry:    registry,
		sessions:    sessions,
		connections: make(map[*Connection]struct{}),
	}
}

// Registry exposes the room registry (startup recovery, tests).
func (s *Server) Registry() *RoomRegistry {
	return s.registry
}

// Dispatcher exposes the dispatcher (tests).
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Sessions exposes the session manager (tests).
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Start recovers persisted rooms and serves until the listener fails or
// Shutdown is called.
func (s *Server) Start(ctx context.Context, addr string) error {
	if err := s.registry.Recover(ctx); err != nil {
		return fmt.Errorf("recover rooms: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	s.logger.Info("Starting WebSocket server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the listener, all actors, and all transports.
func (s *Server) Shutdown(ctx context.Context) error {
	s.registry.StopAll()

	s.mu.Lock()
	for conn := range s.connections {
		_ = conn.Close()
	}
	s.connections = make(map[*Connection]struct{})
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleWebSocket handles WebSocket upgrade requests
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	endpoint := remoteEndpoint(r)
	if !s.limiter.AddTransport(endpoint) {
		s.logger.Warn("Endpoint exceeded transport limit", "endpoint", endpoint)
		http.Error(w, "rate_limited", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.limiter.RemoveTransport(endpoint)
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := NewConnection(conn, endpoint, s.logger, s.dispatcher, s.limiter)
	s.mu.Lock()
	s.connections[client] = struct{}{}
	total := len(s.connections)
	s.mu.Unlock()
	s.logger.Info("Client connected", "endpoint", endpoint, "total", total)

	client.Start()

	go func() {
		<-client.Done()
		s.limiter.RemoveTransport(endpoint)
		s.mu.Lock()
		delete(s.connections, client)
		total := len(s.connections)
		s.mu.Unlock()
		s.logger.Info("Client disconnected", "endpoint", endpoint, "total", total)
	}()
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK")
}

// remoteEndpoint keys rate limits by the remote host without the
// ephemeral port.
func remoteEndpoint(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
