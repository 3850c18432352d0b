package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/roomadapter-go/internal/metrics"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/roomnode"
)

// DefaultSecretKey signs tokens when no secret is configured
const DefaultSecretKey = "roomadapter-dev-secret-key-change-in-production"

// Config holds server configuration
type Config struct {
	Addr        string
	SecretKey   string
	TokenTTL    time.Duration
	NoAuth      bool
	CORSOrigins []string

	// BroadcastRate is the per-client broadcast rate in requests per second; zero is unlimited
	BroadcastRate  float64
	BroadcastBurst int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// KeepAlive is the SSE comment interval and the WebSocket ping period
	KeepAlive time.Duration
	// SocketQueue is the outbound buffer per streaming socket
	SocketQueue int
}

// SetDefaults fills zero values
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.SecretKey == "" {
		c.SecretKey = DefaultSecretKey
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 15 * time.Second
	}
	if c.SocketQueue == 0 {
		c.SocketQueue = 256
	}
}

// Server represents the HTTP API server
type Server struct {
	node       roomnode.RoomNode
	config     Config
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	collector  *metrics.Collector
	logger     *zap.Logger
	handler    http.Handler
	server     *http.Server
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithLogger sets the server logger
func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCollector exposes /metrics and counts requests
func WithCollector(collector *metrics.Collector) ServerOption {
	return func(s *Server) {
		s.collector = collector
	}
}

// NewServer creates a new HTTP API server
func NewServer(node roomnode.RoomNode, config Config, opts ...ServerOption) *Server {
	config.SetDefaults()

	s := &Server{
		node:   node,
		config: config,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.jwtAuth = NewJWTAuth(config.SecretKey, config.TokenTTL)
	s.handlers = NewHandlers(node, s.jwtAuth, config, s.logger)
	s.middleware = NewMiddleware(s.jwtAuth, config, s.logger, s.collector)
	s.handler = s.setupRoutes()

	s.server = &http.Server{
		Addr:           config.Addr,
		Handler:        s.handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return s
}

// Handler returns the fully wrapped route table
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Auth returns the server's token issuer
func (s *Server) Auth() *JWTAuth {
	return s.jwtAuth
}

// Start starts the HTTP server. It returns nil after Stop.
func (s *Server) Start() error {
	s.logger.Info("http api listening", zap.String("addr", s.config.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve serves on an existing listener. It returns nil after Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("http api listening", zap.String("addr", lis.Addr().String()))
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()
	m := s.middleware

	api := func(handler http.HandlerFunc) http.Handler {
		return m.ContentType(handler)
	}
	authed := func(handler http.HandlerFunc) http.Handler {
		return m.ContentType(m.AuthRequired(handler))
	}
	admin := func(handler http.HandlerFunc) http.Handler {
		return m.ContentType(m.AdminRequired(handler))
	}

	// Authentication and health (no auth required)
	mux.Handle("POST /api/v1/auth/login", api(s.handlers.Login))
	mux.Handle("GET /api/v1/health", api(s.handlers.Health))

	// Membership
	mux.Handle("GET /api/v1/rooms", authed(s.handlers.ListRooms))
	mux.Handle("GET /api/v1/rooms/{room}/clients", authed(s.handlers.ListClients))
	mux.Handle("POST /api/v1/rooms/{room}/members", authed(s.handlers.JoinRoom))
	mux.Handle("DELETE /api/v1/rooms/{room}/members/{id}", authed(s.handlers.LeaveRoom))
	mux.Handle("DELETE /api/v1/rooms/{room}", authed(s.handlers.EmptyRoom))
	mux.Handle("GET /api/v1/sockets/{id}/rooms", authed(s.handlers.SocketRooms))
	mux.Handle("DELETE /api/v1/sockets/{id}/rooms", authed(s.handlers.LeaveAll))

	// Broadcast
	mux.Handle("POST /api/v1/broadcast", m.ContentType(m.AuthRequired(m.RateLimit(http.HandlerFunc(s.handlers.Broadcast)))))

	// Streaming sockets set their own content type
	mux.Handle("GET /api/v1/ws", m.AuthRequired(http.HandlerFunc(s.handlers.WebSocket)))
	mux.Handle("GET /api/v1/stream", m.AuthRequired(http.HandlerFunc(s.handlers.Stream)))

	// Admin endpoints (admin auth required)
	mux.Handle("GET /api/v1/admin/stats", admin(s.handlers.AdminGetStats))
	mux.Handle("DELETE /api/v1/admin/rooms", admin(s.handlers.AdminClear))

	if s.collector != nil {
		mux.Handle("GET /metrics", s.collector.Handler())
	}

	// Root endpoint with API info
	mux.Handle("GET /{$}", api(s.handleRoot))

	return m.Recovery(m.Logging(m.CORS(mux)))
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"service":     "Room Adapter HTTP API",
		"version":     "1.0.0",
		"description": "Room membership and broadcast fan-out",
		"node":        s.node.GetNodeID(),
		"endpoints": map[string]any{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"rooms": map[string]string{
				"list":    "GET /api/v1/rooms",
				"clients": "GET /api/v1/rooms/{room}/clients",
				"join":    "POST /api/v1/rooms/{room}/members",
				"leave":   "DELETE /api/v1/rooms/{room}/members/{id}",
				"empty":   "DELETE /api/v1/rooms/{room}",
			},
			"sockets": map[string]string{
				"rooms":    "GET /api/v1/sockets/{id}/rooms",
				"leaveAll": "DELETE /api/v1/sockets/{id}/rooms",
				"ws":       "GET /api/v1/ws?id={id}&room={room}",
				"stream":   "GET /api/v1/stream?id={id}&room={room}",
			},
			"broadcast": "POST /api/v1/broadcast",
			"admin": map[string]string{
				"stats": "GET /api/v1/admin/stats",
				"clear": "DELETE /api/v1/admin/rooms",
			},
			"health":  "GET /api/v1/health",
			"metrics": "GET /metrics",
		},
		"authentication": "Bearer JWT token required for most endpoints",
	}

	writeJSON(w, http.StatusOK, info)
}

// writeError writes an error response as JSON
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
