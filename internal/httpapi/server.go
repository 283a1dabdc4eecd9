package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rmacdonaldsmith/refspace-go/internal/observability"
	"github.com/rmacdonaldsmith/refspace-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// Server represents the introspection HTTP API server
type Server struct {
	store      refspace.Store
	link       peerlink.PeerLink
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	logger     zerolog.Logger
}

// Config holds server configuration
type Config struct {
	Address   string
	SecretKey string
	TokenTTL  time.Duration

	// NoAuth opens the read endpoints without a token
	NoAuth bool

	Logger *zerolog.Logger
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("address cannot be empty")
	}
	if c.SecretKey == "" {
		return errors.New("secret key cannot be empty")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.Logger == nil {
		logger := log.Logger.With().Str("component", "httpapi").Logger()
		c.Logger = &logger
	}
}

// NewServer creates a new HTTP API server over store. link may be nil.
func NewServer(store refspace.Store, link peerlink.PeerLink, config Config) (*Server, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.SetDefaults()
	observability.RegisterMetrics()

	jwtAuth := NewJWTAuth(config.SecretKey, config.TokenTTL)
	server := &Server{
		store:      store,
		link:       link,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(store, link, jwtAuth, config.SecretKey),
		middleware: NewMiddleware(jwtAuth, *config.Logger, store.ID(), config.NoAuth),
		logger:     *config.Logger,
	}

	server.server = &http.Server{
		Addr:           config.Address,
		Handler:        server.setupRoutes(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return server, nil
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server on the configured address
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve serves HTTP on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("address", lis.Addr().String()).Msg("HTTP API listening")
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

	route := func(pattern string, handler http.HandlerFunc) {
		mux.Handle(pattern, s.middleware.Recovery(
			s.middleware.Logging(pattern,
				s.middleware.ContentType(handler))))
	}

	// no auth required
	route("POST /api/v1/auth/login", s.handlers.Login)
	route("GET /api/v1/health", s.handlers.Health)

	route("GET /api/v1/refs", s.middleware.AuthRequired(s.handlers.ListRefs))
	route("GET /api/v1/refs/{space}/{id}", s.middleware.AuthRequired(s.handlers.GetRef))
	route("GET /api/v1/peers", s.middleware.AuthRequired(s.handlers.ListPeers))
	route("DELETE /api/v1/peers/{id}", s.middleware.AdminRequired(s.handlers.DisconnectPeer))

	mux.Handle("GET /metrics", promhttp.Handler())
	route("GET /{$}", s.handleRoot)
	return mux
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"service": "refspace introspection API",
		"node":    s.store.ID(),
		"endpoints": map[string]string{
			"login":      "POST /api/v1/auth/login",
			"health":     "GET /api/v1/health",
			"refs":       "GET /api/v1/refs?space={space}&kind={kind}",
			"ref":        "GET /api/v1/refs/{space}/{id}",
			"peers":      "GET /api/v1/peers",
			"disconnect": "DELETE /api/v1/peers/{id}",
			"metrics":    "GET /metrics",
		},
		"authentication": "Bearer JWT token required for refs and peers",
	}
	writeJSON(w, info, http.StatusOK)
}
