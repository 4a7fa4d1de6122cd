// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/modelforge/internal/auth"
	"github.com/modelforge/internal/logging"
	"github.com/modelforge/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sessions issues, verifies and revokes session tokens
type Sessions interface {
	SessionVerifier
	Issue(userID int64) (string, *auth.Session, error)
	Revoke(ctx context.Context, token string) error
	TTL() time.Duration
}

// Services groups the application services the handlers delegate to
type Services struct {
	Users         *service.UserService
	Models        *service.ModelService
	Contributions *service.ContributionService
	Compute       *service.ComputeService
	Activities    *service.ActivityLog
	IPFS          *service.IPFSService
	Datasets      *service.DatasetService
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	services   Services
	sessions   Sessions
	realtime   http.Handler
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	CookieName   string
	CookieSecure bool

	AnonymousRPS     int // Requests per second for callers without a session
	AuthenticatedRPS int // Requests per second for signed-in users
	Burst            int
}

// NewServer creates a new API server instance. realtime serves the /ws upgrade.
func NewServer(config *ServerConfig, services Services, sessions Sessions, realtime http.Handler, logger *logging.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		sessions: sessions,
		realtime: realtime,
		config:   config,
		logger:   logger.WithComponent("api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.AnonymousRPS, s.config.AuthenticatedRPS, s.config.Burst)

	// order matters: the rate limiter keys on the session bound before it
	s.router.Use(RequestIDMiddleware(s.logger))
	s.router.Use(LoggingMiddleware)
	s.router.Use(CompressionMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware(s.config.AllowedOrigins))
	s.router.Use(SessionMiddleware(s.sessions, s.config.CookieName))
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if s.realtime != nil {
		s.router.Handle("/ws", s.realtime).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()

	// Session endpoints
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/user", s.handleCurrentUser).Methods(http.MethodGet)

	// Model endpoints
	api.HandleFunc("/models", s.handleListModels).Methods(http.MethodGet)
	api.HandleFunc("/models/{id:[0-9]+}", s.handleGetModel).Methods(http.MethodGet)

	// Contribution endpoints
	api.HandleFunc("/contributions", s.handleListContributions).Methods(http.MethodGet)
	api.HandleFunc("/contributions", s.handleSubmitContribution).Methods(http.MethodPost)
	api.HandleFunc("/contributions/user", s.handleUserContributions).Methods(http.MethodGet)
	api.HandleFunc("/contributions/{id:[0-9]+}/apply", s.handleApplyContribution).Methods(http.MethodPost)
	api.HandleFunc("/contributions/{id:[0-9]+}/reject", s.handleRejectContribution).Methods(http.MethodPost)

	api.HandleFunc("/activities/{modelId:[0-9]+}", s.handleListActivities).Methods(http.MethodGet)

	// Compute network endpoints
	api.HandleFunc("/compute/register", s.handleComputeRegister).Methods(http.MethodPost)
	api.HandleFunc("/compute/contribute", s.handleComputeContribute).Methods(http.MethodPost)

	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	// IPFS gateway pass-through
	api.HandleFunc("/ipfs/status", s.handleIPFSStatus).Methods(http.MethodGet)
	api.HandleFunc("/ipfs/upload/text", s.handleIPFSUploadText).Methods(http.MethodPost)
	api.HandleFunc("/ipfs/upload/file", s.handleIPFSUploadFile).Methods(http.MethodPost)
	api.HandleFunc("/ipfs/content/{cid}", s.handleIPFSContent).Methods(http.MethodGet)
	api.HandleFunc("/ipfs/pin/{cid}", s.handleIPFSPin).Methods(http.MethodPost)
	api.HandleFunc("/ipfs/storage", s.handleIPFSStorage).Methods(http.MethodGet)

	// Dataset endpoints
	api.HandleFunc("/datasets", s.handleCreateDataset).Methods(http.MethodPost)
	api.HandleFunc("/datasets/user", s.handleUserDatasets).Methods(http.MethodGet)
	api.HandleFunc("/datasets/{id:[0-9]+}", s.handleGetDataset).Methods(http.MethodGet)

	api.HandleFunc("/environment", s.handleEnvironment).Methods(http.MethodGet)

	// preflight requests are answered by the CORS middleware
	s.router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "modelforge",
	})
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
