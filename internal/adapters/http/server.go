// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/fieldtally/internal/application"
	"github.com/jobrunner/fieldtally/internal/config"
	"github.com/jobrunner/fieldtally/internal/ports/input"
)

// Server wraps the HTTP server with application handlers.
type Server struct {
	server      *http.Server
	router      *mux.Router
	counter     input.CountService
	catalog     input.LayerCatalog
	health      *application.HealthService
	syncService *application.SyncService
	logger      *slog.Logger
	config      config.ServerConfig
	outputDir   string // API run outputs are confined to this directory
	middleware  []mux.MiddlewareFunc
}

// Option configures a Server.
type Option func(*Server)

// WithMiddleware adds router middleware, e.g. metrics collection.
func WithMiddleware(mw ...mux.MiddlewareFunc) Option {
	return func(s *Server) {
		s.middleware = append(s.middleware, mw...)
	}
}

// WithSync enables the sync endpoint.
func WithSync(syncService *application.SyncService) Option {
	return func(s *Server) {
		s.syncService = syncService
	}
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg config.ServerConfig,
	counter input.CountService,
	catalog input.LayerCatalog,
	health *application.HealthService,
	outputDir string,
	logger *slog.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		counter:   counter,
		catalog:   catalog,
		health:    health,
		logger:    logger,
		config:    cfg,
		outputDir: outputDir,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.middleware...)

	// Preflight requests must match a route for the CORS middleware to run.
	post := []string{http.MethodPost}
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
		post = append(post, http.MethodOptions)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Layer catalog
	api.HandleFunc("/layers", s.handleListFiles).Methods(http.MethodGet)
	api.HandleFunc("/layers/{fileId}", s.handleGetFile).Methods(http.MethodGet)

	// Counting runs
	api.HandleFunc("/runs", s.handleRun).Methods(post...)

	if s.syncService != nil {
		api.HandleFunc("/sync", s.handleSync).Methods(post...)
	}

	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
