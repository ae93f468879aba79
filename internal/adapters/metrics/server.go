package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Server exposes metrics on a dedicated port.
type Server struct {
	server *http.Server
	path   string
	logger *slog.Logger
}

// NewServer creates a metrics server listening on port and serving h at
// path.
func NewServer(port int, path string, h http.Handler, logger *slog.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}

	r := mux.NewRouter()
	r.Handle(path, h).Methods(http.MethodGet)

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		path:   path,
		logger: logger,
	}
}

// Start serves metrics until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting metrics server", "address", s.server.Addr, "path", s.path)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
