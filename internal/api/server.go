package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/ignite/mailqueue/internal/config"
)

// Server serves the email API and health routes.
type Server struct {
	addr    string
	handler http.Handler
	server  *http.Server
}

// NewServer creates a new API server around the given handlers.
func NewServer(cfg config.ServerConfig, h *Handlers) *Server {
	s := &Server{
		addr:    cfg.Addr(),
		handler: SetupRoutes(h, cfg.AllowedOrigins),
	}
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.handler,
		// Bulk requests can carry tens of thousands of recipients.
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.addr }

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Serve accepts connections on ln, e.g. the listener a port preflight
// already holds.
func (s *Server) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
