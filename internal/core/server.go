// Package core provides the API chassis for the Faberland rental service.
// It builds the chi router and enforces cross-cutting concerns -- security
// headers, request correlation, logging, and error handling -- before
// requests reach the domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"faberland/internal/config"
)

// Pinger reports storage connectivity for the health endpoint.
// Satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouteRegistrar mounts a group of domain handler routes onto the router.
// The application entry point populates Server.V1RouteRegistrars with one
// registrar per handler; this indirection keeps core free of handler imports.
type RouteRegistrar func(chi.Router)

// Server encapsulates the HTTP-layer dependencies of the API, allowing for
// easy injection during testing and distinct configuration per environment.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	DB        Pinger

	V1RouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer initializes dependencies and prepares the router. The caller
// mounts routes afterwards (via MountRoutes); the separation lets tests
// customize route registration.
func NewServer(cfg *config.Config, db Pinger, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		DB:        db,
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server-held resources. The database pool is owned and
// closed by the entry point, so there is nothing to close here beyond
// flushing state; the method exists so the run loop has a single shutdown
// call regardless of what the server grows to hold.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
