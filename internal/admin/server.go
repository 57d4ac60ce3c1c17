// Package admin serves the operator HTTP surface: health and in-flight jobs.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mangabot/internal/chaptercache"
	"mangabot/internal/kernel"
)

const defaultShutdownTimeout = 5 * time.Second

// JobLister exposes in-flight caching jobs.
type JobLister interface {
	Snapshot() []chaptercache.JobSnapshot
}

// BusStats exposes event bus delivery counters.
type BusStats interface {
	Stats() []kernel.SubscriptionStats
}

// Server is the admin HTTP surface.
type Server struct {
	jobs   JobLister
	bus    BusStats
	logger *slog.Logger
}

// Option mutates server configuration.
type Option func(*Server)

// WithBusStats adds GET /bus.
func WithBusStats(bus BusStats) Option {
	return func(s *Server) {
		s.bus = bus
	}
}

// WithLogger configures request error logging.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an admin server over jobs.
func New(jobs JobLister, options ...Option) (*Server, error) {
	if jobs == nil {
		return nil, fmt.Errorf("new admin server: nil job lister")
	}

	server := &Server{jobs: jobs, logger: slog.Default()}
	for _, option := range options {
		option(server)
	}

	return server, nil
}

// Routes returns the admin router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.getHealthz)
	r.Get("/jobs", s.getJobs)
	if s.bus != nil {
		r.Get("/bus", s.getBus)
	}

	return r
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", addr, err)
	}

	return s.Serve(ctx, listener)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Serve(listener) }()
	s.logger.InfoContext(ctx, "admin server listening", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	<-errCh

	return nil
}

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) getJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.jobs.Snapshot())
}

func (s *Server) getBus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.bus.Stats())
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WarnContext(r.Context(), "admin response write failed", "path", r.URL.Path, "error", err)
	}
}
