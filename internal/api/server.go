// Package api is the HTTP transport. It runs the same dispatcher as the TCP
// server behind bearer-token auth and a bounded number of execution slots.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/relay/internal/auth"
	"github.com/mattjoyce/relay/internal/command"
	"github.com/mattjoyce/relay/internal/dispatch"
	"github.com/mattjoyce/relay/internal/events"
	"golang.org/x/sync/semaphore"
)

// Executor runs one argument vector. *dispatch.Dispatcher satisfies it.
type Executor interface {
	ExecuteResult(ctx context.Context, args []string, meta dispatch.Meta) dispatch.Result
}

// Catalog lists registered commands. *command.Registry satisfies it.
type Catalog interface {
	Entries() []*command.Entry
}

// EventSource feeds the SSE stream. *events.Hub satisfies it.
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
	SnapshotSince(lastID int64) []events.Event
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// Workers bounds concurrently executing requests.
	Workers int
	// Tokens enables bearer auth when non-empty. Each name is the caller identity.
	Tokens          []auth.TokenConfig
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

const (
	defaultWorkers      = 4
	defaultMaxBodyBytes = 16 << 20
	keepAliveInterval   = 15 * time.Second
)

// Server represents the HTTP API server.
type Server struct {
	config    Config
	exec      Executor
	catalog   Catalog
	events    EventSource
	logger    *slog.Logger
	startedAt time.Time
	slots     *semaphore.Weighted
	keepAlive time.Duration

	// draining is closed when shutdown begins so event streams end.
	draining  chan struct{}
	drainOnce sync.Once
}

// New creates a new API server instance. events may be nil, which disables /v1/events.
func New(config Config, exec Executor, catalog Catalog, events EventSource, logger *slog.Logger) *Server {
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		config:    config,
		exec:      exec,
		catalog:   catalog,
		events:    events,
		logger:    logger,
		startedAt: time.Now(),
		slots:     semaphore.NewWeighted(int64(config.Workers)),
		keepAlive: keepAliveInterval,
		draining:  make(chan struct{}),
	}
}

func (s *Server) drain() {
	s.drainOnce.Do(func() { close(s.draining) })
}

// Run serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	srv.RegisterOnShutdown(s.drain)

	s.logger.Info("API server starting", "listen", ln.Addr().String(), "workers", s.config.Workers)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}

// Start binds config.Listen and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	return s.Run(ctx, ln)
}

// Handler returns the routed handler, for embedding or httptest.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/exec", s.handleExec)
		r.Get("/commands", s.handleCommands)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
