package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/geoservice/internal/output"
	"github.com/seantiz/geoservice/internal/scheduler"
	"github.com/seantiz/geoservice/internal/session"
	"github.com/seantiz/geoservice/internal/store"
	"github.com/seantiz/geoservice/internal/ticket"
	"github.com/seantiz/geoservice/internal/transform"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	// Synchronous requests hold the connection for the whole transform.
	writeTimeout = 15 * time.Minute
)

// Options configure the HTTP surface.
type Options struct {
	Addr string
	// InputDir is the root under which "resource" paths are resolved.
	InputDir    string
	CORSOrigins []string
}

// Deps are the services the handlers call into.
type Deps struct {
	Store     store.Store
	Resolver  *ticket.Resolver
	Sessions  *session.Manager
	Scheduler *scheduler.Scheduler
	Output    *output.Materializer
	Logger    *slog.Logger
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router    *chi.Mux
	store     store.Store
	resolver  *ticket.Resolver
	sessions  *session.Manager
	scheduler *scheduler.Scheduler
	output    *output.Materializer
	logger    *slog.Logger
	addr      string
	inputDir  string
}

// NewServer creates and configures a new HTTP server.
func NewServer(opts Options, deps Deps) *Server {
	srv := &Server{
		router:    chi.NewRouter(),
		store:     deps.Store,
		resolver:  deps.Resolver,
		sessions:  deps.Sessions,
		scheduler: deps.Scheduler,
		output:    deps.Output,
		logger:    deps.Logger,
		addr:      opts.Addr,
		inputDir:  opts.InputDir,
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(instrument)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id", idempotencyHeader},
		ExposedHeaders:   []string{"X-Request-Id", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", metricsHandler())
	s.router.Get("/stats", s.handleGetStats)
	s.router.Get("/operations", s.handleListOperations)

	s.router.Post("/constructive/{kind}", s.handleAdmit(transform.FamilyConstructive))
	s.router.Post("/filter/{kind}", s.handleAdmit(transform.FamilyFilter))
	s.router.Post("/join/{kind}", s.handleAdmit(transform.FamilyJoin))

	s.router.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/status", s.handleJobStatus)
		r.Get("/result/{ticket}", s.handleJobResult)
	})

	s.router.Get("/output/*", s.handleOutput)
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
