// Package server exposes the extraction layer over HTTP: synchronous cached
// timeseries, asynchronous export jobs, dataset discovery and health.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/yieldera/datahub/internal/cache"
	"github.com/yieldera/datahub/internal/extract"
	"github.com/yieldera/datahub/internal/job"
)

// Server bundles the router and its dependencies.
type Server struct {
	extractor *extract.Extractor
	cache     *cache.Cache
	jobs      *job.Manager
	router    chi.Router
}

// New constructs a server with routes and middleware registered.
func New(extractor *extract.Extractor, c *cache.Cache, jobs *job.Manager) *Server {
	s := &Server{
		extractor: extractor,
		cache:     c,
		jobs:      jobs,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/datasets", s.handleDatasets)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/timeseries", s.handleTimeseries)
		r.Post("/export", s.handleExport)
		r.Get("/jobs/{jobID}", s.handleJobStatus)
		r.Get("/jobs/{jobID}/download", s.handleJobDownload)
	})

	s.router = r
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		zap.L().Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
