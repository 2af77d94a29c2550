// Package server provides the HTTP API for Kotoba.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/kotoba/internal/config"
	"github.com/hyperjump/kotoba/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Responder is the response store served by the API.
type Responder interface {
	Insert(ctx context.Context, prompt string, response models.Response) error
	Respond(ctx context.Context, prompt string) (models.Response, error)
	Stats(ctx context.Context) (models.Stats, error)
}

// WatchService manages the watched import directories.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the Kotoba API.
type Server struct {
	store  Responder
	config *config.Config
	logger *zap.Logger
	server *http.Server

	watch      WatchService // nil disables the watch endpoints
	configPath string       // when set, watch changes are saved here
	configMu   sync.Mutex

	insertLimiter *rate.Limiter // nil means unlimited
}

// Option configures a Server.
type Option func(*Server)

// WithWatchService enables the /api/v1/watch endpoints.
func WithWatchService(w WatchService) Option {
	return func(s *Server) { s.watch = w }
}

// WithConfigPath persists watch directory changes to the config file at path.
func WithConfigPath(path string) Option {
	return func(s *Server) { s.configPath = path }
}

// NewServer creates a server for store. A nil cfg means the built-in defaults.
func NewServer(store Responder, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if cfg == nil {
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
	}
	s := &Server{
		store:  store,
		config: cfg,
		logger: logger,
	}
	if cfg.Server.InsertRatePerSecond > 0 {
		s.insertLimiter = rate.NewLimiter(rate.Limit(cfg.Server.InsertRatePerSecond), max(cfg.Server.InsertBurst, 1))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.limitInserts).Post("/responses", s.handleInsert)
		r.Post("/respond", s.handleRespond)
		r.Get("/status", s.handleStatus)
		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) limitInserts(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.insertLimiter != nil && !s.insertLimiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.respondError(w, http.StatusTooManyRequests, "insert rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
