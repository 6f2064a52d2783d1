package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/faceless-tools/faceless/internal/anonymizer"
	"github.com/faceless-tools/faceless/internal/config"
	"github.com/faceless-tools/faceless/internal/dispatch"
	"github.com/faceless-tools/faceless/internal/preview"
	"github.com/faceless-tools/faceless/internal/queue"
	"github.com/faceless-tools/faceless/internal/quota"
	"github.com/faceless-tools/faceless/internal/web/handlers"
	"github.com/faceless-tools/faceless/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     *chi.Mux
	httpServer *http.Server

	client   *anonymizer.Client
	previews *preview.Store
	store    *queue.Store
	gate     *quota.Gate
	orch     *dispatch.Orchestrator
	settings *handlers.SettingsManager
}

// NewServer creates a new web server wired to the anonymization service.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	client, err := anonymizer.New(cfg.Anonymizer.URL)
	if err != nil {
		return nil, fmt.Errorf("could not create anonymizer client: %w", err)
	}

	r := chi.NewRouter()

	previews := preview.NewStore()
	store := queue.NewStore(func(h *preview.Handle) { previews.Release(h) })
	gate := quota.NewGate(client, logger)
	orch := dispatch.New(client, store, gate, previews, logger)

	s := &Server{
		config:   cfg,
		logger:   logger,
		router:   r,
		client:   client,
		previews: previews,
		store:    store,
		gate:     gate,
		orch:     orch,
		settings: handlers.NewSettingsManager(),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Use(middleware.CORS())
	r.Use(middleware.SecurityHeaders())

	// Set up routes
	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long timeout for batch uploads
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// RefreshQuota primes the rate limit snapshot from the service. A failure is
// logged inside the gate and never blocks startup.
func (s *Server) RefreshQuota(ctx context.Context) {
	s.gate.Refresh(ctx)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting web server",
		zap.String("addr", s.httpServer.Addr),
		zap.String("anonymizer_url", s.config.Anonymizer.URL),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
