package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MellowMango/email-campaign-automation-sub001/internal/config"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/dispatch"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/model"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/ratelimit"
)

// MessageReader is the read-only message access the HTTP surface needs
type MessageReader interface {
	GetByID(ctx context.Context, id string) (*model.Message, error)
	Stats(ctx context.Context) (*model.MessageStats, error)
}

// Server is the HTTP server exposing webhook ingestion and the
// dispatch trigger
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	serverCfg  *config.ServerConfig
	webhookCfg *config.WebhookConfig
	limiter    *ratelimit.Limiter
	processor  *Processor
	worker     *dispatch.Worker
	messages   MessageReader
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new webhook server
func NewServer(serverCfg *config.ServerConfig, webhookCfg *config.WebhookConfig,
	limiter *ratelimit.Limiter, processor *Processor, worker *dispatch.Worker,
	messages MessageReader, logger *slog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		serverCfg:  serverCfg,
		webhookCfg: webhookCfg,
		limiter:    limiter,
		processor:  processor,
		worker:     worker,
		messages:   messages,
		logger:     logger,
		startTime:  time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/accounts/{accountID}/events", s.handleEvents)
		r.Post("/dispatch", s.handleDispatch)
		r.Get("/messages/{id}", s.handleMessage)
	})
}

// Router returns the configured router, used by tests
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.serverCfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.serverCfg.ReadTimeout,
		WriteTimeout: s.serverCfg.WriteTimeout,
		IdleTimeout:  s.serverCfg.IdleTimeout,
	}

	s.logger.Info("starting webhook server", "addr", s.serverCfg.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down webhook server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
