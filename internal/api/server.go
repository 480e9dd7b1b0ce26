// Package api serves the engine's telemetry and operator endpoints.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/service/sending"
	"github.com/ignite/mailengine/internal/worker"
)

// PoolStatsSource reports pooled transport occupancy.
type PoolStatsSource interface {
	Stats() domain.PoolSnapshot
}

// QueueStatsSource reports bulk queue depth.
type QueueStatsSource interface {
	Stats(ctx context.Context) (domain.QueueStats, error)
}

// Engine sends one message with a settings snapshot.
type Engine interface {
	Send(ctx context.Context, msg domain.EmailMessage, settings *domain.Settings) (*domain.SendResult, error)
	Provider(settings *domain.Settings) *domain.ProviderConfig
	IsEmailEnabled(settings *domain.Settings) bool
}

// BulkEnqueuer plans and enqueues bulk test runs.
type BulkEnqueuer interface {
	EnqueueBulkTest(ctx context.Context, req worker.BulkTestRequest, now time.Time) (string, int, error)
}

// Deps are the components the server exposes. Any may be nil; the matching
// endpoints then answer 503.
type Deps struct {
	Pool     PoolStatsSource
	Queue    QueueStatsSource
	Engine   Engine
	Settings sending.SettingsSource
	Bulk     BulkEnqueuer
	DB       *sql.DB
	Redis    redis.UniversalClient
	OrgID    string
}

// Server represents the API server
type Server struct {
	handler  http.Handler
	handlers *Handlers
	server   *http.Server
	router   *chi.Mux
}

// NewServer creates a new API server
func NewServer(deps Deps, allowedOrigins []string) *Server {
	handlers := NewHandlers(deps)
	router := SetupRoutes(handlers, NewHealthChecker(deps.DB, deps.Redis, deps.Pool), allowedOrigins, deps.OrgID)
	return &Server{
		handler:  router,
		handlers: handlers,
		router:   router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
