// Package server is the operator HTTP API: health, status, control
// commands, the persisted journal and a websocket stream of live journal
// events.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradecore/internal/server/handler"
	"github.com/alanyoungcy/tradecore/internal/server/middleware"
	"github.com/alanyoungcy/tradecore/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	// APIKey guards every route except health. Empty disables auth.
	APIKey            string
	RequestsPerSecond float64
	Burst             int
}

// Handlers aggregates the endpoint handlers. Control, Journal and the hub
// are optional; their routes are only registered when set.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Control *handler.ControlHandler
	Journal *handler.JournalHandler
}

const healthPath = "/api/health"

// Server is the operator API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with every route and the middleware chain
// registered.
func New(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "api_server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	if handlers.Control != nil {
		mux.HandleFunc("GET /api/control", handlers.Control.GetControl)
		mux.HandleFunc("POST /api/control", handlers.Control.ApplyCommand)
	}
	if handlers.Journal != nil {
		mux.HandleFunc("GET /api/journal", handlers.Journal.ListEvents)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// Outermost first: CORS answers preflights before auth sees them.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, healthPath)(h)
	h = middleware.RateLimit(cfg.RequestsPerSecond, cfg.Burst)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "server: starting", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}
