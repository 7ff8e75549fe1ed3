// Package app wires the engine's backends and components together and runs
// them in the configured mode until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/tradecore/internal/config"
)

// App holds the configuration and the cleanup functions registered while
// running; Close calls them newest first.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the backends, starts the configured mode and blocks until ctx is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	run, ok := map[string]func(context.Context, *Dependencies) error{
		"trade":   a.TradeMode,
		"monitor": a.MonitorMode,
	}[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", a.cfg.Mode),
		slog.Int("markets", len(a.cfg.MarketKeys())),
	)
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return run(ctx, deps)
}

// Close releases everything Run acquired. Calling it again does nothing.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("app: releasing resources", slog.Int("closers", len(a.closers)))
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
