package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradecore/internal/cache/redis"
	"github.com/alanyoungcy/tradecore/internal/collector"
	"github.com/alanyoungcy/tradecore/internal/control"
	"github.com/alanyoungcy/tradecore/internal/detector"
	"github.com/alanyoungcy/tradecore/internal/dispatch"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/feed"
	"github.com/alanyoungcy/tradecore/internal/ledger"
	"github.com/alanyoungcy/tradecore/internal/metrics"
	"github.com/alanyoungcy/tradecore/internal/risk"
	"github.com/alanyoungcy/tradecore/internal/server"
	"github.com/alanyoungcy/tradecore/internal/server/handler"
)

// journalDrainTimeout bounds the journal's final flush after the core stops.
const journalDrainTimeout = 30 * time.Second

// runner is anything started in a mode's errgroup.
type runner interface {
	Run(ctx context.Context) error
}

// core is the market side shared by both modes: collectors, the feed that
// routes into them and the detector engine reading their slots.
type core struct {
	set     *collector.Set
	feed    runner
	engine  *detector.Engine
	control *control.Controller
}

// TradeMode runs the full engine: ingestion, detection, risk, dispatch and
// the ledger. Only one trade-mode instance may run per lock name.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.String("instance", a.cfg.Engine.Instance),
		slog.String("execution", a.cfg.Engine.Execution),
	)

	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, a.cfg.Engine.Instance, a.cfg.Engine.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: trade mode: %w", err)
		}
		a.closers = append(a.closers, unlock)
	}

	pending := detector.NewPending(deps.Journal)
	c, err := a.buildCore(deps, pending)
	if err != nil {
		return err
	}
	defer c.set.CloseSlots()
	defer c.control.Close()

	book := ledger.New(ledger.NewPortfolio(a.cfg.Ledger.InitialCash), deps.Journal, a.logger)
	gate := risk.NewGate(c.control.ModeSlot(), c.control.LimitsSlot(), book, a.cfg.Ledger.FeeRate, deps.Journal, a.logger)

	placer, fills, venue, err := a.buildExecution(deps)
	if err != nil {
		return err
	}
	dispatcher := dispatch.New(placer, fills, pending, gate, book, dispatch.Config{
		OrdersPerSecond: a.cfg.Dispatch.OrdersPerSecond,
		Burst:           a.cfg.Dispatch.Burst,
		LegTimeout:      a.cfg.Dispatch.LegTimeout.Duration,
		DedupTTL:        a.cfg.Dispatch.DedupTTL.Duration,
	}, deps.Journal, a.logger)

	return a.runWithJournal(ctx, deps, func(ctx context.Context, g *errgroup.Group) {
		a.startCore(ctx, g, deps, c)
		if venue != nil {
			g.Go(func() error { return venue.Run(ctx) })
		}
		g.Go(func() error { return dispatcher.Run(ctx) })
		a.startReporting(ctx, g, deps, c.set)
		a.startAPI(ctx, g, deps, handler.StatusSources{
			Control:   c.control,
			Portfolio: book,
			Pending:   pending.Len,
			InFlight:  dispatcher.InFlight,
			Markets:   c.set.Keys(),
		}, c.control)
	})
}

// MonitorMode runs ingestion and detection only. Signals are journaled and
// nothing is dispatched.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	c, err := a.buildCore(deps, signalLog{journal: deps.Journal, logger: a.logger})
	if err != nil {
		return err
	}
	defer c.set.CloseSlots()
	defer c.control.Close()

	return a.runWithJournal(ctx, deps, func(ctx context.Context, g *errgroup.Group) {
		a.startCore(ctx, g, deps, c)
		a.startReporting(ctx, g, deps, c.set)
		a.startAPI(ctx, g, deps, handler.StatusSources{
			Control: c.control,
			Markets: c.set.Keys(),
		}, c.control)
	})
}

// runWithJournal runs start's goroutines and, once they have all returned,
// stops the journal so events appended during shutdown are still delivered.
func (a *App) runWithJournal(ctx context.Context, deps *Dependencies, start func(context.Context, *errgroup.Group)) error {
	journalCtx, stopJournal := context.WithCancel(context.WithoutCancel(ctx))
	defer stopJournal()

	var jg errgroup.Group
	jg.Go(func() error { return deps.Journal.Run(journalCtx) })
	if deps.Archiver != nil {
		jg.Go(func() error { return deps.Archiver.Run(journalCtx) })
	}

	g, gctx := errgroup.WithContext(ctx)
	start(gctx, g)
	err := g.Wait()

	a.logger.Info("draining journal")
	stopJournal()
	waited := make(chan error, 1)
	go func() { waited <- jg.Wait() }()
	select {
	case jerr := <-waited:
		if jerr != nil && err == nil {
			err = jerr
		}
	case <-time.After(journalDrainTimeout):
		a.logger.Warn("journal drain timed out")
	}
	return err
}

func (a *App) buildCore(deps *Dependencies, sink detector.Sink) (*core, error) {
	set := collector.NewSet(a.cfg.Engine.BookDepth, a.cfg.Engine.CollectorBuffer, a.logger)
	for _, key := range a.cfg.MarketKeys() {
		if _, err := set.Add(key); err != nil {
			return nil, fmt.Errorf("app: collectors: %w", err)
		}
	}

	detectors, err := a.buildDetectors()
	if err != nil {
		return nil, err
	}
	engine := detector.NewEngine(set.Slots(), detectors, sink, detector.EngineConfig{
		GatherTimeout: a.cfg.Engine.GatherTimeout.Duration,
	}, a.logger)

	src, err := a.buildFeed(deps, set)
	if err != nil {
		return nil, err
	}

	ctl := control.New(a.cfg.TradingMode(), a.cfg.Limits(), deps.Journal, a.logger)
	return &core{set: set, feed: src, engine: engine, control: ctl}, nil
}

func (a *App) buildDetectors() ([]detector.Detector, error) {
	reg := detector.NewRegistry()
	reg.Register(detector.NewBreakout(detector.BreakoutConfig{
		Lookback:         a.cfg.Breakout.Lookback,
		VolumeMultiplier: a.cfg.Breakout.VolumeMultiplier,
		Retest:           a.cfg.Breakout.Retest,
		Size:             a.cfg.Breakout.Size,
	}))
	reg.Register(detector.NewArbitrage(detector.ArbitrageConfig{
		Staleness:        a.cfg.Arbitrage.Staleness.Duration,
		MinProfitPercent: a.cfg.Arbitrage.MinProfitPercent,
		Size:             a.cfg.Arbitrage.Size,
		Cooldown:         a.cfg.Arbitrage.Cooldown.Duration,
		Latency:          a.cfg.VenueLatency(),
	}))

	detectors, err := reg.Select(a.cfg.Engine.Detectors)
	if err != nil {
		return nil, fmt.Errorf("app: detectors: %w", err)
	}
	a.logger.Info("detectors enabled", slog.Any("detectors", a.cfg.Engine.Detectors))
	return detectors, nil
}

func (a *App) buildFeed(deps *Dependencies, router feed.Router) (runner, error) {
	switch a.cfg.Feed.Source {
	case "redis":
		if deps.SignalBus == nil {
			return nil, errors.New("app: feed: redis source requires redis")
		}
		return feed.NewStreamFeed(deps.SignalBus, router, feed.StreamConfig{
			Stream:  a.cfg.Feed.Stream,
			StartID: a.cfg.Feed.StartID,
		}, a.logger), nil
	case "websocket":
		cfg := feed.WSConfig{URL: a.cfg.Feed.URL}
		if a.cfg.Feed.Subscribe != "" {
			cfg.Subscribe = []byte(a.cfg.Feed.Subscribe)
		}
		return feed.NewWSFeed(cfg, router, a.logger), nil
	default:
		return nil, fmt.Errorf("app: feed: unsupported source %q", a.cfg.Feed.Source)
	}
}

// buildExecution returns the placer and fill source for the configured
// execution. venue is non-nil when it must be run alongside the dispatcher.
func (a *App) buildExecution(deps *Dependencies) (dispatch.OrderPlacer, dispatch.FillSource, runner, error) {
	switch a.cfg.Engine.Execution {
	case "paper":
		paper := dispatch.NewPaperPlacer(dispatch.PaperConfig{
			FeeRate:     a.cfg.Ledger.FeeRate,
			SlippageBps: a.cfg.Dispatch.SlippageBps,
			Latency:     a.cfg.Dispatch.PaperLatency.Duration,
		})
		return paper, paper, nil, nil
	case "external":
		if deps.SignalBus == nil {
			return nil, nil, nil, errors.New("app: execution: external execution requires redis")
		}
		gw := redis.NewOrderGateway(deps.SignalBus, redis.GatewayConfig{
			OrdersStream: a.cfg.Dispatch.OrdersStream,
			FillsStream:  a.cfg.Dispatch.FillsStream,
		}, a.logger)
		return gw, gw, gw, nil
	default:
		return nil, nil, nil, fmt.Errorf("app: execution: unsupported %q", a.cfg.Engine.Execution)
	}
}

// startCore launches the feed, collectors, detector engine and the control
// listener. Collector inputs are closed once the feed stops so the
// collectors drain what they hold.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	g.Go(func() error {
		defer c.set.CloseInputs()
		return c.feed.Run(ctx)
	})
	g.Go(func() error { return c.set.Run(ctx) })
	g.Go(func() error { return c.engine.Run(ctx) })
	if a.cfg.Control.Enabled && deps.SignalBus != nil {
		g.Go(func() error { return c.control.Run(ctx, deps.SignalBus, a.cfg.Control.Channel) })
	}
}

// startReporting launches the price mirror and the metrics endpoint.
func (a *App) startReporting(ctx context.Context, g *errgroup.Group, deps *Dependencies, set *collector.Set) {
	if deps.PriceCache != nil {
		mirror := collector.NewMirror(set.Slots(), deps.PriceCache, a.logger)
		g.Go(func() error { return mirror.Run(ctx) })
	}
	if a.cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger) })
	}
}

// startAPI launches the operator API and its websocket hub when enabled.
func (a *App) startAPI(ctx context.Context, g *errgroup.Group, deps *Dependencies, src handler.StatusSources, ctl handler.Controller) {
	if !a.cfg.Server.Enabled {
		return
	}
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(healthChecks(deps), a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, src),
		Control: handler.NewControlHandler(ctl, a.logger),
	}
	if deps.JournalStore != nil {
		handlers.Journal = handler.NewJournalHandler(deps.JournalStore, a.logger)
	}
	srv := server.New(server.Config{
		Addr:              a.cfg.Server.Addr,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		RequestsPerSecond: a.cfg.Server.RequestsPerSecond,
		Burst:             a.cfg.Server.Burst,
	}, handlers, deps.Hub, a.logger)

	if deps.Hub != nil {
		g.Go(func() error { return deps.Hub.Run(ctx) })
	}
	g.Go(func() error { return srv.Run(ctx) })
}

// healthChecks probes each enabled backend.
func healthChecks(deps *Dependencies) map[string]handler.Check {
	checks := make(map[string]handler.Check)
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Ping
	}
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres.Ping
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}
	return checks
}

// signalLog is the monitor-mode sink: it records each signal and drops it.
type signalLog struct {
	journal domain.JournalHook
	logger  *slog.Logger
}

func (s signalLog) Submit(sig domain.Signal) {
	metrics.SignalsEmitted.WithLabelValues(sig.Source, sig.Symbol).Inc()
	s.logger.Info("signal observed",
		slog.String("signal_id", sig.ID),
		slog.String("source", sig.Source),
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
		slog.Float64("price", sig.ReferencePrice),
	)
	s.journal.Append(domain.JournalEvent{
		ID:     uuid.NewString(),
		Kind:   domain.JournalSignal,
		Symbol: sig.Symbol,
		At:     time.Now().UTC(),
		Detail: map[string]any{
			"signal_id": sig.ID,
			"source":    sig.Source,
			"direction": string(sig.Direction),
			"size":      sig.SuggestedSize,
			"price":     sig.ReferencePrice,
			"reason":    sig.Reason,
			"monitor":   true,
		},
	})
}
