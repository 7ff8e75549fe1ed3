package detector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradecore/internal/broadcast"
	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Sink receives emitted signals. Pending implements it.
type Sink interface {
	Submit(sig domain.Signal)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// GatherTimeout bounds how long a multi-venue detector waits for
	// sibling venues to become fresh before evaluating anyway. Zero
	// disables waiting.
	GatherTimeout time.Duration
	Now           func() time.Time
}

// Engine runs the detectors against every market slot. Each market is
// observed by its own goroutine; snapshots a slow evaluation misses are
// skipped, never queued.
type Engine struct {
	slots     map[domain.MarketKey]*broadcast.Slot[domain.MarketSnapshot]
	bySymbol  map[string][]domain.MarketKey
	detectors []Detector
	sink      Sink
	cfg       EngineConfig
	logger    *slog.Logger

	bellsMu sync.Mutex
	bells   map[string]chan struct{}
}

// NewEngine creates an Engine over slots.
func NewEngine(
	slots map[domain.MarketKey]*broadcast.Slot[domain.MarketSnapshot],
	detectors []Detector,
	sink Sink,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	bySymbol := make(map[string][]domain.MarketKey)
	for k := range slots {
		bySymbol[k.Symbol] = append(bySymbol[k.Symbol], k)
	}
	return &Engine{
		slots:     slots,
		bySymbol:  bySymbol,
		detectors: detectors,
		sink:      sink,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "detector_engine")),
		bells:     make(map[string]chan struct{}),
	}
}

// Run evaluates until ctx is cancelled or every slot is closed.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "detector engine started",
		slog.Int("markets", len(e.slots)),
		slog.Int("detectors", len(e.detectors)),
	)
	g, ctx := errgroup.WithContext(ctx)
	for key, slot := range e.slots {
		rx := slot.Subscribe()
		g.Go(func() error { return e.watch(ctx, key, rx) })
	}
	err := g.Wait()
	e.logger.InfoContext(ctx, "detector engine stopped")
	return err
}

func (e *Engine) watch(ctx context.Context, key domain.MarketKey, rx *broadcast.Receiver[domain.MarketSnapshot]) error {
	var (
		prior    domain.MarketSnapshot
		hasPrior bool
	)
	for {
		snap, err := rx.WaitForChange(ctx)
		if errors.Is(err, domain.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if snap.IsZero() {
			continue
		}
		e.Evaluate(ctx, snap, prior, hasPrior)
		prior, hasPrior = snap, true
		e.ring(key.Symbol)
	}
}

// Evaluate runs every detector once against snap and submits what they
// emit. It is exported so callers can drive the engine synchronously.
func (e *Engine) Evaluate(ctx context.Context, snap, prior domain.MarketSnapshot, hasPrior bool) []domain.Signal {
	var out []domain.Signal
	for _, d := range e.detectors {
		bell := e.bell(snap.Symbol)
		obs := e.observe(snap, prior, hasPrior)
		if g, ok := d.(Gatherer); ok && !g.Ready(obs) && e.cfg.GatherTimeout > 0 {
			obs = e.gather(ctx, g, bell, snap, prior, hasPrior)
		}
		sig, ok := d.Evaluate(obs)
		if !ok {
			continue
		}
		e.logger.DebugContext(ctx, "signal emitted",
			slog.String("detector", d.Name()),
			slog.String("symbol", sig.Symbol),
			slog.String("direction", string(sig.Direction)),
			slog.String("reason", sig.Reason),
		)
		if e.sink != nil {
			e.sink.Submit(sig)
		}
		out = append(out, sig)
	}
	return out
}

// gather waits for sibling venues of snap's symbol to publish until g is
// ready or the gather timeout elapses.
func (e *Engine) gather(ctx context.Context, g Gatherer, bell <-chan struct{}, snap, prior domain.MarketSnapshot, hasPrior bool) Observation {
	timer := time.NewTimer(e.cfg.GatherTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return e.observe(snap, prior, hasPrior)
		case <-timer.C:
			return e.observe(snap, prior, hasPrior)
		case <-bell:
		}
		bell = e.bell(snap.Symbol)
		obs := e.observe(snap, prior, hasPrior)
		if g.Ready(obs) {
			return obs
		}
	}
}

func (e *Engine) observe(snap, prior domain.MarketSnapshot, hasPrior bool) Observation {
	keys := e.bySymbol[snap.Symbol]
	venues := make([]domain.MarketSnapshot, 0, len(keys))
	for _, k := range keys {
		if k == snap.Key() {
			venues = append(venues, snap)
			continue
		}
		if s := e.slots[k].ReadLatest(); !s.IsZero() {
			venues = append(venues, s)
		}
	}
	return Observation{
		Current:  snap,
		Prior:    prior,
		HasPrior: hasPrior,
		Venues:   venues,
		Now:      e.cfg.Now(),
	}
}

// bell returns a channel closed the next time any venue of symbol finishes
// an evaluation.
func (e *Engine) bell(symbol string) <-chan struct{} {
	e.bellsMu.Lock()
	defer e.bellsMu.Unlock()
	ch, ok := e.bells[symbol]
	if !ok {
		ch = make(chan struct{})
		e.bells[symbol] = ch
	}
	return ch
}

func (e *Engine) ring(symbol string) {
	e.bellsMu.Lock()
	defer e.bellsMu.Unlock()
	if ch, ok := e.bells[symbol]; ok {
		close(ch)
		delete(e.bells, symbol)
	}
}
