// Package collector turns normalized ticks into published market snapshots.
// There is one Collector per (venue, symbol); it owns that pair's book and is
// the only writer of that pair's broadcast slot.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/tradecore/internal/book"
	"github.com/alanyoungcy/tradecore/internal/broadcast"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/metrics"
)

// Drop reasons reported on the ticks_dropped counter.
const (
	DropStale    = "stale_sequence"
	DropWrongKey = "wrong_key"
	DropInvalid  = "invalid"
	DropClosed   = "slot_closed"
)

// Collector normalizes ticks for one market key. Sequences start at 1; a
// tick whose sequence is not above the last published one is dropped.
type Collector struct {
	key     domain.MarketKey
	book    *book.Book
	slot    *broadcast.Slot[domain.MarketSnapshot]
	depth   int
	lastSeq uint64
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a collector that publishes into slot. depth is the number of
// book levels per side copied into each snapshot.
func New(key domain.MarketKey, slot *broadcast.Slot[domain.MarketSnapshot], depth int, logger *slog.Logger) *Collector {
	return &Collector{
		key:    key,
		book:   book.New(key.Symbol),
		slot:   slot,
		depth:  depth,
		now:    time.Now,
		logger: logger.With(slog.String("component", "collector"), slog.String("market", key.String())),
	}
}

// Key returns the market key this collector owns.
func (c *Collector) Key() domain.MarketKey {
	return c.key
}

// LastSequence returns the sequence of the last published snapshot.
func (c *Collector) LastSequence() uint64 {
	return c.lastSeq
}

// Run consumes ticks until the channel closes (returns nil) or ctx is
// cancelled (returns ctx.Err()). The slot is left open either way so other
// readers keep the last snapshot.
func (c *Collector) Run(ctx context.Context, ticks <-chan domain.Tick) error {
	c.logger.DebugContext(ctx, "collector started")
	defer c.logger.DebugContext(ctx, "collector stopped", slog.Uint64("last_sequence", c.lastSeq))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-ticks:
			if !ok {
				return nil
			}
			c.Handle(t)
		}
	}
}

// Handle processes a single tick and returns the published snapshot. It
// reports false when the tick was dropped.
func (c *Collector) Handle(t domain.Tick) (domain.MarketSnapshot, bool) {
	if t.Key() != c.key {
		c.drop(t, DropWrongKey)
		return domain.MarketSnapshot{}, false
	}
	if t.Sequence <= c.lastSeq {
		c.drop(t, DropStale)
		return domain.MarketSnapshot{}, false
	}
	if err := validate(t); err != nil {
		c.logger.Debug("invalid tick", slog.Uint64("sequence", t.Sequence), slog.String("error", err.Error()))
		c.drop(t, DropInvalid)
		return domain.MarketSnapshot{}, false
	}

	// Levels were validated above, so Apply cannot stop half way.
	_ = c.book.Apply(t.Levels)

	snap := c.snapshot(t)
	if err := c.slot.Publish(snap); err != nil {
		c.drop(t, DropClosed)
		return domain.MarketSnapshot{}, false
	}
	c.lastSeq = t.Sequence
	metrics.TicksPublished.WithLabelValues(c.key.Venue, c.key.Symbol).Inc()
	return snap, true
}

func (c *Collector) snapshot(t domain.Tick) domain.MarketSnapshot {
	observed := t.Timestamp
	if observed.IsZero() {
		observed = c.now()
	}
	snap := domain.MarketSnapshot{
		Symbol:     c.key.Symbol,
		Venue:      c.key.Venue,
		Bid:        t.Bid,
		Ask:        t.Ask,
		LastTrade:  t.LastTrade,
		Volume:     t.Volume,
		Sequence:   t.Sequence,
		ObservedAt: observed,
	}
	if c.depth > 0 {
		snap.Bids = c.book.Depth(domain.BookSideBid, c.depth)
		snap.Asks = c.book.Depth(domain.BookSideAsk, c.depth)
	}
	// Top of book falls back to the depth view when the tick omits it.
	if snap.Bid == 0 {
		if best, ok := c.book.Best(domain.BookSideBid); ok {
			snap.Bid = best.Price
		}
	}
	if snap.Ask == 0 {
		if best, ok := c.book.Best(domain.BookSideAsk); ok {
			snap.Ask = best.Price
		}
	}
	return snap
}

func (c *Collector) drop(t domain.Tick, reason string) {
	metrics.TicksDropped.WithLabelValues(c.key.Venue, c.key.Symbol, reason).Inc()
	c.logger.Debug("tick dropped",
		slog.String("reason", reason),
		slog.Uint64("sequence", t.Sequence),
		slog.Uint64("last_sequence", c.lastSeq),
	)
}

func validate(t domain.Tick) error {
	for name, v := range map[string]float64{
		"bid": t.Bid, "ask": t.Ask, "last_trade": t.LastTrade, "volume": t.Volume,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s=%v", domain.ErrInvalidTick, name, v)
		}
	}
	for _, l := range t.Levels {
		if l.Side != domain.BookSideBid && l.Side != domain.BookSideAsk {
			return fmt.Errorf("%w: level side %q", domain.ErrInvalidTick, l.Side)
		}
		if math.IsNaN(l.Price) || math.IsInf(l.Price, 0) || l.Price <= 0 {
			return fmt.Errorf("%w: level price %v", domain.ErrInvalidTick, l.Price)
		}
		if math.IsNaN(l.Quantity) || math.IsInf(l.Quantity, 0) || l.Quantity < 0 {
			return fmt.Errorf("%w: level quantity %v", domain.ErrInvalidTick, l.Quantity)
		}
	}
	return nil
}
