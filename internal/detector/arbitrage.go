package detector

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

const (
	defaultArbStaleness  = 2 * time.Second
	defaultArbSignalSize = 1.0
	profitTieEpsilon     = 1e-12
)

// ArbitrageConfig tunes the cross-venue detector. Zero values take defaults.
type ArbitrageConfig struct {
	// Staleness is the maximum snapshot age still usable.
	Staleness time.Duration
	// MinProfitPercent is the smallest profit, in percent, worth emitting.
	// Anything above zero qualifies when unset.
	MinProfitPercent float64
	Size             float64
	// Cooldown suppresses a repeat of the same venue pair for a symbol.
	Cooldown time.Duration
	// Latency is the static per-venue latency used to break profit ties.
	Latency map[string]time.Duration
}

func (c ArbitrageConfig) staleness() time.Duration {
	if c.Staleness > 0 {
		return c.Staleness
	}
	return defaultArbStaleness
}

func (c ArbitrageConfig) size() float64 {
	if c.Size > 0 {
		return c.Size
	}
	return defaultArbSignalSize
}

type lastArb struct {
	buyVenue, sellVenue string
	buySeq, sellSeq     uint64
	at                  time.Time
}

// Arbitrage compares one symbol's quotes across venues and emits the most
// profitable buy-here/sell-there pair.
type Arbitrage struct {
	cfg      ArbitrageConfig
	mu       sync.Mutex
	lastEmit map[string]lastArb
}

// NewArbitrage creates an arbitrage detector.
func NewArbitrage(cfg ArbitrageConfig) *Arbitrage {
	return &Arbitrage{cfg: cfg, lastEmit: make(map[string]lastArb)}
}

// Name returns the detector identifier.
func (a *Arbitrage) Name() string { return "arbitrage" }

// Fresh returns the usable venue snapshots, one per venue, sorted by venue.
// Stale, one-sided and crossed quotes are left out.
func (a *Arbitrage) Fresh(venues []domain.MarketSnapshot, now time.Time) []domain.MarketSnapshot {
	stale := a.cfg.staleness()
	byVenue := make(map[string]domain.MarketSnapshot, len(venues))
	for _, s := range venues {
		if s.IsZero() || s.Bid <= 0 || s.Ask <= 0 || s.Bid > s.Ask {
			continue
		}
		if now.Sub(s.ObservedAt) > stale {
			continue
		}
		if prev, ok := byVenue[s.Venue]; ok && prev.Sequence >= s.Sequence {
			continue
		}
		byVenue[s.Venue] = s
	}
	out := make([]domain.MarketSnapshot, 0, len(byVenue))
	for _, s := range byVenue {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out
}

// Ready implements Gatherer.
func (a *Arbitrage) Ready(obs Observation) bool {
	return len(a.Fresh(obs.Venues, obs.Now)) >= 2
}

type opportunity struct {
	buy, sell domain.MarketSnapshot
	profit    float64
	latency   time.Duration
}

// ProfitPercent is (sellBid - buyAsk) / buyAsk expressed in percent.
func ProfitPercent(buyAsk, sellBid float64) float64 {
	return (sellBid - buyAsk) / buyAsk * 100
}

// best returns the highest-profit ordered venue pair among fresh, breaking
// ties by lower combined static latency and then by venue names.
func (a *Arbitrage) best(fresh []domain.MarketSnapshot) (opportunity, bool) {
	var top opportunity
	found := false
	for _, buy := range fresh {
		for _, sell := range fresh {
			if buy.Venue == sell.Venue {
				continue
			}
			o := opportunity{
				buy:     buy,
				sell:    sell,
				profit:  ProfitPercent(buy.Ask, sell.Bid),
				latency: a.cfg.Latency[buy.Venue] + a.cfg.Latency[sell.Venue],
			}
			if !found || better(o, top) {
				top, found = o, true
			}
		}
	}
	return top, found
}

func better(o, cur opportunity) bool {
	if math.Abs(o.profit-cur.profit) > profitTieEpsilon {
		return o.profit > cur.profit
	}
	if o.latency != cur.latency {
		return o.latency < cur.latency
	}
	if o.buy.Venue != cur.buy.Venue {
		return o.buy.Venue < cur.buy.Venue
	}
	return o.sell.Venue < cur.sell.Venue
}

// Evaluate implements Detector.
func (a *Arbitrage) Evaluate(obs Observation) (domain.Signal, bool) {
	fresh := a.Fresh(obs.Venues, obs.Now)
	if len(fresh) < 2 {
		return domain.Signal{}, false
	}
	opp, ok := a.best(fresh)
	if !ok || opp.profit <= 0 || opp.profit < a.cfg.MinProfitPercent {
		return domain.Signal{}, false
	}

	symbol := obs.Current.Symbol
	a.mu.Lock()
	last, seen := a.lastEmit[symbol]
	if seen && last.buyVenue == opp.buy.Venue && last.sellVenue == opp.sell.Venue {
		sameQuotes := last.buySeq == opp.buy.Sequence && last.sellSeq == opp.sell.Sequence
		if sameQuotes || obs.Now.Sub(last.at) < a.cfg.Cooldown {
			a.mu.Unlock()
			return domain.Signal{}, false
		}
	}
	a.lastEmit[symbol] = lastArb{
		buyVenue:  opp.buy.Venue,
		sellVenue: opp.sell.Venue,
		buySeq:    opp.buy.Sequence,
		sellSeq:   opp.sell.Sequence,
		at:        obs.Now,
	}
	a.mu.Unlock()

	return domain.Signal{
		ID:             uuid.NewString(),
		Kind:           domain.SignalKindArbitrage,
		Source:         a.Name(),
		Symbol:         symbol,
		Venue:          opp.buy.Venue,
		Direction:      domain.DirectionArbitrage,
		SuggestedSize:  a.sizeFor(opp),
		ReferencePrice: opp.buy.Ask,
		Reason: fmt.Sprintf("buy %s @ %.8g, sell %s @ %.8g (%.4f%%)",
			opp.buy.Venue, opp.buy.Ask, opp.sell.Venue, opp.sell.Bid, opp.profit),
		CreatedAt: obs.Now,
		Arbitrage: &domain.ArbitrageDetail{
			BuyVenue:      opp.buy.Venue,
			SellVenue:     opp.sell.Venue,
			BuyPrice:      opp.buy.Ask,
			SellPrice:     opp.sell.Bid,
			ProfitPercent: opp.profit,
		},
	}, true
}

// sizeFor caps the configured size by the quantity resting at the top of
// each leg's book when depth is known.
func (a *Arbitrage) sizeFor(o opportunity) float64 {
	size := a.cfg.size()
	if len(o.buy.Asks) > 0 && o.buy.Asks[0].Price == o.buy.Ask {
		size = min(size, o.buy.Asks[0].Quantity)
	}
	if len(o.sell.Bids) > 0 && o.sell.Bids[0].Price == o.sell.Bid {
		size = min(size, o.sell.Bids[0].Quantity)
	}
	return size
}
