package domain

import (
	"fmt"
	"time"
)

// BookSide selects the bid or ask half of a price-level book.
type BookSide string

const (
	BookSideBid BookSide = "bid"
	BookSideAsk BookSide = "ask"
)

// ParseBookSide accepts "bid"/"buy" and "ask"/"sell".
func ParseBookSide(s string) (BookSide, error) {
	switch s {
	case "bid", "buy", "BUY", "BID":
		return BookSideBid, nil
	case "ask", "sell", "SELL", "ASK":
		return BookSideAsk, nil
	default:
		return "", fmt.Errorf("unknown book side %q", s)
	}
}

// PriceLevel is aggregated quantity resting at one price.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// LevelUpdate sets the quantity at a price. Quantity 0 removes the level.
type LevelUpdate struct {
	Side     BookSide `json:"side"`
	Price    float64  `json:"price"`
	Quantity float64  `json:"quantity"`
}

// Tick is a normalized market update for one (venue, symbol) pair as
// delivered by the ingestion layer.
type Tick struct {
	Venue     string        `json:"venue"`
	Symbol    string        `json:"symbol"`
	Bid       float64       `json:"bid"`
	Ask       float64       `json:"ask"`
	LastTrade float64       `json:"last_trade"`
	Volume    float64       `json:"volume"`
	Sequence  uint64        `json:"sequence"`
	Timestamp time.Time     `json:"timestamp"`
	Levels    []LevelUpdate `json:"levels,omitempty"`
}

// Key returns the (venue, symbol) routing key of the tick.
func (t Tick) Key() MarketKey {
	return MarketKey{Venue: t.Venue, Symbol: t.Symbol}
}

// MarketKey identifies one market data stream.
type MarketKey struct {
	Venue  string
	Symbol string
}

func (k MarketKey) String() string {
	return k.Venue + ":" + k.Symbol
}

// MarketSnapshot is the latest known state of one (venue, symbol) pair.
// It is built once by a collector and never mutated afterwards.
type MarketSnapshot struct {
	Symbol     string       `json:"symbol"`
	Venue      string       `json:"venue"`
	Bid        float64      `json:"bid"`
	Ask        float64      `json:"ask"`
	LastTrade  float64      `json:"last_trade"`
	Volume     float64      `json:"volume"`
	Sequence   uint64       `json:"sequence"`
	ObservedAt time.Time    `json:"observed_at"`
	Bids       []PriceLevel `json:"bids,omitempty"`
	Asks       []PriceLevel `json:"asks,omitempty"`
}

// Key returns the (venue, symbol) key of the snapshot.
func (s MarketSnapshot) Key() MarketKey {
	return MarketKey{Venue: s.Venue, Symbol: s.Symbol}
}

// IsZero reports whether the snapshot has never been populated.
func (s MarketSnapshot) IsZero() bool {
	return s.Sequence == 0 && s.ObservedAt.IsZero()
}

// Mid returns the bid/ask midpoint, or false when either side is missing.
func (s MarketSnapshot) Mid() (float64, bool) {
	if s.Bid <= 0 || s.Ask <= 0 {
		return 0, false
	}
	return (s.Bid + s.Ask) / 2, true
}

// Close is the price used for breakout evaluation: the last trade when
// present, otherwise the mid.
func (s MarketSnapshot) Close() float64 {
	if s.LastTrade > 0 {
		return s.LastTrade
	}
	mid, _ := s.Mid()
	return mid
}

// Equal compares every field, including depth.
func (s MarketSnapshot) Equal(o MarketSnapshot) bool {
	if s.Symbol != o.Symbol || s.Venue != o.Venue ||
		s.Bid != o.Bid || s.Ask != o.Ask || s.LastTrade != o.LastTrade ||
		s.Volume != o.Volume || s.Sequence != o.Sequence ||
		!s.ObservedAt.Equal(o.ObservedAt) {
		return false
	}
	return levelsEqual(s.Bids, o.Bids) && levelsEqual(s.Asks, o.Asks)
}

func levelsEqual(a, b []PriceLevel) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
