package domain

import "time"

// SignalKind tags which detector produced a signal.
type SignalKind string

const (
	SignalKindBreakout  SignalKind = "breakout"
	SignalKindArbitrage SignalKind = "arbitrage"
)

// Direction is the position change a signal asks for.
type Direction string

const (
	DirectionEnterLong  Direction = "enter_long"
	DirectionEnterShort Direction = "enter_short"
	DirectionExitLong   Direction = "exit_long"
	DirectionExitShort  Direction = "exit_short"
	DirectionArbitrage  Direction = "arbitrage"
)

// IsExit reports whether the direction only reduces exposure.
func (d Direction) IsExit() bool {
	return d == DirectionExitLong || d == DirectionExitShort
}

// OrderSide returns the side of the primary order for the direction.
func (d Direction) OrderSide() OrderSide {
	switch d {
	case DirectionEnterShort, DirectionExitLong:
		return OrderSideSell
	default:
		return OrderSideBuy
	}
}

// Signal is a candidate decision emitted by a detector. Exactly one of the
// detail pointers is set, matching Kind.
type Signal struct {
	ID             string     `json:"id"`
	Kind           SignalKind `json:"kind"`
	Source         string     `json:"source"`
	Symbol         string     `json:"symbol"`
	Venue          string     `json:"venue"`
	Direction      Direction  `json:"direction"`
	SuggestedSize  float64    `json:"suggested_size"`
	ReferencePrice float64    `json:"reference_price"`
	Reason         string     `json:"reason"`
	CreatedAt      time.Time  `json:"created_at"`

	Breakout  *BreakoutDetail  `json:"breakout,omitempty"`
	Arbitrage *ArbitrageDetail `json:"arbitrage,omitempty"`
}

// BreakoutDetail carries the channel that was broken.
type BreakoutDetail struct {
	Support       float64 `json:"support"`
	Resistance    float64 `json:"resistance"`
	Volume        float64 `json:"volume"`
	AverageVolume float64 `json:"average_volume"`
	Confirmations int     `json:"confirmations"`
}

// ArbitrageDetail names both legs of a cross-venue opportunity.
type ArbitrageDetail struct {
	BuyVenue      string  `json:"buy_venue"`
	SellVenue     string  `json:"sell_venue"`
	BuyPrice      float64 `json:"buy_price"`
	SellPrice     float64 `json:"sell_price"`
	ProfitPercent float64 `json:"profit_percent"`
}
