package domain

import "time"

// PositionSide is the direction of held exposure.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// IncreasedBy reports whether an order on side adds to the position.
func (p PositionSide) IncreasedBy(side OrderSide) bool {
	return (p == PositionLong && side == OrderSideBuy) || (p == PositionShort && side == OrderSideSell)
}

// Position is one open holding. Quantity is never negative.
type Position struct {
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Quantity      float64      `json:"quantity"`
	AvgEntryPrice float64      `json:"avg_entry_price"`
	RealizedPnL   float64      `json:"realized_pnl"`
	OpenedAt      time.Time    `json:"opened_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// TradeStats summarizes closed round trips.
type TradeStats struct {
	ClosedTrades     int     `json:"closed_trades"`
	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
	GrossProfit      float64 `json:"gross_profit"`
	GrossLoss        float64 `json:"gross_loss"`
	WinRate          float64 `json:"win_rate"`
	AverageWin       float64 `json:"average_win"`
	AverageLoss      float64 `json:"average_loss"`
	ProfitFactor     float64 `json:"profit_factor"`
	Expectancy       float64 `json:"expectancy"`
	BreakevenWinRate float64 `json:"breakeven_win_rate"`
}

// PortfolioSnapshot is an immutable copy of ledger state.
type PortfolioSnapshot struct {
	Cash          float64             `json:"cash"`
	Positions     map[string]Position `json:"positions"`
	RealizedPnL   float64             `json:"realized_pnl"`
	RealizedToday float64             `json:"realized_today"`
	FeesToday     float64             `json:"fees_today"`
	Day           time.Time           `json:"day"`
	Stats         TradeStats          `json:"stats"`
	TakenAt       time.Time           `json:"taken_at"`
}

// Position returns the holding for symbol, if any.
func (s PortfolioSnapshot) Position(symbol string) (Position, bool) {
	p, ok := s.Positions[symbol]
	return p, ok
}

// OpenPositions is the number of symbols with non-zero quantity.
func (s PortfolioSnapshot) OpenPositions() int {
	return len(s.Positions)
}
