package ledger

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// statsAccumulator counts reducing fills. Each one is a closed trade whose
// result is its realized P&L net of its own fee.
type statsAccumulator struct {
	closed      int
	wins        int
	losses      int
	grossProfit decimal.Decimal
	grossLoss   decimal.Decimal
}

func (a statsAccumulator) record(pnl decimal.Decimal) statsAccumulator {
	a.closed++
	switch {
	case pnl.IsPositive():
		a.wins++
		a.grossProfit = a.grossProfit.Add(pnl)
	case pnl.IsNegative():
		a.losses++
		a.grossLoss = a.grossLoss.Add(pnl.Abs())
	}
	return a
}

func (a statsAccumulator) summary() domain.TradeStats {
	return Summarize(a.closed, a.wins, a.losses, a.grossProfit.InexactFloat64(), a.grossLoss.InexactFloat64())
}

// Summarize derives the ratio statistics from trade counts and gross
// results. grossLoss is a magnitude. AverageLoss is reported negative.
// ProfitFactor is +Inf when there are wins and no losses.
func Summarize(closed, wins, losses int, grossProfit, grossLoss float64) domain.TradeStats {
	s := domain.TradeStats{
		ClosedTrades: closed,
		Wins:         wins,
		Losses:       losses,
		GrossProfit:  grossProfit,
		GrossLoss:    grossLoss,
	}
	if closed == 0 {
		return s
	}
	s.WinRate = float64(wins) / float64(closed)
	lossRate := float64(losses) / float64(closed)
	if wins > 0 {
		s.AverageWin = grossProfit / float64(wins)
	}
	if losses > 0 {
		s.AverageLoss = -grossLoss / float64(losses)
	}
	switch {
	case grossLoss > 0:
		s.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		s.ProfitFactor = math.Inf(1)
	}
	s.Expectancy = s.WinRate*s.AverageWin + lossRate*s.AverageLoss
	if denom := s.AverageWin + math.Abs(s.AverageLoss); denom > 0 {
		s.BreakevenWinRate = math.Abs(s.AverageLoss) / denom
	}
	return s
}
