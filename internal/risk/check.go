// Package risk decides whether a detector signal may become an order.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Inputs is everything Check reads. Callers load it once per decision.
type Inputs struct {
	Mode      domain.TradingMode
	Portfolio domain.PortfolioSnapshot
	Limits    domain.RiskLimits
	// FeeRate is the expected fee as a fraction of notional, used to
	// estimate the loss an order adds before it fills.
	FeeRate float64
	Now     time.Time
}

// Check validates sig against in and returns either an approved order or a
// rejection. It is a pure function: the same arguments always produce the
// same result.
//
// Checks run in order and stop at the first failure:
//  1. trading mode (exits are allowed in close-only)
//  2. resulting position size
//  3. order value
//  4. resulting open-position count
//  5. worst-case realized loss for the day
func Check(sig domain.Signal, in Inputs) (domain.ApprovedOrder, *domain.Rejection) {
	reject := func(reason domain.RejectionReason, format string, args ...any) (domain.ApprovedOrder, *domain.Rejection) {
		return domain.ApprovedOrder{}, &domain.Rejection{
			Reason:   reason,
			SignalID: sig.ID,
			Symbol:   sig.Symbol,
			Detail:   fmt.Sprintf(format, args...),
		}
	}

	side := sig.Direction.OrderSide()
	pos, held := in.Portfolio.Position(sig.Symbol)
	reducing := held && !pos.Side.IncreasedBy(side) && sig.Direction != domain.DirectionArbitrage

	switch in.Mode {
	case domain.ModeActive:
	case domain.ModeCloseOnly:
		if !sig.Direction.IsExit() || !reducing {
			return reject(domain.RejectModeRestricted, "mode %s allows exits only", in.Mode)
		}
	default:
		return reject(domain.RejectModeRestricted, "mode %s", in.Mode)
	}

	if msg := validateShape(sig, pos, held, reducing); msg != "" {
		return reject(domain.RejectInvalidSignal, "%s", msg)
	}

	size := sig.SuggestedSize
	if sig.Direction.IsExit() {
		size = min(size, pos.Quantity)
	}

	resulting := size
	if held && !reducing && sig.Direction != domain.DirectionArbitrage {
		resulting += pos.Quantity
	}
	if l := in.Limits.MaxPositionSize; l > 0 && !reducing && resulting > l {
		return reject(domain.RejectSizeExceeded, "size %.8g exceeds max %.8g", resulting, l)
	}

	// Prices are only needed from the value check on.
	if msg := validatePrices(sig); msg != "" {
		return reject(domain.RejectInvalidSignal, "%s", msg)
	}

	value := size * sig.ReferencePrice
	if l := in.Limits.MaxOrderValue; l > 0 && value > l {
		return reject(domain.RejectValueExceeded, "value %.2f exceeds max %.2f", value, l)
	}

	open := in.Portfolio.OpenPositions()
	switch {
	case sig.Direction == domain.DirectionArbitrage:
	case !held:
		open++
	case reducing && size >= pos.Quantity:
		open--
	}
	if l := in.Limits.MaxOpenPositions; l > 0 && open > l {
		return reject(domain.RejectPositionCountExceeded, "%d open positions exceeds max %d", open, l)
	}

	if l := in.Limits.MaxDailyLoss; l > 0 {
		loss := worstCaseLoss(sig, size, pos, reducing, in)
		if loss > l {
			return reject(domain.RejectDailyLossLimit, "worst-case daily loss %.2f exceeds max %.2f", loss, l)
		}
	}

	return approve(sig, side, size, in.Now), nil
}

func validateShape(sig domain.Signal, pos domain.Position, held, reducing bool) string {
	switch {
	case sig.Symbol == "":
		return "missing symbol"
	case !positive(sig.SuggestedSize):
		return fmt.Sprintf("size %v", sig.SuggestedSize)
	case sig.Direction.IsExit() && !reducing:
		return "no position to exit"
	case !sig.Direction.IsExit() && held && reducing:
		return fmt.Sprintf("%s against open %s position", sig.Direction, pos.Side)
	}
	return ""
}

func validatePrices(sig domain.Signal) string {
	switch {
	case !positive(sig.ReferencePrice):
		return fmt.Sprintf("reference price %v", sig.ReferencePrice)
	case sig.Direction == domain.DirectionArbitrage && (sig.Arbitrage == nil || !positive(sig.Arbitrage.SellPrice)):
		return "arbitrage signal without a sell leg"
	}
	return ""
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// worstCaseLoss is today's realized loss plus what this order would realize
// at its reference price plus the fee estimate for every leg.
func worstCaseLoss(sig domain.Signal, size float64, pos domain.Position, reducing bool, in Inputs) float64 {
	var today float64
	if sameDay(in.Portfolio.Day, in.Now) {
		today = max(0, -in.Portfolio.RealizedToday)
	}

	var orderLoss float64
	if reducing {
		pnl := (sig.ReferencePrice - pos.AvgEntryPrice) * size
		if pos.Side == domain.PositionShort {
			pnl = -pnl
		}
		orderLoss = max(0, -pnl)
	}
	if sig.Direction == domain.DirectionArbitrage {
		orderLoss = max(0, (sig.ReferencePrice-sig.Arbitrage.SellPrice)*size)
	}

	fees := size * sig.ReferencePrice * in.FeeRate
	if sig.Direction == domain.DirectionArbitrage {
		fees += size * sig.Arbitrage.SellPrice * in.FeeRate
	}
	return today + orderLoss + fees
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return !a.IsZero()
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func approve(sig domain.Signal, side domain.OrderSide, size float64, now time.Time) domain.ApprovedOrder {
	order := domain.ApprovedOrder{
		ID:        "ord-" + sig.ID,
		SignalID:  sig.ID,
		Symbol:    sig.Symbol,
		Venue:     sig.Venue,
		Side:      side,
		Quantity:  size,
		Price:     sig.ReferencePrice,
		Type:      domain.OrderTypeLimit,
		CreatedAt: now,
	}
	if sig.Direction == domain.DirectionArbitrage {
		order.Venue = sig.Arbitrage.BuyVenue
		order.Type = domain.OrderTypeIOC
		order.Hedge = &domain.ApprovedOrder{
			ID:        "ord-" + sig.ID + "-hedge",
			SignalID:  sig.ID,
			Symbol:    sig.Symbol,
			Venue:     sig.Arbitrage.SellVenue,
			Side:      domain.OrderSideSell,
			Quantity:  size,
			Price:     sig.Arbitrage.SellPrice,
			Type:      domain.OrderTypeIOC,
			CreatedAt: now,
		}
	}
	return order
}
