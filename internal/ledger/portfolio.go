// Package ledger is the authoritative record of cash and positions.
package ledger

import (
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

type lot struct {
	side     domain.PositionSide
	qty      decimal.Decimal
	avg      decimal.Decimal
	realized decimal.Decimal
	openedAt time.Time
	updated  time.Time
}

type state struct {
	cash          decimal.Decimal
	positions     map[string]lot
	realized      decimal.Decimal
	realizedToday decimal.Decimal
	feesToday     decimal.Decimal
	day           time.Time
	stats         statsAccumulator
}

func (s state) clone() state {
	s.positions = maps.Clone(s.positions)
	if s.positions == nil {
		s.positions = make(map[string]lot)
	}
	return s
}

// Checkpoint is an immutable copy of portfolio state taken before a
// multi-step update.
type Checkpoint struct {
	st state
}

// Snapshot renders the checkpoint for readers.
func (c Checkpoint) Snapshot() domain.PortfolioSnapshot {
	return c.st.snapshot(time.Now().UTC())
}

// Portfolio holds cash and positions. It is not safe for concurrent use;
// Ledger serializes access to it.
type Portfolio struct {
	st  state
	now func() time.Time
}

// NewPortfolio creates a portfolio with the given starting cash.
func NewPortfolio(cash float64) *Portfolio {
	return &Portfolio{
		st: state{
			cash:      decimal.NewFromFloat(cash),
			positions: make(map[string]lot),
		},
		now: time.Now,
	}
}

// Checkpoint returns an immutable copy of the current state.
func (p *Portfolio) Checkpoint() Checkpoint {
	return Checkpoint{st: p.st.clone()}
}

// Restore replaces the state wholesale with cp.
func (p *Portfolio) Restore(cp Checkpoint) {
	p.st = cp.st.clone()
}

// Snapshot returns the current state as plain values.
func (p *Portfolio) Snapshot() domain.PortfolioSnapshot {
	return p.st.snapshot(p.now().UTC())
}

// ApplyFill books one fill. On error nothing changes.
//
// A fill on the position's side (or on a flat symbol) adds to it and
// recomputes the average entry price. A fill on the other side reduces it
// and realizes P&L against the average entry; reducing more than held is
// ErrOverclose. Fees are taken from cash and from realized P&L.
func (p *Portfolio) ApplyFill(f domain.Fill) error {
	if err := validateFill(f); err != nil {
		return err
	}
	at := f.At
	if at.IsZero() {
		at = p.now()
	}
	at = at.UTC()

	qty := decimal.NewFromFloat(f.Quantity)
	px := decimal.NewFromFloat(f.Price)
	fee := decimal.NewFromFloat(f.Fee)
	notional := qty.Mul(px)

	cashDelta := notional
	if f.Side == domain.OrderSideBuy {
		cashDelta = cashDelta.Neg()
	}
	cashDelta = cashDelta.Sub(fee)
	cash := p.st.cash.Add(cashDelta)
	if cash.IsNegative() {
		return fmt.Errorf("%w: %s needs %s, have %s", domain.ErrInsufficientCash,
			f.Symbol, cashDelta.Neg().StringFixed(2), p.st.cash.StringFixed(2))
	}

	pos, held := p.st.positions[f.Symbol]
	var pnl decimal.Decimal
	reducing := held && !pos.side.IncreasedBy(f.Side)
	switch {
	case !held:
		pos = lot{side: sideFor(f.Side), qty: qty, avg: px, openedAt: at}
	case !reducing:
		total := pos.qty.Add(qty)
		pos.avg = pos.avg.Mul(pos.qty).Add(px.Mul(qty)).Div(total)
		pos.qty = total
	default:
		if qty.GreaterThan(pos.qty) {
			return fmt.Errorf("%w: %s %s %s against %s held", domain.ErrOverclose,
				f.Symbol, f.Side, qty.String(), pos.qty.String())
		}
		pnl = px.Sub(pos.avg).Mul(qty)
		if pos.side == domain.PositionShort {
			pnl = pnl.Neg()
		}
		pos.qty = pos.qty.Sub(qty)
	}
	net := pnl.Sub(fee)
	pos.realized = pos.realized.Add(net)
	pos.updated = at

	p.rollDay(at)
	p.st.cash = cash
	p.st.realized = p.st.realized.Add(net)
	p.st.realizedToday = p.st.realizedToday.Add(net)
	p.st.feesToday = p.st.feesToday.Add(fee)
	if pos.qty.IsZero() {
		delete(p.st.positions, f.Symbol)
	} else {
		p.st.positions[f.Symbol] = pos
	}
	if reducing {
		p.st.stats = p.st.stats.record(net)
	}
	return nil
}

// ApplyBatch applies fills in order. If any fill fails the portfolio is
// restored to its state before the batch and the error is returned.
func (p *Portfolio) ApplyBatch(fills []domain.Fill) error {
	cp := p.Checkpoint()
	for i, f := range fills {
		if err := p.ApplyFill(f); err != nil {
			p.Restore(cp)
			return fmt.Errorf("ledger: batch fill %d/%d (%s): %w", i+1, len(fills), f.Symbol, err)
		}
	}
	return nil
}

// rollDay only moves forward. A fill stamped before the current day counts
// toward the current day's totals.
func (p *Portfolio) rollDay(at time.Time) {
	day := at.Truncate(24 * time.Hour)
	if day.After(p.st.day) {
		p.st.day = day
		p.st.realizedToday = decimal.Zero
		p.st.feesToday = decimal.Zero
	}
}

func (s state) snapshot(now time.Time) domain.PortfolioSnapshot {
	positions := make(map[string]domain.Position, len(s.positions))
	for sym, l := range s.positions {
		positions[sym] = domain.Position{
			Symbol:        sym,
			Side:          l.side,
			Quantity:      l.qty.InexactFloat64(),
			AvgEntryPrice: l.avg.InexactFloat64(),
			RealizedPnL:   l.realized.InexactFloat64(),
			OpenedAt:      l.openedAt,
			UpdatedAt:     l.updated,
		}
	}
	snap := domain.PortfolioSnapshot{
		Cash:          s.cash.InexactFloat64(),
		Positions:     positions,
		RealizedPnL:   s.realized.InexactFloat64(),
		RealizedToday: s.realizedToday.InexactFloat64(),
		FeesToday:     s.feesToday.InexactFloat64(),
		Day:           s.day,
		Stats:         s.stats.summary(),
		TakenAt:       now,
	}
	if today := now.Truncate(24 * time.Hour); !s.day.IsZero() && today.After(s.day) {
		snap.Day = today
		snap.RealizedToday = 0
		snap.FeesToday = 0
	}
	return snap
}

func sideFor(s domain.OrderSide) domain.PositionSide {
	if s == domain.OrderSideSell {
		return domain.PositionShort
	}
	return domain.PositionLong
}

func validateFill(f domain.Fill) error {
	switch {
	case f.Symbol == "":
		return fmt.Errorf("%w: missing symbol", domain.ErrInvalidFill)
	case f.Side != domain.OrderSideBuy && f.Side != domain.OrderSideSell:
		return fmt.Errorf("%w: side %q", domain.ErrInvalidFill, f.Side)
	case !finite(f.Quantity) || f.Quantity <= 0:
		return fmt.Errorf("%w: quantity %v", domain.ErrInvalidFill, f.Quantity)
	case !finite(f.Price) || f.Price <= 0:
		return fmt.Errorf("%w: price %v", domain.ErrInvalidFill, f.Price)
	case !finite(f.Fee) || f.Fee < 0:
		return fmt.Errorf("%w: fee %v", domain.ErrInvalidFill, f.Fee)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
