package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// PaperConfig tunes simulated execution.
type PaperConfig struct {
	// FeeRate is a fraction of notional, e.g. 0.0004 = 4 bps.
	FeeRate float64
	// SlippageBps is the maximum adverse slippage applied to each fill.
	SlippageBps float64
	// Latency delays each simulated fill.
	Latency time.Duration
	Buffer  int
}

// PaperPlacer fills every ticket in memory at its limit price moved by a
// random adverse slippage, charging the configured fee.
type PaperPlacer struct {
	cfg   PaperConfig
	noise func() float64
	fills chan domain.FillReport
}

// NewPaperPlacer creates a simulated placer.
func NewPaperPlacer(cfg PaperConfig) *PaperPlacer {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &PaperPlacer{
		cfg:   cfg,
		noise: rand.Float64,
		fills: make(chan domain.FillReport, cfg.Buffer),
	}
}

// Place implements OrderPlacer.
func (p *PaperPlacer) Place(ctx context.Context, t domain.OrderTicket) error {
	if t.Price <= 0 || t.Quantity <= 0 {
		return fmt.Errorf("paper: ticket %s: price %v quantity %v", t.ID, t.Price, t.Quantity)
	}
	price := t.Price
	if frac := p.cfg.SlippageBps / 10_000; frac > 0 {
		slip := p.noise() * frac
		if t.Side == domain.OrderSideBuy {
			price *= 1 + slip
		} else {
			price *= 1 - slip
		}
	}
	report := domain.FillReport{
		TicketID: t.ID,
		FillID:   uuid.NewString(),
		Status:   domain.FillStatusFilled,
		Price:    price,
		Quantity: t.Quantity,
		Fee:      price * t.Quantity * p.cfg.FeeRate,
	}

	if p.cfg.Latency > 0 {
		go func() {
			timer := time.NewTimer(p.cfg.Latency)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
				report.At = time.Now().UTC()
				p.deliver(ctx, report)
			}
		}()
		return nil
	}
	report.At = time.Now().UTC()
	p.deliver(ctx, report)
	return nil
}

func (p *PaperPlacer) deliver(ctx context.Context, r domain.FillReport) {
	select {
	case p.fills <- r:
	case <-ctx.Done():
	}
}

// Fills implements FillSource.
func (p *PaperPlacer) Fills() <-chan domain.FillReport { return p.fills }
