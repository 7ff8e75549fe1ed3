package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradecore/internal/broadcast"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/metrics"
)

// PortfolioReader is the read side of the ledger.
type PortfolioReader interface {
	Snapshot() domain.PortfolioSnapshot
}

// Gate runs Check against the live trading mode, limits and portfolio.
type Gate struct {
	mode      *broadcast.Slot[domain.TradingMode]
	limits    *broadcast.Slot[domain.RiskLimits]
	portfolio PortfolioReader
	feeRate   float64
	now       func() time.Time
	journal   domain.JournalHook
	logger    *slog.Logger
}

// NewGate creates a Gate. journal may be nil.
func NewGate(
	mode *broadcast.Slot[domain.TradingMode],
	limits *broadcast.Slot[domain.RiskLimits],
	portfolio PortfolioReader,
	feeRate float64,
	journal domain.JournalHook,
	logger *slog.Logger,
) *Gate {
	if journal == nil {
		journal = domain.NopJournal
	}
	return &Gate{
		mode:      mode,
		limits:    limits,
		portfolio: portfolio,
		feeRate:   feeRate,
		now:       time.Now,
		journal:   journal,
		logger:    logger.With(slog.String("component", "risk_gate")),
	}
}

// Inputs loads the current mode, limits and portfolio once.
func (g *Gate) Inputs() Inputs {
	return Inputs{
		Mode:      g.mode.ReadLatest(),
		Limits:    g.limits.ReadLatest(),
		Portfolio: g.portfolio.Snapshot(),
		FeeRate:   g.feeRate,
		Now:       g.now().UTC(),
	}
}

// Evaluate checks sig. A rejection is reported to the journal and metrics
// and returned to the caller; it is not an error.
func (g *Gate) Evaluate(ctx context.Context, sig domain.Signal) (domain.ApprovedOrder, *domain.Rejection) {
	in := g.Inputs()
	order, rej := Check(sig, in)
	if rej != nil {
		metrics.RiskRejections.WithLabelValues(string(rej.Reason)).Inc()
		g.logger.InfoContext(ctx, "signal rejected",
			slog.String("signal_id", sig.ID),
			slog.String("symbol", sig.Symbol),
			slog.String("reason", string(rej.Reason)),
			slog.String("detail", rej.Detail),
		)
		g.journal.Append(domain.JournalEvent{
			ID:     uuid.NewString(),
			Kind:   domain.JournalRiskRejected,
			Symbol: sig.Symbol,
			At:     in.Now,
			Detail: map[string]any{
				"signal_id": sig.ID,
				"source":    sig.Source,
				"reason":    string(rej.Reason),
				"detail":    rej.Detail,
				"mode":      in.Mode.String(),
			},
		})
		return domain.ApprovedOrder{}, rej
	}

	g.logger.DebugContext(ctx, "signal approved",
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("side", string(order.Side)),
		slog.Float64("quantity", order.Quantity),
		slog.Float64("price", order.Price),
	)
	return order, nil
}
