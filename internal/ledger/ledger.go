package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/metrics"
)

// Ledger is the single owner of a Portfolio. Every access goes through its
// mutex, so checkpoint and restore never race with another mutation.
type Ledger struct {
	mu      sync.Mutex
	p       *Portfolio
	journal domain.JournalHook
	logger  *slog.Logger
}

// New wraps p. journal may be nil.
func New(p *Portfolio, journal domain.JournalHook, logger *slog.Logger) *Ledger {
	if journal == nil {
		journal = domain.NopJournal
	}
	l := &Ledger{
		p:       p,
		journal: journal,
		logger:  logger.With(slog.String("component", "ledger")),
	}
	l.publishGauges(p.Snapshot())
	return l
}

// Snapshot returns the current portfolio state.
func (l *Ledger) Snapshot() domain.PortfolioSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.Snapshot()
}

// ApplyFill books a single fill.
func (l *Ledger) ApplyFill(ctx context.Context, f domain.Fill) error {
	return l.ApplyBatch(ctx, "", []domain.Fill{f})
}

// ApplyBatch books fills atomically. On failure the portfolio is left as
// it was, the error is returned and an anomaly is raised.
func (l *Ledger) ApplyBatch(ctx context.Context, groupID string, fills []domain.Fill) error {
	l.mu.Lock()
	err := l.p.ApplyBatch(fills)
	snap := l.p.Snapshot()
	l.mu.Unlock()

	now := time.Now().UTC()
	if err != nil {
		metrics.LedgerAnomalies.Inc()
		l.logger.ErrorContext(ctx, "ledger batch rolled back",
			slog.String("group_id", groupID),
			slog.Int("fills", len(fills)),
			slog.String("error", err.Error()),
		)
		symbol := ""
		if len(fills) > 0 {
			symbol = fills[0].Symbol
		}
		l.journal.Append(domain.JournalEvent{
			ID:     uuid.NewString(),
			Kind:   domain.JournalAnomaly,
			Symbol: symbol,
			At:     now,
			Detail: map[string]any{
				"group_id": groupID,
				"fills":    len(fills),
				"error":    err.Error(),
			},
		})
		return err
	}

	for _, f := range fills {
		metrics.FillsApplied.WithLabelValues(string(domain.FillStatusFilled)).Inc()
		l.journal.Append(domain.JournalEvent{
			ID:     uuid.NewString(),
			Kind:   domain.JournalFill,
			Symbol: f.Symbol,
			At:     now,
			Detail: map[string]any{
				"group_id": groupID,
				"side":     string(f.Side),
				"quantity": f.Quantity,
				"price":    f.Price,
				"fee":      f.Fee,
			},
		})
	}
	if len(fills) > 1 {
		l.journal.Append(domain.JournalEvent{
			ID:     uuid.NewString(),
			Kind:   domain.JournalBatch,
			Symbol: fills[0].Symbol,
			At:     now,
			Detail: map[string]any{
				"group_id":     groupID,
				"fills":        len(fills),
				"cash":         snap.Cash,
				"realized_pnl": snap.RealizedPnL,
			},
		})
	}
	l.publishGauges(snap)
	l.logger.InfoContext(ctx, "fills applied",
		slog.String("group_id", groupID),
		slog.Int("fills", len(fills)),
		slog.Float64("cash", snap.Cash),
		slog.Int("open_positions", snap.OpenPositions()),
	)
	return nil
}

// Stats returns the trade statistics accumulated so far.
func (l *Ledger) Stats() domain.TradeStats {
	return l.Snapshot().Stats
}

func (l *Ledger) publishGauges(snap domain.PortfolioSnapshot) {
	metrics.Cash.Set(snap.Cash)
	metrics.OpenPositions.Set(float64(snap.OpenPositions()))
}
