package collector

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradecore/internal/broadcast"
	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Mirror copies each slot's mid price into a PriceCache so processes outside
// the engine can read current prices.
type Mirror struct {
	slots  map[domain.MarketKey]*broadcast.Slot[domain.MarketSnapshot]
	cache  domain.PriceCache
	logger *slog.Logger
}

// NewMirror creates a Mirror over slots.
func NewMirror(slots map[domain.MarketKey]*broadcast.Slot[domain.MarketSnapshot], cache domain.PriceCache, logger *slog.Logger) *Mirror {
	return &Mirror{
		slots:  slots,
		cache:  cache,
		logger: logger.With(slog.String("component", "price_mirror")),
	}
}

// Run mirrors until ctx is cancelled or every slot is closed.
func (m *Mirror) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for key, slot := range m.slots {
		rx := slot.Subscribe()
		g.Go(func() error {
			for {
				snap, err := rx.WaitForChange(ctx)
				if errors.Is(err, domain.ErrClosed) {
					return nil
				}
				if err != nil {
					return err
				}
				mid, ok := snap.Mid()
				if !ok {
					continue
				}
				if err := m.cache.SetPrice(ctx, key.String(), mid, snap.ObservedAt); err != nil {
					m.logger.WarnContext(ctx, "mirror price failed",
						slog.String("market", key.String()),
						slog.String("error", err.Error()),
					)
				}
			}
		})
	}
	return g.Wait()
}
