package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Default stream names used by the external execution layer.
const (
	OrdersStream = "orders:outbound"
	FillsStream  = "fills:inbound"
)

// GatewayConfig names the streams and tunes the fill reader.
type GatewayConfig struct {
	OrdersStream string
	FillsStream  string
	// Block bounds each XREAD wait so cancellation is noticed promptly.
	Block  time.Duration
	Batch  int
	Buffer int
}

func (c *GatewayConfig) defaults() {
	if c.OrdersStream == "" {
		c.OrdersStream = OrdersStream
	}
	if c.FillsStream == "" {
		c.FillsStream = FillsStream
	}
	if c.Block <= 0 {
		c.Block = time.Second
	}
	if c.Batch <= 0 {
		c.Batch = 100
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
}

// OrderGateway hands order tickets to an out-of-process executor through a
// Redis stream and reads its fill reports back from another.
type OrderGateway struct {
	bus    domain.SignalBus
	cfg    GatewayConfig
	fills  chan domain.FillReport
	logger *slog.Logger
}

// NewOrderGateway creates a gateway over bus.
func NewOrderGateway(bus domain.SignalBus, cfg GatewayConfig, logger *slog.Logger) *OrderGateway {
	cfg.defaults()
	return &OrderGateway{
		bus:    bus,
		cfg:    cfg,
		fills:  make(chan domain.FillReport, cfg.Buffer),
		logger: logger.With(slog.String("component", "order_gateway")),
	}
}

// Place appends the ticket to the outbound orders stream.
func (g *OrderGateway) Place(ctx context.Context, t domain.OrderTicket) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redis: gateway: marshal ticket %s: %w", t.ID, err)
	}
	if err := g.bus.StreamAppend(ctx, g.cfg.OrdersStream, payload); err != nil {
		return fmt.Errorf("redis: gateway: place %s: %w", t.ID, err)
	}
	return nil
}

// Fills returns the channel of decoded fill reports. It is closed when Run
// returns.
func (g *OrderGateway) Fills() <-chan domain.FillReport { return g.fills }

// Run reads fill reports appended after the gateway started until ctx is
// cancelled. Entries that do not decode are logged and skipped.
func (g *OrderGateway) Run(ctx context.Context) error {
	defer close(g.fills)
	g.logger.InfoContext(ctx, "order gateway started",
		slog.String("orders", g.cfg.OrdersStream),
		slog.String("fills", g.cfg.FillsStream),
	)

	lastID := "$"
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := g.bus.StreamRead(ctx, g.cfg.FillsStream, lastID, g.cfg.Batch, g.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.logger.WarnContext(ctx, "fill stream read failed", slog.String("error", err.Error()))
			if err := sleepCtx(ctx, g.cfg.Block); err != nil {
				return err
			}
			continue
		}
		for _, m := range msgs {
			lastID = m.ID
			r, err := decodeFill(m.Payload)
			if err != nil {
				g.logger.WarnContext(ctx, "fill report skipped",
					slog.String("entry_id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case g.fills <- r:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func decodeFill(payload []byte) (domain.FillReport, error) {
	var r domain.FillReport
	if err := json.Unmarshal(payload, &r); err != nil {
		return r, fmt.Errorf("%w: %v", domain.ErrInvalidFill, err)
	}
	if r.TicketID == "" {
		return r, fmt.Errorf("%w: missing ticket_id", domain.ErrInvalidFill)
	}
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	return r, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
