// Package control owns the live trading mode and risk limits and applies
// operator commands to them.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradecore/internal/broadcast"
	"github.com/alanyoungcy/tradecore/internal/domain"
)

// DefaultChannel is the Pub/Sub channel commands arrive on.
const DefaultChannel = "tradecore:control"

// ErrEmptyCommand is returned for a command that changes nothing.
var ErrEmptyCommand = errors.New("control: empty command")

// Command is one operator instruction. Either field may be set; limits
// replace the current limits wholesale.
type Command struct {
	Mode   *domain.TradingMode `json:"mode,omitempty"`
	Limits *domain.RiskLimits  `json:"limits,omitempty"`
}

// ParseCommand decodes a JSON command.
func ParseCommand(payload []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(payload, &c); err != nil {
		return Command{}, fmt.Errorf("control: decode command: %w", err)
	}
	if c.Mode == nil && c.Limits == nil {
		return Command{}, ErrEmptyCommand
	}
	return c, nil
}

// Subscriber is the Pub/Sub half of domain.SignalBus.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Controller publishes mode and limit changes to the slots the risk gate
// reads.
type Controller struct {
	mode    *broadcast.Slot[domain.TradingMode]
	limits  *broadcast.Slot[domain.RiskLimits]
	journal domain.JournalHook
	logger  *slog.Logger
}

// New creates a Controller with its initial mode and limits. journal may be
// nil.
func New(mode domain.TradingMode, limits domain.RiskLimits, journal domain.JournalHook, logger *slog.Logger) *Controller {
	if journal == nil {
		journal = domain.NopJournal
	}
	return &Controller{
		mode:    broadcast.New(mode, broadcast.Equal[domain.TradingMode]),
		limits:  broadcast.New(limits, broadcast.Equal[domain.RiskLimits]),
		journal: journal,
		logger:  logger.With(slog.String("component", "control")),
	}
}

// ModeSlot is read by the risk gate.
func (c *Controller) ModeSlot() *broadcast.Slot[domain.TradingMode] { return c.mode }

// LimitsSlot is read by the risk gate.
func (c *Controller) LimitsSlot() *broadcast.Slot[domain.RiskLimits] { return c.limits }

// Mode returns the current trading mode.
func (c *Controller) Mode() domain.TradingMode { return c.mode.ReadLatest() }

// Limits returns the current risk limits.
func (c *Controller) Limits() domain.RiskLimits { return c.limits.ReadLatest() }

// SetMode switches the trading mode. Setting the current mode is a no-op.
func (c *Controller) SetMode(ctx context.Context, m domain.TradingMode) error {
	if _, err := domain.ParseTradingMode(m.String()); err != nil {
		return fmt.Errorf("control: set mode: %w", err)
	}
	prev := c.mode.ReadLatest()
	if prev == m {
		return nil
	}
	if err := c.mode.Publish(m); err != nil {
		return fmt.Errorf("control: set mode: %w", err)
	}
	c.logger.InfoContext(ctx, "trading mode changed",
		slog.String("from", prev.String()),
		slog.String("to", m.String()),
	)
	c.journal.Append(domain.JournalEvent{
		ID:     uuid.NewString(),
		Kind:   domain.JournalModeChanged,
		At:     time.Now().UTC(),
		Detail: map[string]any{"from": prev.String(), "to": m.String()},
	})
	return nil
}

// SetLimits replaces the risk limits. Setting identical limits is a no-op.
func (c *Controller) SetLimits(ctx context.Context, l domain.RiskLimits) error {
	prev := c.limits.ReadLatest()
	if prev == l {
		return nil
	}
	if err := c.limits.Publish(l); err != nil {
		return fmt.Errorf("control: set limits: %w", err)
	}
	c.logger.InfoContext(ctx, "risk limits changed",
		slog.Float64("max_position_size", l.MaxPositionSize),
		slog.Float64("max_order_value", l.MaxOrderValue),
		slog.Float64("max_daily_loss", l.MaxDailyLoss),
		slog.Int("max_open_positions", l.MaxOpenPositions),
	)
	c.journal.Append(domain.JournalEvent{
		ID:   uuid.NewString(),
		Kind: domain.JournalLimitsChanged,
		At:   time.Now().UTC(),
		Detail: map[string]any{
			"max_position_size":  l.MaxPositionSize,
			"max_order_value":    l.MaxOrderValue,
			"max_daily_loss":     l.MaxDailyLoss,
			"max_open_positions": l.MaxOpenPositions,
		},
	})
	return nil
}

// Apply executes a command. Limits are applied before the mode so that a
// command resuming trading runs against the new limits.
func (c *Controller) Apply(ctx context.Context, cmd Command) error {
	if cmd.Mode == nil && cmd.Limits == nil {
		return ErrEmptyCommand
	}
	if cmd.Limits != nil {
		if err := c.SetLimits(ctx, *cmd.Limits); err != nil {
			return err
		}
	}
	if cmd.Mode != nil {
		if err := c.SetMode(ctx, *cmd.Mode); err != nil {
			return err
		}
	}
	return nil
}

// Run applies commands from channel until ctx is cancelled. Commands that
// fail to decode or apply are logged and ignored.
func (c *Controller) Run(ctx context.Context, sub Subscriber, channel string) error {
	if channel == "" {
		channel = DefaultChannel
	}
	msgs, err := sub.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("control: subscribe %s: %w", channel, err)
	}
	c.logger.InfoContext(ctx, "listening for control commands", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			c.handle(ctx, payload)
		}
	}
}

func (c *Controller) handle(ctx context.Context, payload []byte) {
	cmd, err := ParseCommand(payload)
	if err == nil {
		err = c.Apply(ctx, cmd)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "control command ignored",
			slog.String("payload", string(payload)),
			slog.String("error", err.Error()),
		)
	}
}

// Close releases readers parked on the slots.
func (c *Controller) Close() {
	c.mode.Close()
	c.limits.Close()
}
