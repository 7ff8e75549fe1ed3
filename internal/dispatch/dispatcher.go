// Package dispatch turns approved orders into placed tickets and books the
// resulting fills on the ledger.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/metrics"
)

// OrderPlacer submits one order leg to the execution layer. The outcome
// arrives later as a FillReport.
type OrderPlacer interface {
	Place(ctx context.Context, ticket domain.OrderTicket) error
}

// FillSource delivers fill reports from the execution layer.
type FillSource interface {
	Fills() <-chan domain.FillReport
}

// SignalQueue is the pending-signal mailbox.
type SignalQueue interface {
	Next(ctx context.Context) (domain.Signal, error)
	Clear(symbol string)
}

// Approver is the risk gate.
type Approver interface {
	Evaluate(ctx context.Context, sig domain.Signal) (domain.ApprovedOrder, *domain.Rejection)
}

// Booker is the ledger.
type Booker interface {
	ApplyBatch(ctx context.Context, groupID string, fills []domain.Fill) error
}

// Config tunes the dispatcher.
type Config struct {
	// OrdersPerSecond paces leg submission. Zero disables pacing.
	OrdersPerSecond float64
	Burst           int
	// LegTimeout discards an order whose legs have not all reported.
	LegTimeout      time.Duration
	DedupTTL        time.Duration
	CleanupInterval time.Duration
}

// Dispatcher pulls pending signals through the risk gate, places approved
// orders and applies their fills to the ledger.
type Dispatcher struct {
	placer  OrderPlacer
	fills   FillSource
	queue   SignalQueue
	gate    Approver
	ledger  Booker
	limiter *rate.Limiter
	dedup   *Dedup
	groups  *LegGroups
	journal domain.JournalHook
	logger  *slog.Logger

	cleanupInterval time.Duration
}

// New creates a Dispatcher. fills may be nil when reports are delivered by
// calling OnFill directly. journal may be nil.
func New(
	placer OrderPlacer,
	fills FillSource,
	queue SignalQueue,
	gate Approver,
	ledger Booker,
	cfg Config,
	journal domain.JournalHook,
	logger *slog.Logger,
) *Dispatcher {
	if journal == nil {
		journal = domain.NopJournal
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.OrdersPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.OrdersPerSecond), max(cfg.Burst, 1))
	}
	d := &Dispatcher{
		placer:          placer,
		fills:           fills,
		queue:           queue,
		gate:            gate,
		ledger:          ledger,
		limiter:         limiter,
		dedup:           NewDedup(cfg.DedupTTL),
		journal:         journal,
		logger:          logger.With(slog.String("component", "dispatcher")),
		cleanupInterval: cfg.CleanupInterval,
	}
	d.groups = NewLegGroups(cfg.LegTimeout, d.expired, logger)
	return d
}

// Run processes signals and fills until ctx is cancelled or the fill
// source closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "dispatcher started")
	defer d.logger.Info("dispatcher stopped")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.signalLoop(ctx) })
	if d.fills != nil {
		g.Go(func() error { return d.fillLoop(ctx) })
	}
	return g.Wait()
}

func (d *Dispatcher) signalLoop(ctx context.Context) error {
	for {
		sig, err := d.queue.Next(ctx)
		if err != nil {
			return err
		}
		d.process(ctx, sig)
	}
}

func (d *Dispatcher) fillLoop(ctx context.Context) error {
	cleanup := time.NewTicker(d.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-d.fills.Fills():
			if !ok {
				return nil
			}
			if err := d.OnFill(ctx, r); err != nil && !errors.Is(err, domain.ErrUnknownTicket) {
				d.logger.ErrorContext(ctx, "fill not booked",
					slog.String("ticket_id", r.TicketID),
					slog.String("error", err.Error()),
				)
			}
		case <-cleanup.C:
			d.dedup.Cleanup()
		}
	}
}

// process runs one signal through the gate and dispatches the approval.
// Every path that does not leave an order in flight clears the symbol.
func (d *Dispatcher) process(ctx context.Context, sig domain.Signal) {
	order, rej := d.gate.Evaluate(ctx, sig)
	if rej != nil {
		d.queue.Clear(sig.Symbol)
		return
	}
	if _, err := d.Dispatch(ctx, order); err != nil {
		d.logger.ErrorContext(ctx, "dispatch failed",
			slog.String("signal_id", sig.ID),
			slog.String("symbol", sig.Symbol),
			slog.String("error", err.Error()),
		)
		d.queue.Clear(sig.Symbol)
	}
}

// Dispatch places every leg of order. If a leg cannot be placed the group
// is discarded and the error returned.
func (d *Dispatcher) Dispatch(ctx context.Context, order domain.ApprovedOrder) ([]domain.OrderTicket, error) {
	groupID := uuid.NewString()
	legs := order.Legs()
	tickets := make([]domain.OrderTicket, 0, len(legs))
	for _, o := range legs {
		tickets = append(tickets, domain.OrderTicket{
			ID:       uuid.NewString(),
			OrderID:  o.ID,
			GroupID:  groupID,
			Symbol:   o.Symbol,
			Venue:    o.Venue,
			Side:     o.Side,
			Quantity: o.Quantity,
			Price:    o.Price,
		})
	}
	d.groups.Open(groupID, order.Symbol, tickets)

	for i := range tickets {
		if err := d.limiter.Wait(ctx); err != nil {
			d.groups.Discard(tickets[i].ID)
			return nil, fmt.Errorf("dispatch: pace %s: %w", tickets[i].OrderID, err)
		}
		tickets[i].SubmittedAt = time.Now().UTC()
		if err := d.placer.Place(ctx, tickets[i]); err != nil {
			d.groups.Discard(tickets[i].ID)
			kind := domain.JournalOrderRejected
			if i > 0 {
				// earlier legs are already live at their venues
				kind = domain.JournalAnomaly
			}
			d.journal.Append(domain.JournalEvent{
				ID:     uuid.NewString(),
				Kind:   kind,
				Symbol: order.Symbol,
				At:     time.Now().UTC(),
				Detail: map[string]any{"group_id": groupID, "order_id": tickets[i].OrderID, "error": err.Error()},
			})
			return nil, fmt.Errorf("dispatch: place %s: %w", tickets[i].OrderID, err)
		}
		metrics.OrdersDispatched.WithLabelValues(tickets[i].Venue, string(tickets[i].Side)).Inc()
		d.journal.Append(domain.JournalEvent{
			ID:     uuid.NewString(),
			Kind:   domain.JournalOrderDispatched,
			Symbol: order.Symbol,
			At:     tickets[i].SubmittedAt,
			Detail: map[string]any{
				"group_id":  groupID,
				"ticket_id": tickets[i].ID,
				"order_id":  tickets[i].OrderID,
				"venue":     tickets[i].Venue,
				"side":      string(tickets[i].Side),
				"quantity":  tickets[i].Quantity,
				"price":     tickets[i].Price,
			},
		})
		d.logger.InfoContext(ctx, "order placed",
			slog.String("group_id", groupID),
			slog.String("ticket_id", tickets[i].ID),
			slog.String("venue", tickets[i].Venue),
			slog.String("side", string(tickets[i].Side)),
			slog.Float64("quantity", tickets[i].Quantity),
			slog.Float64("price", tickets[i].Price),
		)
	}
	return tickets, nil
}

// OnFill handles one execution report. Filled legs accumulate until their
// group completes and are then booked as one batch. A rejected leg
// discards its group. Either way the symbol is released for new signals
// once the group is settled. Reports already seen are ignored.
func (d *Dispatcher) OnFill(ctx context.Context, r domain.FillReport) error {
	key := r.FillID
	if key == "" {
		key = r.TicketID + ":" + string(r.Status)
	}
	if d.dedup.IsDuplicate(key) {
		d.logger.DebugContext(ctx, "duplicate fill ignored", slog.String("fill_id", key))
		return nil
	}

	switch r.Status {
	case domain.FillStatusFilled:
		return d.onFilled(ctx, r)
	case domain.FillStatusRejected:
		return d.onRejected(ctx, r)
	default:
		return fmt.Errorf("dispatch: fill %s: %w: status %q", r.TicketID, domain.ErrInvalidFill, r.Status)
	}
}

func (d *Dispatcher) onFilled(ctx context.Context, r domain.FillReport) error {
	groupID, symbol, fills, complete, ok := d.groups.Fill(r)
	if !ok {
		return fmt.Errorf("dispatch: fill %s: %w", r.TicketID, domain.ErrUnknownTicket)
	}
	if !complete {
		return nil
	}
	defer d.queue.Clear(symbol)
	if err := d.ledger.ApplyBatch(ctx, groupID, fills); err != nil {
		return fmt.Errorf("dispatch: book group %s: %w", groupID, err)
	}
	return nil
}

func (d *Dispatcher) onRejected(ctx context.Context, r domain.FillReport) error {
	groupID, symbol, filled, ok := d.groups.Discard(r.TicketID)
	if !ok {
		return fmt.Errorf("dispatch: reject %s: %w", r.TicketID, domain.ErrUnknownTicket)
	}
	defer d.queue.Clear(symbol)

	metrics.FillsApplied.WithLabelValues(string(domain.FillStatusRejected)).Inc()
	d.logger.WarnContext(ctx, "order leg rejected",
		slog.String("group_id", groupID),
		slog.String("ticket_id", r.TicketID),
		slog.String("reason", r.Reason),
	)
	kind := domain.JournalOrderRejected
	if filled > 0 {
		kind = domain.JournalAnomaly
	}
	d.journal.Append(domain.JournalEvent{
		ID:     uuid.NewString(),
		Kind:   kind,
		Symbol: symbol,
		At:     time.Now().UTC(),
		Detail: map[string]any{
			"group_id":    groupID,
			"ticket_id":   r.TicketID,
			"reason":      r.Reason,
			"legs_filled": filled,
		},
	})
	return nil
}

func (d *Dispatcher) expired(groupID, symbol string, filled int) {
	kind := domain.JournalOrderRejected
	if filled > 0 {
		kind = domain.JournalAnomaly
	}
	d.journal.Append(domain.JournalEvent{
		ID:     uuid.NewString(),
		Kind:   kind,
		Symbol: symbol,
		At:     time.Now().UTC(),
		Detail: map[string]any{"group_id": groupID, "reason": "leg timeout", "legs_filled": filled},
	})
	d.queue.Clear(symbol)
}

// InFlight is the number of orders waiting for fills.
func (d *Dispatcher) InFlight() int {
	return d.groups.Len()
}
