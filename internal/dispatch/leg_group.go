package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// legGroup collects the fills of one approved order until every leg has
// filled. fills is indexed by leg so the batch is booked in leg order
// whatever order the venues report in.
type legGroup struct {
	id      string
	symbol  string
	filled  int
	fills   []domain.Fill
	tickets map[string]*leg
	timer   *time.Timer
}

type leg struct {
	index  int
	side   domain.OrderSide
	filled bool
}

// LegGroups tracks in-flight approved orders by group ID. A group that does
// not complete within the timeout is dropped and onExpire is called.
type LegGroups struct {
	mu       sync.Mutex
	groups   map[string]*legGroup
	byTicket map[string]string
	timeout  time.Duration
	onExpire func(groupID, symbol string, filled int)
	logger   *slog.Logger
}

// NewLegGroups creates a tracker. timeout <= 0 disables expiry.
func NewLegGroups(timeout time.Duration, onExpire func(groupID, symbol string, filled int), logger *slog.Logger) *LegGroups {
	return &LegGroups{
		groups:   make(map[string]*legGroup),
		byTicket: make(map[string]string),
		timeout:  timeout,
		onExpire: onExpire,
		logger:   logger.With(slog.String("component", "leg_groups")),
	}
}

// Open starts a group for the given tickets.
func (g *LegGroups) Open(groupID, symbol string, tickets []domain.OrderTicket) {
	lg := &legGroup{
		id:      groupID,
		symbol:  symbol,
		fills:   make([]domain.Fill, len(tickets)),
		tickets: make(map[string]*leg, len(tickets)),
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, t := range tickets {
		lg.tickets[t.ID] = &leg{index: i, side: t.Side}
		g.byTicket[t.ID] = groupID
	}
	if g.timeout > 0 {
		lg.timer = time.AfterFunc(g.timeout, func() { g.expire(groupID) })
	}
	g.groups[groupID] = lg
}

func (g *LegGroups) expire(groupID string) {
	g.mu.Lock()
	lg, ok := g.groups[groupID]
	if ok {
		g.removeLocked(lg)
	}
	g.mu.Unlock()
	if !ok {
		return
	}
	g.logger.Warn("leg group timed out",
		slog.String("group_id", groupID),
		slog.Int("filled", lg.filled),
		slog.Int("expected", len(lg.fills)),
	)
	if g.onExpire != nil {
		g.onExpire(groupID, lg.symbol, lg.filled)
	}
}

// Fill records a filled leg from its report. When the group is complete it
// is removed and its fills are returned in leg order with complete set to
// true.
func (g *LegGroups) Fill(r domain.FillReport) (groupID, symbol string, fills []domain.Fill, complete, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	groupID, ok = g.byTicket[r.TicketID]
	if !ok {
		return "", "", nil, false, false
	}
	lg := g.groups[groupID]
	l := lg.tickets[r.TicketID]
	if l.filled {
		return groupID, lg.symbol, nil, false, true
	}
	l.filled = true
	lg.filled++
	lg.fills[l.index] = domain.Fill{
		Symbol:   lg.symbol,
		Side:     l.side,
		Quantity: r.Quantity,
		Price:    r.Price,
		Fee:      r.Fee,
		At:       r.At,
	}
	if lg.filled < len(lg.fills) {
		return groupID, lg.symbol, nil, false, true
	}
	g.removeLocked(lg)
	return groupID, lg.symbol, lg.fills, true, true
}

// Discard drops the group a ticket belongs to and reports how many of its
// legs had already filled.
func (g *LegGroups) Discard(ticketID string) (groupID, symbol string, filled int, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	groupID, ok = g.byTicket[ticketID]
	if !ok {
		return "", "", 0, false
	}
	lg := g.groups[groupID]
	g.removeLocked(lg)
	return groupID, lg.symbol, lg.filled, true
}

// Len is the number of open groups.
func (g *LegGroups) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.groups)
}

func (g *LegGroups) removeLocked(lg *legGroup) {
	if lg.timer != nil {
		lg.timer.Stop()
	}
	for id := range lg.tickets {
		delete(g.byTicket, id)
	}
	delete(g.groups, lg.id)
}
