package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType indicates the execution policy.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
	OrderTypeIOC    OrderType = "ioc"
)

// ApprovedOrder is what the risk gate hands to the dispatcher. Arbitrage
// approvals carry the opposite leg in Hedge.
type ApprovedOrder struct {
	ID        string         `json:"id"`
	SignalID  string         `json:"signal_id"`
	Symbol    string         `json:"symbol"`
	Venue     string         `json:"venue"`
	Side      OrderSide      `json:"side"`
	Quantity  float64        `json:"quantity"`
	Price     float64        `json:"price"`
	Type      OrderType      `json:"type"`
	Hedge     *ApprovedOrder `json:"hedge,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Legs flattens the order and its hedge in submission order.
func (o ApprovedOrder) Legs() []ApprovedOrder {
	if o.Hedge == nil {
		return []ApprovedOrder{o}
	}
	primary := o
	primary.Hedge = nil
	return []ApprovedOrder{primary, *o.Hedge}
}

// OrderTicket is the dispatcher's receipt for one submitted leg.
type OrderTicket struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	GroupID     string    `json:"group_id"`
	Symbol      string    `json:"symbol"`
	Venue       string    `json:"venue"`
	Side        OrderSide `json:"side"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// FillStatus is the terminal state reported for a ticket.
type FillStatus string

const (
	FillStatusFilled   FillStatus = "filled"
	FillStatusRejected FillStatus = "rejected"
)

// FillReport is the execution layer's callback for a ticket.
type FillReport struct {
	TicketID string     `json:"ticket_id"`
	FillID   string     `json:"fill_id"`
	Status   FillStatus `json:"status"`
	Price    float64    `json:"price"`
	Quantity float64    `json:"quantity"`
	Fee      float64    `json:"fee"`
	Reason   string     `json:"reason,omitempty"`
	At       time.Time  `json:"at"`
}

// Fill is a ledger mutation request.
type Fill struct {
	Symbol   string    `json:"symbol"`
	Side     OrderSide `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	Fee      float64   `json:"fee"`
	At       time.Time `json:"at"`
}
