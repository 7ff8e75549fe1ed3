package domain

import "fmt"

// RiskLimits bound what the risk gate approves. A limit <= 0 is disabled.
type RiskLimits struct {
	MaxPositionSize  float64 `json:"max_position_size" toml:"max_position_size"`
	MaxDailyLoss     float64 `json:"max_daily_loss" toml:"max_daily_loss"`
	MaxOpenPositions int     `json:"max_open_positions" toml:"max_open_positions"`
	MaxOrderValue    float64 `json:"max_order_value" toml:"max_order_value"`
}

// RejectionReason enumerates the risk gate outcomes other than approval.
type RejectionReason string

const (
	RejectModeRestricted        RejectionReason = "mode_restricted"
	RejectSizeExceeded          RejectionReason = "size_exceeded"
	RejectValueExceeded         RejectionReason = "value_exceeded"
	RejectPositionCountExceeded RejectionReason = "position_count_exceeded"
	RejectDailyLossLimit        RejectionReason = "daily_loss_limit"
	RejectInvalidSignal         RejectionReason = "invalid_signal"
)

// Rejection is a normal decision outcome, not an error.
type Rejection struct {
	Reason   RejectionReason `json:"reason"`
	SignalID string          `json:"signal_id"`
	Symbol   string          `json:"symbol"`
	Detail   string          `json:"detail"`
}

func (r *Rejection) String() string {
	return fmt.Sprintf("%s: %s (%s)", r.Symbol, r.Reason, r.Detail)
}
