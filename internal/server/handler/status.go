package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// ControlReader exposes the live trading mode and limits.
type ControlReader interface {
	Mode() domain.TradingMode
	Limits() domain.RiskLimits
}

// PortfolioReader is the ledger's read side.
type PortfolioReader interface {
	Snapshot() domain.PortfolioSnapshot
}

// StatusSources are the optional live readers behind GET /api/status.
// Monitor mode leaves Portfolio, Pending and InFlight nil.
type StatusSources struct {
	Control   ControlReader
	Portfolio PortfolioReader
	Pending   func() int
	InFlight  func() int
	Markets   []domain.MarketKey
}

// StatusHandler serves the engine status.
type StatusHandler struct {
	mode      string
	src       StatusSources
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler for the given app mode.
func NewStatusHandler(mode string, src StatusSources) *StatusHandler {
	return &StatusHandler{mode: mode, src: src, startedAt: time.Now().UTC()}
}

type statusResponse struct {
	Mode           string                    `json:"mode"`
	TradingMode    domain.TradingMode        `json:"trading_mode"`
	Limits         domain.RiskLimits         `json:"limits"`
	Markets        []string                  `json:"markets"`
	UptimeSeconds  int64                     `json:"uptime_seconds"`
	Portfolio      *domain.PortfolioSnapshot `json:"portfolio,omitempty"`
	PendingSignals *int                      `json:"pending_signals,omitempty"`
	OrdersInFlight *int                      `json:"orders_in_flight,omitempty"`
}

// GetStatus responds with the live mode, limits, portfolio and queue depths.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:          h.mode,
		Markets:       make([]string, 0, len(h.src.Markets)),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	for _, k := range h.src.Markets {
		resp.Markets = append(resp.Markets, k.String())
	}
	if h.src.Control != nil {
		resp.TradingMode = h.src.Control.Mode()
		resp.Limits = h.src.Control.Limits()
	}
	if h.src.Portfolio != nil {
		snap := h.src.Portfolio.Snapshot()
		resp.Portfolio = &snap
	}
	if h.src.Pending != nil {
		n := h.src.Pending()
		resp.PendingSignals = &n
	}
	if h.src.InFlight != nil {
		n := h.src.InFlight()
		resp.OrdersInFlight = &n
	}
	writeJSON(w, http.StatusOK, resp)
}
