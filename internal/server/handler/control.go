package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradecore/internal/control"
	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Controller applies operator commands.
type Controller interface {
	ControlReader
	Apply(ctx context.Context, cmd control.Command) error
}

// ControlHandler changes the trading mode and risk limits over HTTP, the
// same commands the Redis control channel accepts.
type ControlHandler struct {
	ctl    Controller
	logger *slog.Logger
}

// NewControlHandler creates a ControlHandler.
func NewControlHandler(ctl Controller, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{ctl: ctl, logger: logger}
}

type controlResponse struct {
	TradingMode domain.TradingMode `json:"trading_mode"`
	Limits      domain.RiskLimits  `json:"limits"`
}

// GetControl returns the current mode and limits.
// GET /api/control
func (h *ControlHandler) GetControl(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, controlResponse{TradingMode: h.ctl.Mode(), Limits: h.ctl.Limits()})
}

// ApplyCommand applies a JSON command such as {"mode":"close_only"}.
// POST /api/control
func (h *ControlHandler) ApplyCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	cmd, err := control.ParseCommand(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ctl.Apply(r.Context(), cmd); err != nil {
		h.logger.WarnContext(r.Context(), "control command rejected", slog.String("error", err.Error()))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{TradingMode: h.ctl.Mode(), Limits: h.ctl.Limits()})
}
