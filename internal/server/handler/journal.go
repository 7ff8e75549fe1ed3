package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// JournalLister queries persisted journal events.
type JournalLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.JournalEvent, error)
}

// JournalHandler serves the persisted journal.
type JournalHandler struct {
	store  JournalLister
	logger *slog.Logger
}

// NewJournalHandler creates a JournalHandler over store.
func NewJournalHandler(store JournalLister, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{store: store, logger: logger}
}

type listJournalResponse struct {
	Events []domain.JournalEvent `json:"events"`
}

// ListEvents returns journal events, newest first.
// GET /api/journal?kind=fill&since=2026-01-02T00:00:00Z&limit=50&offset=0
func (h *JournalHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list journal failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list journal")
		return
	}
	if events == nil {
		events = []domain.JournalEvent{}
	}
	writeJSON(w, http.StatusOK, listJournalResponse{Events: events})
}
