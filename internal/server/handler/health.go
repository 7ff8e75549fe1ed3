package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Check probes one backend.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks map[string]Check
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler running checks on every request.
// checks may be empty.
func NewHealthHandler(checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// HealthCheck reports "ok" when every backend answers and "degraded" with a
// 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	backends := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("backend", name),
				slog.String("error", err.Error()),
			)
			backends[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		backends[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"backends":  backends,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
