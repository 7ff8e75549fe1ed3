// Package handler implements the operator API endpoints.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads journal query parameters. Defaults: limit=50 (max
// 500), offset=0. since and until are RFC 3339 timestamps.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50, Kind: q.Get("kind")}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return domain.ListOpts{}, fmt.Errorf("invalid limit %q", v)
		}
		opts.Limit = min(n, 500)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return domain.ListOpts{}, fmt.Errorf("invalid offset %q", v)
		}
		opts.Offset = n
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return domain.ListOpts{}, fmt.Errorf("invalid %s %q", name, v)
		}
		*dst = &ts
	}
	return opts, nil
}
