// Package feed delivers normalized ticks from the ingestion layer to the
// collectors, either from a Redis stream or a websocket endpoint.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Router hands a tick to the collector owning its (venue, symbol). It
// reports false for ticks nobody collects.
type Router interface {
	Route(ctx context.Context, t domain.Tick) bool
}

// DecodeTicks parses one message holding either a single tick object or an
// array of them.
func DecodeTicks(payload []byte) ([]domain.Tick, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("feed: %w: empty message", domain.ErrInvalidTick)
	}
	if trimmed[0] == '[' {
		var ticks []domain.Tick
		if err := json.Unmarshal(trimmed, &ticks); err != nil {
			return nil, fmt.Errorf("feed: %w: %v", domain.ErrInvalidTick, err)
		}
		return ticks, nil
	}
	var t domain.Tick
	if err := json.Unmarshal(trimmed, &t); err != nil {
		return nil, fmt.Errorf("feed: %w: %v", domain.ErrInvalidTick, err)
	}
	return []domain.Tick{t}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
