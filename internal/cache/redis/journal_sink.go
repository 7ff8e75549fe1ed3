package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// JournalStream is the default stream journal events are appended to.
const JournalStream = "journal"

// JournalSink appends journal events to a Redis stream as JSON.
type JournalSink struct {
	bus    *SignalBus
	stream string
}

// NewJournalSink creates a sink writing to stream, or JournalStream when
// empty.
func NewJournalSink(bus *SignalBus, stream string) *JournalSink {
	if stream == "" {
		stream = JournalStream
	}
	return &JournalSink{bus: bus, stream: stream}
}

// Name identifies the sink in logs.
func (s *JournalSink) Name() string { return "redis_stream" }

// Write appends events in one pipeline.
func (s *JournalSink) Write(ctx context.Context, events []domain.JournalEvent) error {
	payloads := make([][]byte, 0, len(events))
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("redis: journal sink: marshal %s: %w", e.ID, err)
		}
		payloads = append(payloads, b)
	}
	return s.bus.StreamAppendBatch(ctx, s.stream, payloads)
}
