package journal

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// LogSink writes every event as one structured log line.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink creates a LogSink logging at level.
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "journal")), level: level}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(ctx context.Context, events []domain.JournalEvent) error {
	for _, e := range events {
		attrs := []slog.Attr{
			slog.String("event_id", e.ID),
			slog.String("kind", string(e.Kind)),
			slog.Time("at", e.At),
		}
		if e.Symbol != "" {
			attrs = append(attrs, slog.String("symbol", e.Symbol))
		}
		if len(e.Detail) > 0 {
			attrs = append(attrs, slog.Any("detail", e.Detail))
		}
		s.logger.LogAttrs(ctx, s.level, "journal", attrs...)
	}
	return nil
}
