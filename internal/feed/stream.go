package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// StreamReader is the stream half of domain.SignalBus.
type StreamReader interface {
	StreamRead(ctx context.Context, stream, lastID string, count int, block time.Duration) ([]domain.StreamMessage, error)
}

// StreamConfig names the tick stream and tunes reads.
type StreamConfig struct {
	Stream string
	// StartID is where reading begins: "$" for new entries only, "0" to
	// replay the retained stream.
	StartID string
	Batch   int
	Block   time.Duration
}

// StreamFeed reads ticks appended to a Redis stream.
type StreamFeed struct {
	reader StreamReader
	router Router
	cfg    StreamConfig
	logger *slog.Logger
}

// NewStreamFeed creates a StreamFeed.
func NewStreamFeed(reader StreamReader, router Router, cfg StreamConfig, logger *slog.Logger) *StreamFeed {
	if cfg.Stream == "" {
		cfg.Stream = "ticks"
	}
	if cfg.StartID == "" {
		cfg.StartID = "$"
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 500
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	return &StreamFeed{
		reader: reader,
		router: router,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "stream_feed"), slog.String("stream", cfg.Stream)),
	}
}

// Run routes ticks until ctx is cancelled. Read errors are retried after the
// block interval; undecodable entries are skipped.
func (f *StreamFeed) Run(ctx context.Context) error {
	f.logger.InfoContext(ctx, "tick stream feed started", slog.String("start_id", f.cfg.StartID))
	lastID := f.cfg.StartID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := f.reader.StreamRead(ctx, f.cfg.Stream, lastID, f.cfg.Batch, f.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.WarnContext(ctx, "tick stream read failed", slog.String("error", err.Error()))
			if err := sleepCtx(ctx, f.cfg.Block); err != nil {
				return err
			}
			continue
		}
		for _, m := range msgs {
			lastID = m.ID
			ticks, err := DecodeTicks(m.Payload)
			if err != nil {
				f.logger.WarnContext(ctx, "tick skipped",
					slog.String("entry_id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			for _, t := range ticks {
				f.router.Route(ctx, t)
			}
		}
	}
}
