// Package journal fans the engine's notification events out to reporting
// sinks without ever blocking the core.
package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/metrics"
)

// Sink receives batches of journal events.
type Sink interface {
	Name() string
	Write(ctx context.Context, events []domain.JournalEvent) error
}

// Config tunes the recorder.
type Config struct {
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
	// WriteTimeout bounds one sink write.
	WriteTimeout time.Duration
}

// Recorder implements domain.JournalHook. Append enqueues into a bounded
// buffer and drops (and counts) when it is full; Run delivers batches to
// every sink.
type Recorder struct {
	events chan domain.JournalEvent
	sinks  []Sink
	cfg    Config
	logger *slog.Logger
}

// NewRecorder creates a Recorder delivering to sinks.
func NewRecorder(cfg Config, logger *slog.Logger, sinks ...Sink) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Recorder{
		events: make(chan domain.JournalEvent, cfg.Buffer),
		sinks:  sinks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "journal")),
	}
}

// Append enqueues e without blocking. Missing IDs and timestamps are filled
// in.
func (r *Recorder) Append(e domain.JournalEvent) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case r.events <- e:
	default:
		metrics.JournalDropped.Inc()
	}
}

// Run delivers events until ctx is cancelled, then drains what is buffered.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]domain.JournalEvent, 0, r.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			batch = r.drain(batch)
			flushCtx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
			r.deliver(flushCtx, batch)
			cancel()
			return nil
		case e := <-r.events:
			batch = append(batch, e)
			if len(batch) >= r.cfg.BatchSize {
				r.deliver(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.deliver(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (r *Recorder) drain(batch []domain.JournalEvent) []domain.JournalEvent {
	for {
		select {
		case e := <-r.events:
			batch = append(batch, e)
		default:
			return batch
		}
	}
}

// deliver writes batch to every sink concurrently and waits for all of
// them. Sink failures are logged; they never reach the core.
func (r *Recorder) deliver(ctx context.Context, batch []domain.JournalEvent) {
	if len(batch) == 0 || len(r.sinks) == 0 {
		return
	}
	// Sinks may keep the slice; the caller reuses batch.
	events := append([]domain.JournalEvent(nil), batch...)

	var g errgroup.Group
	for _, s := range r.sinks {
		g.Go(func() error {
			wctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
			defer cancel()
			if err := s.Write(wctx, events); err != nil {
				r.logger.WarnContext(ctx, "journal sink failed",
					slog.String("sink", s.Name()),
					slog.Int("events", len(events)),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

var _ domain.JournalHook = (*Recorder)(nil)
