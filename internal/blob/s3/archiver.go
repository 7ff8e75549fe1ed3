package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// ArchiverConfig tunes journal archival.
type ArchiverConfig struct {
	// Interval between uploads.
	Interval time.Duration
	// MaxBuffered caps events held between uploads; the oldest are dropped
	// past it when uploads keep failing.
	MaxBuffered int
}

// JournalArchiver buffers journal events and periodically uploads them as
// one JSONL object per flush, partitioned by UTC day.
type JournalArchiver struct {
	writer domain.BlobWriter
	cfg    ArchiverConfig
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	pending []domain.JournalEvent
	dropped int
}

// NewArchiver creates a JournalArchiver uploading through writer.
func NewArchiver(writer domain.BlobWriter, cfg ArchiverConfig, logger *slog.Logger) *JournalArchiver {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = 100_000
	}
	return &JournalArchiver{
		writer: writer,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "journal_archiver")),
	}
}

// Name identifies the archiver when used as a journal sink.
func (a *JournalArchiver) Name() string { return "s3_archive" }

// Write buffers events for the next upload.
func (a *JournalArchiver) Write(_ context.Context, events []domain.JournalEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, events...)
	a.trimLocked()
	return nil
}

func (a *JournalArchiver) trimLocked() {
	if over := len(a.pending) - a.cfg.MaxBuffered; over > 0 {
		a.pending = a.pending[over:]
		a.dropped += over
	}
}

// Run uploads on every interval and once more on shutdown.
func (a *JournalArchiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := a.Flush(flushCtx); err != nil {
				a.logger.Error("final journal upload failed", slog.String("error", err.Error()))
			}
			return nil
		case <-ticker.C:
			if _, err := a.Flush(ctx); err != nil {
				a.logger.WarnContext(ctx, "journal upload failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Flush uploads everything buffered and returns the object path, or "" when
// there was nothing to upload. On failure the events are kept for the next
// attempt.
func (a *JournalArchiver) Flush(ctx context.Context) (string, error) {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	dropped := a.dropped
	a.dropped = 0
	a.mu.Unlock()

	if dropped > 0 {
		a.logger.WarnContext(ctx, "journal events dropped before archival", slog.Int("count", dropped))
	}
	if len(batch) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(batch)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive journal marshal: %w", err)
	}
	path := archivePath(a.now().UTC())
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		a.mu.Lock()
		a.pending = append(batch, a.pending...)
		a.trimLocked()
		a.mu.Unlock()
		return "", fmt.Errorf("s3blob: archive journal upload: %w", err)
	}

	a.logger.InfoContext(ctx, "journal archived",
		slog.String("path", path),
		slog.Int("events", len(batch)),
		slog.Int("bytes", len(buf)),
	)
	return path, nil
}

// archivePath builds the object key for one upload:
//
//	journal/2026-03-02/093000-<uuid>.jsonl
func archivePath(at time.Time) string {
	return fmt.Sprintf("journal/%s/%s-%s.jsonl", at.Format("2006-01-02"), at.Format("150405"), uuid.NewString())
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
