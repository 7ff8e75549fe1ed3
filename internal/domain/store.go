package domain

import (
	"context"
	"time"
)

// ListOpts controls pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Kind   string
	Since  *time.Time
	Until  *time.Time
}

// JournalStore persists journal events in an append-only table.
type JournalStore interface {
	AppendBatch(ctx context.Context, events []JournalEvent) error
	List(ctx context.Context, opts ListOpts) ([]JournalEvent, error)
}
