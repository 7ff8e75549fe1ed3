package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// JournalStore implements domain.JournalStore over the append-only journal
// table.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a JournalStore backed by the given pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

const insertJournal = `INSERT INTO journal (id, kind, symbol, detail, at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`

// AppendBatch inserts events in one round trip. Events already stored are
// skipped so a retried batch is harmless.
func (s *JournalStore) AppendBatch(ctx context.Context, events []domain.JournalEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		var detail []byte
		if len(e.Detail) > 0 {
			b, err := json.Marshal(e.Detail)
			if err != nil {
				return fmt.Errorf("postgres: marshal journal detail %s: %w", e.ID, err)
			}
			detail = b
		}
		batch.Queue(insertJournal, e.ID, string(e.Kind), e.Symbol, detail, e.At)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: append journal batch (%d): %w", len(events), err)
	}
	return nil
}

// List returns events newest first, filtered by kind and time window.
func (s *JournalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.JournalEvent, error) {
	query, args := listQuery(opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal: %w", err)
	}
	defer rows.Close()

	var events []domain.JournalEvent
	for rows.Next() {
		var (
			e      domain.JournalEvent
			kind   string
			detail []byte
		)
		if err := rows.Scan(&e.ID, &kind, &e.Symbol, &detail, &e.At); err != nil {
			return nil, fmt.Errorf("postgres: scan journal: %w", err)
		}
		e.Kind = domain.JournalKind(kind)
		if detail != nil {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal journal detail %s: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list journal rows: %w", err)
	}
	return events, nil
}

func listQuery(opts domain.ListOpts) (string, []any) {
	query := `SELECT id, kind, symbol, detail, at FROM journal WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, opts.Kind)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY at DESC, seq DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

// Name identifies the store when used as a journal sink.
func (s *JournalStore) Name() string { return "postgres" }

// Write implements the journal sink contract.
func (s *JournalStore) Write(ctx context.Context, events []domain.JournalEvent) error {
	return s.AppendBatch(ctx, events)
}

var _ domain.JournalStore = (*JournalStore)(nil)
