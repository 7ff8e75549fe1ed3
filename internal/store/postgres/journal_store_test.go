package postgres

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		opts  domain.ListOpts
		query string
		args  int
	}{
		{
			name:  "unfiltered",
			query: "SELECT id, kind, symbol, detail, at FROM journal WHERE 1=1 ORDER BY at DESC, seq DESC",
		},
		{
			name:  "kind and since",
			opts:  domain.ListOpts{Kind: "fill", Since: &since},
			query: "SELECT id, kind, symbol, detail, at FROM journal WHERE 1=1 AND kind = $1 AND at >= $2 ORDER BY at DESC, seq DESC",
			args:  2,
		},
		{
			name:  "paged",
			opts:  domain.ListOpts{Limit: 50, Offset: 100},
			query: "SELECT id, kind, symbol, detail, at FROM journal WHERE 1=1 ORDER BY at DESC, seq DESC LIMIT $1 OFFSET $2",
			args:  2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := listQuery(tt.opts)
			assert.Equal(t, tt.query, q)
			assert.Len(t, args, tt.args)
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_journal.sql"}, names)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/tc?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "tc"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestIntegrationJournalStore(t *testing.T) {
	dsn := os.Getenv("TRADECORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TRADECORE_TEST_POSTGRES_DSN not set")
	}
	c, err := New(t.Context(), ClientConfig{DSN: dsn})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.RunMigrations(t.Context()))
	require.NoError(t, c.RunMigrations(t.Context()), "migrations are idempotent")

	store := NewJournalStore(c.Pool())
	at := time.Now().UTC().Truncate(time.Microsecond)
	id := "it-" + at.Format("150405.000000")
	events := []domain.JournalEvent{
		{ID: id + "-a", Kind: domain.JournalFill, Symbol: "BTC-USD", At: at, Detail: map[string]any{"price": 42020.0}},
		{ID: id + "-b", Kind: domain.JournalAnomaly, At: at.Add(time.Millisecond)},
	}
	require.NoError(t, store.AppendBatch(t.Context(), events))
	require.NoError(t, store.AppendBatch(t.Context(), events), "replays are skipped")

	got, err := store.List(t.Context(), domain.ListOpts{Kind: string(domain.JournalFill), Since: &at, Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, id+"-a", got[0].ID)
	assert.Equal(t, 42020.0, got[0].Detail["price"])
}
