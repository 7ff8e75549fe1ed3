package control

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type kinds struct {
	mu  sync.Mutex
	got []domain.JournalKind
}

func (k *kinds) Append(e domain.JournalEvent) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.got = append(k.got, e.Kind)
}

func (k *kinds) list() []domain.JournalKind {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]domain.JournalKind(nil), k.got...)
}

type chanSub struct{ ch chan []byte }

func (s chanSub) Subscribe(context.Context, string) (<-chan []byte, error) { return s.ch, nil }

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"mode":"close_only"}`))
	require.NoError(t, err)
	require.NotNil(t, cmd.Mode)
	assert.Equal(t, domain.ModeCloseOnly, *cmd.Mode)
	assert.Nil(t, cmd.Limits)

	cmd, err = ParseCommand([]byte(`{"limits":{"max_position_size":5,"max_open_positions":2}}`))
	require.NoError(t, err)
	require.NotNil(t, cmd.Limits)
	assert.Equal(t, domain.RiskLimits{MaxPositionSize: 5, MaxOpenPositions: 2}, *cmd.Limits)

	_, err = ParseCommand([]byte(`{"mode":"turbo"}`))
	require.ErrorIs(t, err, domain.ErrInvalidMode)

	_, err = ParseCommand([]byte(`{}`))
	require.ErrorIs(t, err, ErrEmptyCommand)
}

func TestSetModeJournalsChanges(t *testing.T) {
	j := &kinds{}
	c := New(domain.ModeActive, domain.RiskLimits{}, j, testLogger)
	rx := c.ModeSlot().Subscribe()

	require.NoError(t, c.SetMode(t.Context(), domain.ModePaused))
	require.NoError(t, c.SetMode(t.Context(), domain.ModePaused))
	assert.Equal(t, domain.ModePaused, c.Mode())
	assert.Equal(t, []domain.JournalKind{domain.JournalModeChanged}, j.list(), "repeating a mode is a no-op")

	got, err := rx.WaitForChange(t.Context())
	require.NoError(t, err)
	assert.Equal(t, domain.ModePaused, got)

	require.Error(t, c.SetMode(t.Context(), domain.TradingMode(42)))
}

func TestApplyLimitsThenMode(t *testing.T) {
	j := &kinds{}
	c := New(domain.ModeStopped, domain.RiskLimits{MaxPositionSize: 1}, j, testLogger)
	mode := domain.ModeActive
	limits := domain.RiskLimits{MaxPositionSize: 10, MaxDailyLoss: 500}

	require.NoError(t, c.Apply(t.Context(), Command{Mode: &mode, Limits: &limits}))
	assert.Equal(t, limits, c.Limits())
	assert.Equal(t, domain.ModeActive, c.Mode())
	assert.Equal(t, []domain.JournalKind{domain.JournalLimitsChanged, domain.JournalModeChanged}, j.list())

	require.ErrorIs(t, c.Apply(t.Context(), Command{}), ErrEmptyCommand)
}

func TestRunIgnoresInvalidCommands(t *testing.T) {
	c := New(domain.ModeActive, domain.RiskLimits{}, nil, testLogger)
	sub := chanSub{ch: make(chan []byte, 3)}
	sub.ch <- []byte(`not json`)
	sub.ch <- []byte(`{"mode":"turbo"}`)
	sub.ch <- []byte(`{"mode":"close_only"}`)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, sub, "") }()

	require.Eventually(t, func() bool { return c.Mode() == domain.ModeCloseOnly }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
