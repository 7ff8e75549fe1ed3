package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type captureSender struct {
	name   string
	titles []string
	err    error
}

func (s *captureSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *captureSender) Name() string { return s.name }

var at = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func TestNotifierFiltersKinds(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, nil, testLogger)

	err := n.Write(t.Context(), []domain.JournalEvent{
		{Kind: domain.JournalFill, Symbol: "BTC-USD", At: at},
		{Kind: domain.JournalAnomaly, Symbol: "BTC-USD", At: at},
		{Kind: domain.JournalModeChanged, At: at},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ANOMALY BTC-USD", "MODE CHANGED"}, s.titles)
}

func TestNotifierConfiguredKinds(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, []string{" fill "}, testLogger)

	require.NoError(t, n.Write(t.Context(), []domain.JournalEvent{
		{Kind: domain.JournalFill, At: at},
		{Kind: domain.JournalAnomaly, At: at},
	}))
	assert.Equal(t, []string{"FILL"}, s.titles)
}

func TestNotifierKeepsDeliveringAfterFailure(t *testing.T) {
	bad := &captureSender{name: "bad", err: errors.New("down")}
	good := &captureSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger)

	err := n.Write(t.Context(), []domain.JournalEvent{{Kind: domain.JournalAnomaly, At: at}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.titles, 1)
}

func TestFormat(t *testing.T) {
	title, msg := Format(domain.JournalEvent{
		Kind:   domain.JournalRiskRejected,
		Symbol: "ETH-USD",
		At:     at,
		Detail: map[string]any{"reason": "size_exceeded", "mode": "active"},
	})
	assert.Equal(t, "RISK REJECTED ETH-USD", title)
	assert.Equal(t, "2026-03-02 09:30:00 UTC\nmode=active\nreason=size_exceeded", msg)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(t.Context(), "ANOMALY", "body"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*ANOMALY*\nbody", got["text"])
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(t.Context(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
