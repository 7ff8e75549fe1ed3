package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSConfig configures the websocket tick feed.
type WSConfig struct {
	URL    string
	Header http.Header
	// Subscribe is sent verbatim after every (re)connect when non-empty.
	Subscribe []byte
	// Reconnect backoff doubles from ReconnectDelay up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// WSFeed reads ticks from a websocket endpoint and reconnects with backoff
// when the connection drops.
type WSFeed struct {
	cfg    WSConfig
	router Router
	logger *slog.Logger
}

// NewWSFeed creates a WSFeed.
func NewWSFeed(cfg WSConfig, router Router, logger *slog.Logger) *WSFeed {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = 60 * time.Second
	}
	return &WSFeed{
		cfg:    cfg,
		router: router,
		logger: logger.With(slog.String("component", "ws_feed")),
	}
}

// Run keeps a connection open until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	delay := f.cfg.ReconnectDelay
	for {
		routed, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if routed > 0 {
			delay = f.cfg.ReconnectDelay
		}
		f.logger.WarnContext(ctx, "tick websocket disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", delay),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
		delay = min(delay*2, f.cfg.MaxReconnectDelay)
	}
}

// runConnection dials, subscribes and routes ticks until the connection
// fails. It returns how many messages were routed.
func (f *WSFeed) runConnection(ctx context.Context) (int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, f.cfg.Header)
	if err != nil {
		return 0, fmt.Errorf("feed: dial %s: %w", f.cfg.URL, err)
	}
	defer conn.Close()

	if len(f.cfg.Subscribe) > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, f.cfg.Subscribe); err != nil {
			return 0, fmt.Errorf("feed: subscribe: %w", err)
		}
	}
	f.logger.InfoContext(ctx, "tick websocket connected", slog.String("url", f.cfg.URL))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go f.pingLoop(ctx, conn, stop)

	routed := 0
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return routed, fmt.Errorf("feed: read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		ticks, err := DecodeTicks(payload)
		if err != nil {
			f.logger.WarnContext(ctx, "tick skipped", slog.String("error", err.Error()))
			continue
		}
		for _, t := range ticks {
			f.router.Route(ctx, t)
		}
		routed++
	}
}

// pingLoop keeps the connection alive and closes it when ctx is cancelled,
// which unblocks the reader.
func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
