// Package ws streams journal events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	// sendBufferSize is the per-client outgoing queue.
	sendBufferSize = 256
)

// allKinds subscribes a client to every journal kind.
const allKinds = "*"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS and auth middleware in front.
	CheckOrigin: func(*http.Request) bool { return true },
}

// client represents a single WebSocket connection.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	mu    sync.RWMutex
	kinds map[string]bool
}

// subscribeMsg changes which journal kinds a client receives:
// {"action":"subscribe","kinds":["fill","anomaly"]}.
type subscribeMsg struct {
	Action string   `json:"action"`
	Kinds  []string `json:"kinds"`
}

// envelope is what clients receive.
type envelope struct {
	Type  string               `json:"type"`
	Event *domain.JournalEvent `json:"event,omitempty"`
	Mode  string               `json:"mode,omitempty"`
}

type broadcastMsg struct {
	kind string
	data []byte
}

// Hub fans journal events out to connected clients. It is a journal sink:
// Write never blocks, and slow clients miss messages rather than stall the
// journal.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	mode       string
	logger     *slog.Logger
}

// NewHub creates a Hub. mode is reported to clients on connect.
func NewHub(mode string, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 1024),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		mode:       mode,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Name implements journal.Sink.
func (h *Hub) Name() string { return "websocket" }

// Write implements journal.Sink.
func (h *Hub) Write(_ context.Context, events []domain.JournalEvent) error {
	for i := range events {
		data, err := json.Marshal(envelope{Type: "journal", Event: &events[i]})
		if err != nil {
			return err
		}
		select {
		case h.broadcast <- broadcastMsg{kind: string(events[i].Kind), data: data}:
		default:
			h.logger.Warn("ws: broadcast queue full, dropping event", slog.String("kind", string(events[i].Kind)))
		}
	}
	return nil
}

// Run handles registration and broadcasting until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.kind) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWS upgrades the request and registers the client, subscribed to
// every kind until it says otherwise.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		kinds: map[string]bool{allKinds: true},
	}
	if hello, err := json.Marshal(envelope{Type: "hello", Mode: h.mode}); err == nil {
		c.send <- hello
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) wants(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kinds[allKinds] || c.kinds[kind]
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil {
			c.apply(sub)
		}
	}
}

// apply handles a subscription message. "subscribe" replaces the set; "add"
// and "remove" edit it.
func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		c.kinds = make(map[string]bool, len(msg.Kinds))
		for _, k := range msg.Kinds {
			c.kinds[k] = true
		}
	case "add":
		for _, k := range msg.Kinds {
			c.kinds[k] = true
		}
	case "remove":
		for _, k := range msg.Kinds {
			delete(c.kinds, k)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
