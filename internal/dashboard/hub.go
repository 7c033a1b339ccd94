// Package dashboard serves the chaos proxy's event stream and run-history
// endpoints, per spec §4.9: a chi-routed, zap-logged HTTP server exposing a
// best-effort WebSocket event broadcaster plus a handful of read-only
// run-history endpoints.
package dashboard

import (
	"net/http"
	"sync"

	"github.com/agentchaos/chaosproxy/internal/events"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub fans out dashboard events to every connected WebSocket subscriber. A
// slow or disconnected subscriber is dropped rather than allowed to block
// the broadcaster, per spec §4.9 "disconnected subscribers are silently
// dropped".
type Hub struct {
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan events.Event
}

// NewHub constructs an empty Hub.
func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboard is a developer tool with no cross-origin concerns,
			// so any origin is accepted.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Broadcast implements events.Broadcaster. It never blocks: subscribers
// whose outbound queue is full are disconnected.
func (h *Hub) Broadcast(e events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- e:
		default:
			h.logger.Warnw("dashboard subscriber queue full, dropping connection")
			delete(h.clients, c)
			close(c.send)
			c.conn.Close()
		}
	}
}

// ServeWS upgrades the request to a WebSocket and streams events to it
// until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("dashboard websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan events.Event, 64)}
	h.mu.Lock()
	h.clients[sub] = struct{}{}
	h.mu.Unlock()

	go h.readLoop(sub)
	h.writeLoop(sub)
}

// readLoop discards client frames, only watching for close/error so the
// write loop can clean up; dashboard subscribers never send data.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.remove(sub)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	for e := range sub.send {
		if err := sub.conn.WriteJSON(e); err != nil {
			h.remove(sub)
			return
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[sub]; ok {
		delete(h.clients, sub)
		close(sub.send)
	}
	sub.conn.Close()
}
