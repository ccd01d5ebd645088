// Package live implements the Live Delivery Channel (spec.md §4.I): a
// websocket pub/sub hub keyed by internal user_id, so a connected client
// sees new messages and status changes without polling B.
package live

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sipeed/gatewaybridge/pkg/logger"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

// sendBufferSize bounds how many pending pushes a slow client tolerates
// before the Hub drops further pushes to it, mirroring the bounded send channel
// idiom the retrieval pack's websocket session type uses to keep one slow
// client from blocking the broadcaster (tinode/chat's Session.send).
const sendBufferSize = 64

const writeWait = 10 * time.Second

// conn is one websocket connection subscribed under a user_id. A user may
// have several (multiple tabs/devices); each gets its own send loop so one
// slow consumer never blocks delivery to the others.
type conn struct {
	ws   *websocket.Conn
	send chan []byte
}

// Hub is the process-wide registry of live connections.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*conn]struct{} // user_id -> set of connections
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*conn]struct{})}
}

// Register adopts ws under userID and starts its write pump; the returned
// func unregisters the connection (call it from the handler's defer once
// the read loop returns).
func (h *Hub) Register(userID string, ws *websocket.Conn) (unregister func()) {
	c := &conn{ws: ws, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*conn]struct{})
	}
	h.conns[userID][c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)

	return func() {
		h.mu.Lock()
		delete(h.conns[userID], c)
		if len(h.conns[userID]) == 0 {
			delete(h.conns, userID)
		}
		h.mu.Unlock()
		close(c.send)
	}
}

func (h *Hub) writePump(c *conn) {
	for payload := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// liveEvent is the envelope pushed to subscribed clients.
type liveEvent struct {
	Type    string        `json:"type"`
	Message model.Message `json:"message"`
}

// Notify pushes msg to every live connection registered for userID. For a
// connection whose send buffer is full, this push is dropped (the
// connection stays registered) rather than blocking the
// Router/Status Propagator goroutine that called Notify (§4.I: "delivery to
// I is best-effort — a disconnected or slow client never blocks the
// authoritative write path").
func (h *Hub) Notify(ctx context.Context, userID string, msg model.Message) {
	h.mu.RLock()
	conns := h.conns[userID]
	targets := make([]*conn, 0, len(conns))
	for c := range conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(liveEvent{Type: "message", Message: msg})
	if err != nil {
		logger.ErrorCF("live", "marshal live event failed", map[string]any{"message_id": msg.MessageID, "error": err.Error()})
		return
	}

	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			logger.WarnCF("live", "dropping push to slow client", map[string]any{"user_id": userID, "message_id": msg.MessageID})
		}
	}
}

// ConnectedUsers reports how many distinct users currently have at least
// one live connection, for metrics/health.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
