// Package ws streams orchestration events to dashboard clients over WebSocket.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/argus/internal/domain/event"
)

const writeTimeout = 5 * time.Second

// conn wraps a single WebSocket connection. An empty sessionID subscribes
// to every orchestration.
type conn struct {
	ws        *websocket.Conn
	cancel    context.CancelFunc
	sessionID string
}

// Hub tracks active connections and fans events out to them. It implements
// eventsink.Sink.
type Hub struct {
	mu      sync.RWMutex
	conns   map[*conn]struct{}
	origins []string
}

// NewHub creates a hub. origins restricts the accepted Origin hosts; empty
// means same-origin only.
func NewHub(origins ...string) *Hub {
	return &Hub{
		conns:   make(map[*conn]struct{}),
		origins: origins,
	}
}

// HandleWS upgrades the request to a WebSocket. The optional session_id
// query parameter limits the feed to one orchestration.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{ws: ws, cancel: cancel, sessionID: r.URL.Query().Get("session_id")}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr, "session_id", c.sessionID)

	// Clients never send; reading detects disconnects and answers pings.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Publish implements eventsink.Sink. Slow or broken clients are dropped.
func (h *Hub) Publish(ctx context.Context, ev *event.Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if c.sessionID == "" || c.sessionID == ev.SessionID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.ws.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("websocket write failed", "session_id", c.sessionID, "error", err)
			h.remove(c)
			_ = c.ws.Close(websocket.StatusPolicyViolation, "write failed")
		}
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*conn]struct{})
	h.mu.Unlock()
	for c := range conns {
		c.cancel()
		_ = c.ws.Close(websocket.StatusGoingAway, "shutting down")
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected", "session_id", c.sessionID)
	}
}
