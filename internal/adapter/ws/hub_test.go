package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/argus/internal/domain/event"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func waitConns(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.ConnectionCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, got %d", n, h.ConnectionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func read(t *testing.T, c *websocket.Conn) event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestHubPublishNoConnections(t *testing.T) {
	hub := NewHub()
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
	if err := hub.Publish(context.Background(), &event.Event{Type: event.TypePhaseStart}); err != nil {
		t.Fatal(err)
	}
}

func TestHubPublishMarshalError(t *testing.T) {
	hub := NewHub()
	if err := hub.Publish(context.Background(), &event.Event{Payload: make(chan int)}); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.remove(&conn{cancel: cancel})
}

func TestHubSessionFilter(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	all := dial(t, srv, "")
	only := dial(t, srv, "?session_id=s2")
	waitConns(t, hub, 2)

	ctx := context.Background()
	_ = hub.Publish(ctx, &event.Event{ID: "1", Type: event.TypePhaseStart, SessionID: "s1"})
	_ = hub.Publish(ctx, &event.Event{ID: "2", Type: event.TypePhaseEnd, SessionID: "s2"})

	if ev := read(t, all); ev.ID != "1" {
		t.Fatalf("expected event 1 first, got %s", ev.ID)
	}
	if ev := read(t, all); ev.ID != "2" {
		t.Fatalf("expected event 2, got %s", ev.ID)
	}
	if ev := read(t, only); ev.ID != "2" || ev.SessionID != "s2" {
		t.Fatalf("filtered client got %+v", ev)
	}
}

func TestHubDisconnect(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	c := dial(t, srv, "")
	waitConns(t, hub, 1)
	_ = c.Close(websocket.StatusNormalClosure, "")
	waitConns(t, hub, 0)
}
