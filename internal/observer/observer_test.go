package observer

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentdyn/infosim/internal/events"
)

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d clients, have %d", n, h.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestHub_StreamsEventsToClient connects a websocket client and checks that
// tapped events arrive with the log envelope intact.
func TestHub_StreamsEventsToClient(t *testing.T) {
	h := NewHub()
	tap := make(chan events.Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx, tap)

	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ws.Close()
	waitForClients(t, h, 1)

	tap <- events.Event{
		Timestamp: "2026-01-02T03:04:05Z",
		EventType: events.TypeAgentAction,
		Data:      json.RawMessage(`{"round":1,"agent_id":"agent_1"}`),
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := ws.ReadJSON(&got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.EventType != events.TypeAgentAction {
		t.Errorf("expected agent_action, got %q", got.EventType)
	}
	var payload struct {
		Round   int    `json:"round"`
		AgentID string `json:"agent_id"`
	}
	if err := got.Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Round != 1 || payload.AgentID != "agent_1" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

// TestHub_BroadcastWithoutClientsDoesNotBlock pushes more events than any
// buffer; with no clients connected the hub must just drop them.
func TestHub_BroadcastWithoutClientsDoesNotBlock(t *testing.T) {
	h := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10*connSendBuf; i++ {
			h.broadcast(events.Event{EventType: events.TypeMessage})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked with no clients")
	}
}

// TestServe_ShutsDownOnContextCancel cancels the serve context and checks
// that the server returns and releases its listener.
func TestServe_ShutsDownOnContextCancel(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx, make(chan events.Event))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()

	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, h) }()

	url := "ws://" + addr
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ws.Close()
	waitForClients(t, h, 1)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after context cancellation")
	}
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("expected the listener to be closed after shutdown")
	}
}

// TestHub_ClientDisconnectIsDetected drops the connection and waits for the
// hub to deregister it.
func TestHub_ClientDisconnectIsDetected(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx, make(chan events.Event))

	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	waitForClients(t, h, 1)
	ws.Close()
	waitForClients(t, h, 0)
}
