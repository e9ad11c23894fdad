// Package observer serves the live event stream over websocket so a browser
// or CLI can watch a simulation as it runs. It consumes the event logger's
// tap channel; the simulation never blocks on an observer — a slow connection
// drops events instead of stalling a round.
package observer

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentdyn/infosim/internal/events"
)

const (
	connSendBuf  = 64
	writeTimeout = 5 * time.Second
)

// Hub fans the event tap out to every connected websocket client.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]struct{}
}

type conn struct {
	ws   *websocket.Conn
	send chan events.Event
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The observer feed is read-only and unauthenticated by design;
			// bind it to localhost if that matters for your deployment.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

// Run pumps the tap into every connection until the tap closes or ctx is
// cancelled. Call it on its own goroutine.
func (h *Hub) Run(ctx context.Context, tap <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case e, ok := <-tap:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(e)
		}
	}
}

// broadcast never blocks: a connection whose buffer is full misses the event.
func (h *Hub) broadcast(e events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c.send <- e:
		default:
			slog.Warn("[OBSERVER] slow consumer, event dropped", "event_type", e.EventType)
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("[OBSERVER] upgrade failed", "error", err)
		return
	}
	c := &conn{ws: ws, send: make(chan events.Event, connSendBuf)}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	slog.Info("[OBSERVER] client connected", "remote", ws.RemoteAddr().String(), "clients", n)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) writeLoop(c *conn) {
	for e := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteJSON(e); err != nil {
			h.drop(c)
			return
		}
	}
	c.ws.Close()
}

// readLoop discards inbound frames; its job is noticing the close.
func (h *Hub) readLoop(c *conn) {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.ws.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.drop(c)
	}
}

// ClientCount reports the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ListenAndServe serves the hub's websocket endpoint on addr until ctx is
// cancelled, then shuts the server down so the listener does not outlive the
// simulation. Returns nil on a clean shutdown.
func ListenAndServe(ctx context.Context, addr string, h *Hub) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln, h)
}

func serve(ctx context.Context, ln net.Listener, h *Hub) error {
	srv := &http.Server{Handler: h}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
