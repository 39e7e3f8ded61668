// Package feed exposes a live websocket stream of session events:
// transcripts as they are recognized, replies as they are produced, and
// failures. It is an observer surface only; nothing in the interaction
// path depends on it.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/discord-voice-bridge/internal/logging"
	"github.com/discord-voice-bridge/internal/voice"
)

const clientBuffer = 32

// Hub fans session events out to connected websocket clients. Publish
// never blocks; a client that cannot keep up loses events and, when its
// buffer stays full, the connection.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Publish implements voice.EventSink.
func (h *Hub) Publish(e voice.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		logging.Warnw("feed: event marshal failed", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			logging.Debugw("feed: slow client dropped", "addr", c.conn.RemoteAddr().String())
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debugw("feed: upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logging.Infow("feed: client connected", "addr", conn.RemoteAddr().String())

	go h.readLoop(c)
	h.writeLoop(c)
}

// readLoop drains inbound frames so pings and close handshakes are
// processed; the feed accepts no client input.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(c)
			return
		}
	}
	// send channel closed: the hub evicted this client
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "too slow"))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Server hosts the hub on its own listener when a feed address is
// configured.
type Server struct {
	hub *Hub
	srv *http.Server
}

func NewServer(addr string, hub *Hub) *Server {
	mux := http.NewServeMux()
	mux.Handle("/events", hub)
	return &Server{
		hub: hub,
		srv: &http.Server{Addr: addr, Handler: mux},
	}
}

// ListenAndServe blocks until the server stops. http.ErrServerClosed is
// reported as a clean exit.
func (s *Server) ListenAndServe() error {
	logging.Infow("feed: listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
