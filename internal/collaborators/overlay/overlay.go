// Package overlay implements the TargetSink collaborator (spec.md §6):
// it broadcasts target and reticle updates to any connected overlay
// client as JSON frames over WebSocket, in the register/unregister/
// broadcast hub shape of Pricilla/internal/livefeed.WebSocketHub — but
// with Conn typed as a real *websocket.Conn instead of the teacher's
// interface{} placeholder.
package overlay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/asgard/fovea/internal/tracking"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the wire shape pushed to every connected overlay client.
type Message struct {
	Type      string    `json:"type"`
	X         int       `json:"x,omitempty"`
	Y         int       `json:"y,omitempty"`
	Size      int       `json:"size,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// client is one connected overlay viewer.
type client struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan Message
}

// Hub implements tracking.TargetSink over a set of WebSocket clients.
type Hub struct {
	logger *logrus.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	register   chan *client
	unregister chan *client
}

// NewHub constructs an idle Hub; call Run to start its broadcast loop.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run drives client registration/unregistration until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*client]struct{})
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.WithField("client", c.id).Debug("overlay client disconnected")
		}
	}
}

// ServeHTTP upgrades an incoming request to a WebSocket overlay
// connection and pumps outgoing messages to it until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("overlay websocket upgrade failed")
		return
	}
	c := &client{id: uuid.New(), conn: conn, send: make(chan Message, 8)}
	h.logger.WithField("client", c.id).Debug("overlay client connected")
	h.register <- c
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			h.unregister <- c
			return
		}
	}
}

// readPump discards client input but detects disconnects, mirroring the
// teacher hub's "client buffer full, disconnect" cleanup path.
func (h *Hub) readPump(c *client) {
	defer func() { h.unregister <- c }()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default: // slow client, drop this frame rather than block the tracker
		}
	}
}

// UpdateTarget implements tracking.TargetSink.
func (h *Hub) UpdateTarget(ctx context.Context, report tracking.TargetReport, ok bool) error {
	if !ok {
		h.broadcast(Message{Type: "target_none", Timestamp: time.Now()})
		return nil
	}
	h.broadcast(Message{Type: "target", X: report.X, Y: report.Y, Size: report.Size, Timestamp: time.Now()})
	return nil
}

// UpdateReticleSize implements tracking.TargetSink.
func (h *Hub) UpdateReticleSize(ctx context.Context, size int) error {
	h.broadcast(Message{Type: "reticle_size", Size: size, Timestamp: time.Now()})
	return nil
}
