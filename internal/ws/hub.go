// Package ws is the server side of a room's duplex channel. A Hub tracks the WebSocket clients attached to each
// room, fans room events out to them and forwards their commands to the room actors.
package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/sam-thetutor/wahala/internal/metrics"
	"github.com/sam-thetutor/wahala/internal/protocol"
)

const (
	defaultPingInterval         = 15 * time.Second
	defaultPongTimeout          = 10 * time.Second
	defaultWriteTimeout         = 10 * time.Second
	defaultSendBuffer           = 256
	defaultMaxMessagesPerSecond = 10
)

// Executor runs client commands against rooms.
type Executor interface {
	Execute(ctx context.Context, roomID, userID string, cmd protocol.Command) (any, error)
	Snapshot(ctx context.Context, roomID, userID string) (*protocol.StateSnapshot, error)
}

type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int

	MaxMessagesPerSecond int
}

type Hub struct {
	cfg Config

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

func NewHub(c Config) *Hub {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	if c.MaxMessagesPerSecond <= 0 {
		c.MaxMessagesPerSecond = defaultMaxMessagesPerSecond
	}

	return &Hub{
		cfg:   c,
		rooms: make(map[string]map[*client]struct{}),
	}
}

// Serve attaches conn to roomID on behalf of userID and blocks until the connection ends. The client first
// receives a state snapshot, then every room event, and its commands are executed by exec.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, roomID, userID string, exec Executor) {
	c := newClient(ctx, h, conn, roomID, userID, exec)

	h.register(c)
	defer h.unregister(c)

	if snap, err := exec.Snapshot(ctx, roomID, userID); err == nil {
		c.sendEvent(snap)
	} else {
		c.sendEvent(protocol.ErrorEvent(err))
	}

	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[c.roomID] == nil {
		h.rooms[c.roomID] = make(map[*client]struct{})
	}
	h.rooms[c.roomID][c] = struct{}{}
	metrics.ActiveConnections.Inc()

	slog.Info("ws: client registered", "room", c.roomID, "user", c.userID, "connections", len(h.rooms[c.roomID]))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if clients, ok := h.rooms[c.roomID]; ok {
		if _, ok := clients[c]; ok {
			delete(clients, c)
			metrics.ActiveConnections.Dec()
		}
		if len(clients) == 0 {
			delete(h.rooms, c.roomID)
		}
	}
	h.mu.Unlock()

	c.close(websocket.StatusNormalClosure, "")
	slog.Info("ws: client unregistered", "room", c.roomID, "user", c.userID)
}

// Broadcast sends e to every client in roomID. It never blocks: a client whose buffer is full is dropped.
func (h *Hub) Broadcast(roomID string, e protocol.Event) {
	data, err := protocol.Encode(roomID, e)
	if err != nil {
		slog.Error("ws: encode event", "room", roomID, "type", e.EventType(), "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[roomID] {
		c.enqueue(data, e.EventType())
	}
}

// Send delivers e to the clients userID has open in roomID.
func (h *Hub) Send(roomID, userID string, e protocol.Event) {
	data, err := protocol.Encode(roomID, e)
	if err != nil {
		slog.Error("ws: encode event", "room", roomID, "type", e.EventType(), "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[roomID] {
		if c.userID == userID {
			c.enqueue(data, e.EventType())
		}
	}
}

// Connections returns the number of clients attached to roomID.
func (h *Hub) Connections(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[roomID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*client
	for _, clients := range h.rooms {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.close(websocket.StatusGoingAway, "server shutting down")
	}
}
