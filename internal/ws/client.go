package ws

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/metrics"
	"github.com/sam-thetutor/wahala/internal/protocol"
)

const rateLimitWindow = time.Second

// client is one WebSocket connection with its own send goroutine.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	exec   Executor
	roomID string
	userID string
	send   chan []byte

	rateMu       sync.Mutex
	messageCount int
	lastReset    time.Time

	ctx    context.Context
	cancel context.CancelFunc

	closeMu sync.Mutex
	closed  bool
}

func newClient(ctx context.Context, h *Hub, conn *websocket.Conn, roomID, userID string, exec Executor) *client {
	ctx, cancel := context.WithCancel(ctx)

	return &client{
		hub:       h,
		conn:      conn,
		exec:      exec,
		roomID:    roomID,
		userID:    userID,
		send:      make(chan []byte, h.cfg.SendBuffer),
		lastReset: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// writePump owns all writes to the connection, including the health-check pings.
func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(c.ctx, c.hub.cfg.WriteTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				slog.Warn("ws: write failed", "room", c.roomID, "user", c.userID, "error", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.hub.cfg.PongTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				slog.Warn("ws: ping failed", "room", c.roomID, "user", c.userID, "error", err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// readPump decodes commands and executes them in arrival order. Replies go back to this client only.
func (c *client) readPump() {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !stderrors.Is(err, context.Canceled) {
				slog.Info("ws: read ended", "room", c.roomID, "user", c.userID, "error", err)
			}
			return
		}

		if !c.allow() {
			metrics.RateLimited.Inc()
			c.sendEvent(protocol.ErrorEvent(errors.New(errors.CodeResourceExhausted,
				errors.WithReason(errors.ReasonRateLimited), errors.WithMessagef("rate limit exceeded, slow down"))))
			continue
		}

		roomID, cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			c.sendEvent(protocol.ErrorEvent(err))
			continue
		}
		metrics.Messages.WithLabelValues("in", cmd.CommandType()).Inc()

		if roomID != "" && roomID != c.roomID {
			c.sendEvent(protocol.ErrorEvent(errors.Validation("command addressed to room %s on a connection to %s", roomID, c.roomID)))
			continue
		}

		v, err := c.exec.Execute(c.ctx, c.roomID, c.userID, cmd)
		if err != nil {
			c.sendEvent(protocol.ErrorEvent(err))
			continue
		}
		if e, ok := v.(protocol.Event); ok {
			c.sendEvent(e)
		}

		// A repeated join changes nothing and broadcasts nothing, so the joiner gets its view directly.
		if _, ok := cmd.(*protocol.JoinRoom); ok {
			if snap, err := c.exec.Snapshot(c.ctx, c.roomID, c.userID); err == nil {
				c.sendEvent(snap)
			}
		}
	}
}

func (c *client) allow() bool {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()

	now := time.Now()
	if now.Sub(c.lastReset) > rateLimitWindow {
		c.messageCount = 0
		c.lastReset = now
	}

	c.messageCount++
	return c.messageCount <= c.hub.cfg.MaxMessagesPerSecond
}

func (c *client) sendEvent(e protocol.Event) {
	data, err := protocol.Encode(c.roomID, e)
	if err != nil {
		slog.Error("ws: encode event", "room", c.roomID, "type", e.EventType(), "error", err)
		return
	}
	c.enqueue(data, e.EventType())
}

// enqueue never blocks. A client too slow to drain its buffer is disconnected and must resync on reconnect.
func (c *client) enqueue(data []byte, typ string) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
		metrics.Messages.WithLabelValues("out", typ).Inc()
	default:
		metrics.SlowClients.Inc()
		slog.Warn("ws: send buffer full, dropping client", "room", c.roomID, "user", c.userID)
		go c.close(websocket.StatusPolicyViolation, "send buffer full")
	}
}

func (c *client) close(code websocket.StatusCode, reason string) {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	close(c.send)
	c.closeMu.Unlock()

	// The close handshake may take a while, so it runs outside the lock enqueue contends on.
	_ = c.conn.Close(code, reason)
}
