// Package wsclient keeps a participant attached to a room over an unreliable network. It joins the room when it
// connects, watches the connection with periodic pings and reconnects according to a Policy until the caller
// disconnects on purpose. It knows nothing about quizzes: everything it learns is handed to event handlers.
package wsclient

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/protocol"
)

const (
	defaultJoinTimeout    = 3 * time.Second
	defaultJoinAttempts   = 3
	defaultHealthInterval = 10 * time.Second
	defaultHealthTimeout  = 5 * time.Second
	defaultHealthMisses   = 2
	defaultWriteTimeout   = 5 * time.Second
)

type State string

const (
	StateConnected       State = "connected"
	StateDisconnected    State = "disconnected"
	StateReconnecting    State = "reconnecting"
	StateReconnected     State = "reconnected"
	StateReconnectFailed State = "reconnect_failed"
)

// StateChange describes a connection lifecycle transition.
type StateChange struct {
	State   State
	Reason  Reason
	Attempt int
	Delay   time.Duration
	Err     error
}

type Config struct {
	URL       string
	RoomID    string
	UserID    string
	Transport Transport
	Policy    Policy

	// JoinTimeout bounds the wait for a join acknowledgment; the join is sent up to JoinAttempts times.
	JoinTimeout  time.Duration
	JoinAttempts int

	HealthInterval time.Duration
	HealthTimeout  time.Duration
	// HealthMisses is how many consecutive unanswered pings declare the connection dead.
	HealthMisses int

	WriteTimeout time.Duration
}

type Client struct {
	cfg Config

	mu       sync.RWMutex
	handlers map[string][]func(protocol.Event)
	watchers []func(StateChange)
	cur      *link

	manual  atomic.Bool
	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(c Config) *Client {
	if c.Transport == nil {
		c.Transport = WebSocket{}
	}
	if c.Policy == (Policy{}) {
		c.Policy = DefaultPolicy()
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = defaultJoinTimeout
	}
	if c.JoinAttempts <= 0 {
		c.JoinAttempts = defaultJoinAttempts
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = defaultHealthInterval
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = defaultHealthTimeout
	}
	if c.HealthMisses <= 0 {
		c.HealthMisses = defaultHealthMisses
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      c,
		handlers: make(map[string][]func(protocol.Event)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnEvent registers h for server events of the given type. Handlers run on the connection's read goroutine.
func (c *Client) OnEvent(typ string, h func(protocol.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[typ] = append(c.handlers[typ], h)
}

// OnState registers h for connection lifecycle transitions.
func (c *Client) OnState(h func(StateChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.watchers = append(c.watchers, h)
}

// Connect dials the room and joins it. It fails if the join is never acknowledged; after it succeeds, lost
// connections are re-established in the background.
func (c *Client) Connect(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.Precondition(errors.ReasonInvalidTransition, "client already connected")
	}

	l, err := c.open(ctx)
	if err != nil {
		c.started.Store(false)
		return err
	}

	c.setLink(l)
	c.notify(StateChange{State: StateConnected})

	go c.supervise(l)
	return nil
}

// Emit sends a command to the room. It reports false when there is no live connection or the write failed.
func (c *Client) Emit(cmd protocol.Command) bool {
	l := c.link()
	if l == nil {
		return false
	}

	return l.send(c.ctx, c.cfg.RoomID, cmd, c.cfg.WriteTimeout) == nil
}

// Disconnect closes the connection and turns automatic reconnection off for good.
func (c *Client) Disconnect() {
	if c.manual.Swap(true) {
		return
	}

	c.cancel()
	if l := c.link(); l != nil {
		l.fail(ReasonClientDisconnect)
	}
	c.setLink(nil)
	c.notify(StateChange{State: StateDisconnected, Reason: ReasonClientDisconnect})
}

// Connected reports whether a joined connection is currently live.
func (c *Client) Connected() bool {
	return c.link() != nil
}

func (c *Client) supervise(l *link) {
	for {
		select {
		case <-l.done:
		case <-c.ctx.Done():
			return
		}

		c.setLink(nil)
		if c.manual.Load() {
			return
		}

		reason := l.reason
		slog.Info("wsclient: disconnected", "room", c.cfg.RoomID, "reason", reason)
		c.notify(StateChange{State: StateDisconnected, Reason: reason})

		next, ok := c.reconnect(reason)
		if !ok {
			return
		}
		l = next
	}
}

// reconnect redials until a link is up or the policy gives up. reason is the disconnect that started the sequence
// and is kept for every attempt. After a failed redial the remaining attempts back off whatever the reason was.
func (c *Client) reconnect(reason Reason) (*link, bool) {
	redialFailed := false
	for attempt := 1; ; attempt++ {
		delay, ok := c.cfg.Policy.NextDelay(reason, attempt)
		if ok && redialFailed {
			delay = c.cfg.Policy.Backoff(attempt)
		}
		if !ok {
			err := errors.New(errors.CodeUnavailable, errors.WithReason(errors.ReasonReconnectFailed),
				errors.WithMessagef("gave up reconnecting to room %s after %d attempt(s)", c.cfg.RoomID, attempt-1))
			slog.Warn("wsclient: reconnect failed", "room", c.cfg.RoomID, "reason", reason, "attempts", attempt-1)
			c.notify(StateChange{State: StateReconnectFailed, Reason: reason, Attempt: attempt - 1, Err: err})
			return nil, false
		}

		c.notify(StateChange{State: StateReconnecting, Reason: reason, Attempt: attempt, Delay: delay})

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-c.ctx.Done():
			t.Stop()
			return nil, false
		}

		l, err := c.open(c.ctx)
		if err == nil {
			if c.manual.Load() {
				l.fail(ReasonClientDisconnect)
				return nil, false
			}
			c.setLink(l)
			slog.Info("wsclient: reconnected", "room", c.cfg.RoomID, "attempt", attempt)
			c.notify(StateChange{State: StateReconnected, Attempt: attempt})
			return l, true
		}

		redialFailed = true
		slog.Debug("wsclient: reconnect attempt failed", "room", c.cfg.RoomID, "attempt", attempt,
			"cause", reasonOf(err), "error", err)
	}
}

// open dials and performs the join handshake.
func (c *Client) open(ctx context.Context) (*link, error) {
	conn, err := c.cfg.Transport.Dial(ctx, c.cfg.URL)
	if err != nil {
		return nil, errors.Transient(err, "dial %s", c.cfg.URL)
	}

	l := newLink(conn)
	go c.read(l)
	go c.watch(l)

	if err := c.join(ctx, l); err != nil {
		l.fail(reasonOf(err))
		return nil, err
	}

	return l, nil
}

// join sends join_room until the room acknowledges it. A dropped join message would otherwise leave a connected
// client outside the room.
func (c *Client) join(ctx context.Context, l *link) error {
	for attempt := 1; attempt <= c.cfg.JoinAttempts; attempt++ {
		if err := l.send(ctx, c.cfg.RoomID, &protocol.JoinRoom{UserID: c.cfg.UserID}, c.cfg.WriteTimeout); err != nil {
			return errors.Transient(err, "send join")
		}

		t := time.NewTimer(c.cfg.JoinTimeout)
		select {
		case <-l.acked:
			t.Stop()
			return nil
		case e := <-l.rejected:
			t.Stop()
			return errors.Precondition(errors.Reason(e.Reason), "join rejected: %s", e.Message)
		case <-l.done:
			t.Stop()
			return errors.Transient(nil, "connection lost during join: %s", l.reason)
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
			slog.Warn("wsclient: join not acknowledged", "room", c.cfg.RoomID, "attempt", attempt)
		}
	}

	return errors.Precondition(errors.ReasonJoinTimeout, "join of room %s not acknowledged after %d attempt(s)",
		c.cfg.RoomID, c.cfg.JoinAttempts)
}

func (c *Client) read(l *link) {
	for {
		data, err := l.conn.Read(c.ctx)
		if err != nil {
			l.fail(classify(err))
			return
		}

		_, e, err := protocol.DecodeEvent(data)
		if err != nil {
			slog.Warn("wsclient: undecodable event", "room", c.cfg.RoomID, "error", err)
			continue
		}

		if c.acknowledges(e) {
			l.ack()
		}
		if pe, ok := e.(*protocol.Error); ok && rejectsJoin(pe) {
			select {
			case l.rejected <- pe:
			default:
			}
		}

		c.dispatch(e)
	}
}

// watch pings the server while the link lives. Missed pings only count against the link; once enough
// accumulate the link is closed and reconnection takes the backoff path.
func (c *Client) watch(l *link) {
	if c.cfg.HealthInterval < 0 {
		return
	}

	t := time.NewTicker(c.cfg.HealthInterval)
	defer t.Stop()

	misses := 0
	for {
		select {
		case <-l.done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.cfg.HealthTimeout)
			err := l.conn.Ping(ctx)
			cancel()

			if err == nil {
				misses = 0
				continue
			}

			misses++
			slog.Debug("wsclient: ping unanswered", "room", c.cfg.RoomID, "misses", misses, "error", err)
			if misses >= c.cfg.HealthMisses {
				l.fail(ReasonHealthCheck)
				return
			}
		}
	}
}

// acknowledges reports whether e shows this client as a participant of the room.
func (c *Client) acknowledges(e protocol.Event) bool {
	var parts []protocol.ParticipantInfo
	switch e := e.(type) {
	case *protocol.ParticipantJoined:
		return e.UserID == c.cfg.UserID
	case *protocol.RoomStats:
		parts = e.Participants
	case *protocol.StateSnapshot:
		parts = e.Stats.Participants
	}

	for _, p := range parts {
		if p.UserID == c.cfg.UserID {
			return true
		}
	}
	return false
}

func (c *Client) dispatch(e protocol.Event) {
	c.mu.RLock()
	hs := c.handlers[e.EventType()]
	c.mu.RUnlock()

	for _, h := range hs {
		h(e)
	}
}

func (c *Client) notify(s StateChange) {
	c.mu.RLock()
	ws := c.watchers
	c.mu.RUnlock()

	for _, w := range ws {
		w(s)
	}
}

func (c *Client) link() *link {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.cur
}

func (c *Client) setLink(l *link) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cur = l
}

func rejectsJoin(e *protocol.Error) bool {
	switch errors.Reason(e.Reason) {
	case errors.ReasonRoomFull, errors.ReasonRoomNotActive:
		return true
	default:
		return false
	}
}

func classify(err error) Reason {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return ReasonPingTimeout
	case stderrors.Is(err, ErrServerClosed):
		return ReasonServerDisconnect
	default:
		return ReasonTransportError
	}
}

func reasonOf(err error) Reason {
	switch {
	case errors.HasReason(err, errors.ReasonRoomFull):
		return ReasonRoomFull
	case errors.HasReason(err, errors.ReasonRoomNotActive):
		return ReasonRoomClosed
	case errors.HasReason(err, errors.ReasonJoinTimeout):
		return ReasonJoinTimeout
	default:
		return ReasonTransportError
	}
}

// link is one dialed connection. done closes exactly once, after reason is set.
type link struct {
	conn     Conn
	acked    chan struct{}
	rejected chan *protocol.Error
	done     chan struct{}
	reason   Reason

	ackOnce  sync.Once
	failOnce sync.Once
}

func newLink(conn Conn) *link {
	return &link{
		conn:     conn,
		acked:    make(chan struct{}),
		rejected: make(chan *protocol.Error, 1),
		done:     make(chan struct{}),
	}
}

func (l *link) ack() {
	l.ackOnce.Do(func() { close(l.acked) })
}

func (l *link) fail(reason Reason) {
	l.failOnce.Do(func() {
		l.reason = reason
		close(l.done)
		_ = l.conn.Close(string(reason))
	})
}

func (l *link) send(ctx context.Context, roomID string, cmd protocol.Command, timeout time.Duration) error {
	data, err := protocol.EncodeCommand(roomID, cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := l.conn.Write(ctx, data); err != nil {
		l.fail(classify(err))
		return err
	}
	return nil
}
