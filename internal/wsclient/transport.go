package wsclient

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/coder/websocket"
)

// ErrServerClosed wraps read errors caused by the server closing the connection.
var ErrServerClosed = stderrors.New("server closed the connection")

// Transport opens duplex connections.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is one open duplex connection. Read is only called from one goroutine at a time; every other method may
// be called concurrently.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

// WebSocket dials with github.com/coder/websocket.
type WebSocket struct {
	Options *websocket.DialOptions
}

func (w WebSocket) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, w.Options)
	if err != nil {
		return nil, err
	}

	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil && websocket.CloseStatus(err) != -1 {
		return nil, fmt.Errorf("%w: %w", ErrServerClosed, err)
	}

	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Ping(ctx context.Context) error {
	return w.c.Ping(ctx)
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}
