package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultPoolSize = 1000
	defaultTimeout  = 30 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

type subscription struct {
	name    string
	handler Handler
	pool    chan struct{}
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscription)

// WithConcurrency limits how many events a subscription handles at the same time.
// A limit of 1 makes the handler see events in publish order.
func WithConcurrency(n int) SubscribeOption {
	return func(s *subscription) {
		if n > 0 {
			s.pool = make(chan struct{}, n)
		}
	}
}

// Bus is an in-memory event bus. Each subscription owns its own worker pool, so a slow handler only
// throttles itself.
type Bus struct {
	wg     *sync.WaitGroup
	mu     sync.RWMutex
	subs   map[string][]*subscription
	closed bool
}

// NewBus create a new event bus. Caller should call Stop for graceful shutdown the bus.
func NewBus() *Bus {
	return &Bus{
		wg:   new(sync.WaitGroup),
		subs: make(map[string][]*subscription),
	}
}

// Subscribe to an event
func (b *Bus) Subscribe(name string, h Handler, opts ...SubscribeOption) {
	s := &subscription{
		name:    name,
		handler: h,
		pool:    make(chan struct{}, defaultPoolSize),
	}
	for _, opt := range opts {
		opt(s)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[name] = append(b.subs[name], s)
}

// Publish an event. Events published after Stop are dropped.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		slog.WarnContext(ctx, "event: publish after stop", "event", e.Name())
		return
	}

	for _, s := range b.subs[e.Name()] {
		b.dispatch(ctx, s, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, s *subscription, e Event) {
	b.wg.Add(1)

	s.pool <- struct{}{}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "event: handler panic",
					"event", s.name,
					"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
				)
			}

			cancel()
			<-s.pool
			b.wg.Done()
		}()

		if err := s.handler(ctx, e); err != nil {
			slog.ErrorContext(ctx, "event: handle event failed",
				"event", s.name,
				"error", err,
			)
		}
	}()
}

// Stop rejects further events and waits for all handlers to finish
func (b *Bus) Stop() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
}
