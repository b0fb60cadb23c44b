package wsclient

import "time"

// Reason says why a connection ended.
type Reason string

const (
	ReasonPingTimeout      Reason = "ping timeout"
	ReasonTransportError   Reason = "transport error"
	ReasonServerDisconnect Reason = "server disconnect"
	ReasonRoomFull         Reason = "room full"
	ReasonRoomClosed       Reason = "room closed"
	ReasonHealthCheck      Reason = "health check failed"
	ReasonJoinTimeout      Reason = "join timeout"
	ReasonClientDisconnect Reason = "client disconnect"
)

const (
	defaultImmediateDelay = 250 * time.Millisecond
	defaultBaseDelay      = time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultMaxAttempts    = 10
)

// Policy decides when to try reconnecting. Transport level and server initiated disconnects are retried after a
// short fixed delay; every other reason backs off exponentially up to MaxDelay.
type Policy struct {
	ImmediateDelay time.Duration
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int
}

func DefaultPolicy() Policy {
	return Policy{
		ImmediateDelay: defaultImmediateDelay,
		BaseDelay:      defaultBaseDelay,
		MaxDelay:       defaultMaxDelay,
		MaxAttempts:    defaultMaxAttempts,
	}
}

// Immediate reports whether reason is retried without backoff.
func Immediate(reason Reason) bool {
	switch reason {
	case ReasonPingTimeout, ReasonTransportError, ReasonServerDisconnect, ReasonRoomFull, ReasonRoomClosed:
		return true
	default:
		return false
	}
}

// NextDelay returns the wait before reconnection attempt number attempt, counted from 1. It returns false once
// the attempts are exhausted or the disconnect was intentional.
func (p Policy) NextDelay(reason Reason, attempt int) (time.Duration, bool) {
	if reason == ReasonClientDisconnect || attempt < 1 || attempt > p.MaxAttempts {
		return 0, false
	}

	if Immediate(reason) {
		return p.ImmediateDelay, true
	}

	return p.Backoff(attempt), true
}

// Backoff is BaseDelay doubled for every attempt after the first, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	return min(d, p.MaxDelay)
}
