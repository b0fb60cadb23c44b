package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodePermissionDenied   = Code(codes.PermissionDenied)
	CodeUnavailable        = Code(codes.Unavailable)
	CodeResourceExhausted  = Code(codes.ResourceExhausted)
	CodeInternal           = Code(codes.Internal)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeFailedPrecondition: http.StatusConflict,
	CodePermissionDenied:   http.StatusForbidden,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeResourceExhausted:  http.StatusTooManyRequests,
	CodeInternal:           http.StatusInternalServerError,
}

// Reason narrows a Code down to a machine readable cause that clients can switch on.
type Reason string

const (
	ReasonRoomFull              Reason = "ROOM_FULL"
	ReasonRoomNotActive         Reason = "ROOM_NOT_ACTIVE"
	ReasonNotEnoughParticipants Reason = "NOT_ENOUGH_PARTICIPANTS"
	ReasonAlreadyAnswered       Reason = "ALREADY_ANSWERED"
	ReasonInvalidTransition     Reason = "INVALID_TRANSITION"
	ReasonNotAdmin              Reason = "NOT_ADMIN"
	ReasonNotParticipant        Reason = "NOT_PARTICIPANT"
	ReasonWrongQuestion         Reason = "WRONG_QUESTION"
	ReasonSettlementInvariant   Reason = "SETTLEMENT_INVARIANT"
	ReasonReconnectFailed       Reason = "RECONNECT_FAILED"
	ReasonJoinTimeout           Reason = "JOIN_TIMEOUT"
	ReasonInsufficientFunds     Reason = "INSUFFICIENT_FUNDS"
	ReasonMarketResolved        Reason = "MARKET_RESOLVED"
	ReasonRateLimited           Reason = "RATE_LIMITED"
)

type Error struct {
	Code    Code   `json:"code"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.Reason != "" {
		s += fmt.Sprintf(", reason: %s", e.Reason)
	}
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is an *Error with the same code and reason.
// A target without a reason matches on code only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Code == t.Code && (t.Reason == "" || e.Reason == t.Reason)
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// HasReason reports whether err carries the given reason anywhere in its chain.
func HasReason(err error, r Reason) bool {
	var e *Error
	return errors.As(err, &e) && e.Reason == r
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

func Validation(format string, args ...any) *Error {
	return New(CodeInvalidArgument, WithMessagef(format, args...))
}

func Precondition(r Reason, format string, args ...any) *Error {
	return New(CodeFailedPrecondition, WithReason(r), WithMessagef(format, args...))
}

func Transient(err error, format string, args ...any) *Error {
	return New(CodeUnavailable, WithCause(err), WithMessagef(format, args...))
}

func InvariantViolation(format string, args ...any) *Error {
	return New(CodeInternal, WithReason(ReasonSettlementInvariant), WithMessagef(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, WithMessagef(format, args...))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}

func WithReason(r Reason) Option {
	return optionFunc(func(e *Error) {
		e.Reason = r
	})
}
