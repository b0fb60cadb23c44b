// Package protocol defines the messages exchanged over a room's duplex channel. Every message travels in an
// Envelope whose Type selects exactly one payload struct; commands flow client to server, events server to
// client.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/errors"
)

type Envelope struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Command is a client to server message.
type Command interface {
	CommandType() string
	isCommand()
}

// Event is a server to client message.
type Event interface {
	EventType() string
	isEvent()
}

const (
	TypeJoinRoom         = "join_room"
	TypeLeaveRoom        = "leave_room"
	TypeSetReady         = "set_ready"
	TypeStartCountdown   = "start_countdown"
	TypeStartImmediately = "start_immediately"
	TypeSubmitAnswer     = "submit_answer"
	TypeRequestSnapshot  = "request_snapshot"
	TypeDeactivateRoom   = "deactivate_room"
)

const (
	TypeRoomStats            = "room_stats"
	TypeParticipantJoined    = "participant_joined"
	TypeParticipantLeft      = "participant_left"
	TypeParticipantReady     = "participant_ready"
	TypeCountdownTick        = "countdown_tick"
	TypeQuestionStart        = "question_start"
	TypeQuestionTimeUpdate   = "question_time_update"
	TypeAnswerAccepted       = "answer_accepted"
	TypeAnswerReveal         = "answer_reveal"
	TypeLeaderboardUpdate    = "leaderboard_update"
	TypeRedirectToResults    = "redirect_to_results"
	TypeDistributionStatus   = "distribution_status"
	TypeDistributionComplete = "distribution_complete"
	TypeGameEnd              = "game_end"
	TypeRoomEmpty            = "room_empty"
	TypeStateSnapshot        = "state_snapshot"
	TypeError                = "error"
)

// Encode wraps an event in an envelope addressed to roomID.
func Encode(roomID string, e Event) ([]byte, error) {
	return encode(roomID, e.EventType(), e)
}

// EncodeCommand wraps a command in an envelope addressed to roomID.
func EncodeCommand(roomID string, c Command) ([]byte, error) {
	return encode(roomID, c.CommandType(), c)
}

func encode(roomID, typ string, v any) ([]byte, error) {
	p, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", typ, err)
	}

	return json.Marshal(Envelope{Type: typ, RoomID: roomID, Payload: p})
}

// DecodeCommand parses a client message. Unknown types and malformed payloads are validation errors.
func DecodeCommand(b []byte) (string, Command, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return "", nil, errors.Validation("malformed envelope: %v", err)
	}

	var c Command
	switch env.Type {
	case TypeJoinRoom:
		c = &JoinRoom{}
	case TypeLeaveRoom:
		c = &LeaveRoom{}
	case TypeSetReady:
		c = &SetReady{}
	case TypeStartCountdown:
		c = &StartCountdown{}
	case TypeStartImmediately:
		c = &StartImmediately{}
	case TypeSubmitAnswer:
		c = &SubmitAnswer{}
	case TypeRequestSnapshot:
		c = &RequestSnapshot{}
	case TypeDeactivateRoom:
		c = &DeactivateRoom{}
	default:
		return env.RoomID, nil, errors.Validation("unknown command type %q", env.Type)
	}

	if err := unmarshalPayload(env.Payload, c); err != nil {
		return env.RoomID, nil, errors.Validation("malformed %s payload: %v", env.Type, err)
	}

	return env.RoomID, c, nil
}

// DecodeEvent parses a server message.
func DecodeEvent(b []byte) (string, Event, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: malformed envelope: %w", err)
	}

	var e Event
	switch env.Type {
	case TypeRoomStats:
		e = &RoomStats{}
	case TypeParticipantJoined:
		e = &ParticipantJoined{}
	case TypeParticipantLeft:
		e = &ParticipantLeft{}
	case TypeParticipantReady:
		e = &ParticipantReady{}
	case TypeCountdownTick:
		e = &CountdownTick{}
	case TypeQuestionStart:
		e = &QuestionStart{}
	case TypeQuestionTimeUpdate:
		e = &QuestionTimeUpdate{}
	case TypeAnswerAccepted:
		e = &AnswerAccepted{}
	case TypeAnswerReveal:
		e = &AnswerReveal{}
	case TypeLeaderboardUpdate:
		e = &LeaderboardUpdate{}
	case TypeRedirectToResults:
		e = &RedirectToResults{}
	case TypeDistributionStatus:
		e = &DistributionStatus{}
	case TypeDistributionComplete:
		e = &DistributionComplete{}
	case TypeGameEnd:
		e = &GameEnd{}
	case TypeRoomEmpty:
		e = &RoomEmpty{}
	case TypeStateSnapshot:
		e = &StateSnapshot{}
	case TypeError:
		e = &Error{}
	default:
		return env.RoomID, nil, fmt.Errorf("protocol: unknown event type %q", env.Type)
	}

	if err := unmarshalPayload(env.Payload, e); err != nil {
		return env.RoomID, nil, fmt.Errorf("protocol: malformed %s payload: %w", env.Type, err)
	}

	return env.RoomID, e, nil
}

func unmarshalPayload(p json.RawMessage, v any) error {
	if len(p) == 0 || string(p) == "null" {
		return nil
	}
	return json.Unmarshal(p, v)
}

// ErrorEvent converts err into the event sent to a client whose command was rejected.
func ErrorEvent(err error) *Error {
	e := errors.Convert(err)
	return &Error{Code: int(e.Code), Reason: string(e.Reason), Message: e.Message}
}

// Entries converts ranked standings to their wire form.
func Entries(standings []domain.Standing) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(standings))
	for _, s := range standings {
		out = append(out, LeaderboardEntry{
			UserID:       s.UserID,
			Score:        s.Score,
			CorrectCount: s.CorrectCount,
			TotalTimeMs:  s.TotalTime.Milliseconds(),
			Rank:         s.Rank,
		})
	}
	return out
}

// Status converts a payout record to its wire form.
func Status(r domain.PayoutRecord) DistributionStatus {
	return DistributionStatus{
		PlanID:      r.PlanID,
		Recipient:   r.Recipient,
		Rank:        r.Rank,
		Amount:      r.Amount.String(),
		Token:       r.Token,
		Status:      string(r.Status),
		TransferRef: r.TransferRef,
		Error:       r.Error,
	}
}
