// Package store persists the records a live session produces. While a session runs the room actor's memory is
// the source of truth; the store is an eventually consistent copy used for reads after the fact, restarts and
// payout idempotency.
package store

import (
	"context"

	"github.com/sam-thetutor/wahala/internal/domain"
)

type Store interface {
	SaveQuiz(ctx context.Context, q domain.QuizDefinition) error
	GetQuiz(ctx context.Context, quizID string) (*domain.QuizDefinition, error)

	// SaveRoom upserts the room unless a record with a higher or equal version is already stored.
	SaveRoom(ctx context.Context, r domain.Room) error
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)

	SaveParticipant(ctx context.Context, p domain.Participant) error
	RemoveParticipant(ctx context.Context, roomID, userID string) error
	ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error)

	SaveLeaderboard(ctx context.Context, l domain.Leaderboard) error
	GetLeaderboard(ctx context.Context, roomID string) (*domain.Leaderboard, error)

	// SavePlan stores a plan once per session key. Saving an identical plan again is a no-op, saving a different
	// plan for the same session fails with AlreadyExists.
	SavePlan(ctx context.Context, p domain.SettlementPlan) error
	GetPlan(ctx context.Context, sessionKey string) (*domain.SettlementPlan, error)

	// SavePayoutRecord upserts by RecordID. Records are never deleted.
	SavePayoutRecord(ctx context.Context, r domain.PayoutRecord) error
	ListPayoutRecords(ctx context.Context, planID string) ([]domain.PayoutRecord, error)

	// Increment atomically adds one to the counter at key and returns the new value.
	Increment(ctx context.Context, key string) (int64, error)
}
