package store

import (
	"context"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/event"
)

// Record subscribes s to the session events published on eb, writing them behind the room actors.
func Record(eb *event.Bus, s Store) {
	eb.Subscribe(domain.EventNameRoomUpdated, func(ctx context.Context, e event.Event) error {
		return s.SaveRoom(ctx, e.(domain.EventRoomUpdated).Room)
	})

	eb.Subscribe(domain.EventNameParticipantUpdated, func(ctx context.Context, e event.Event) error {
		pe := e.(domain.EventParticipantUpdated)
		if pe.Left {
			return s.RemoveParticipant(ctx, pe.Participant.RoomID, pe.Participant.UserID)
		}
		return s.SaveParticipant(ctx, pe.Participant)
	}, event.WithConcurrency(1))

	eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return s.SaveLeaderboard(ctx, e.(domain.EventLeaderboardUpdated).Leaderboard)
	}, event.WithConcurrency(1))
}
