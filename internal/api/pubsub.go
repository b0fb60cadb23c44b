package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/protocol"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	FinalStandings struct {
		RoomID        string                      `json:"roomId"`
		QuizID        string                      `json:"quizId"`
		SessionNumber int64                       `json:"sessionNumber"`
		Entries       []protocol.LeaderboardEntry `json:"entries"`
	}
)

// PublishSessionFinished tells every ranked participant the final standings of their room.
func (a *API) PublishSessionFinished(ctx context.Context, e domain.EventSessionFinished) error {
	data := FinalStandings{
		RoomID:        e.Room.RoomID,
		QuizID:        e.Room.QuizID,
		SessionNumber: e.Room.SessionNumber,
		Entries:       protocol.Entries(e.Leaderboard.Entries),
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data.Entries {
		entry := entry
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.UserID, e.Name(), data)
		})
	}

	return eg.Wait()
}

// PublishPayoutUpdated tells the recipient how their payout is going.
func (a *API) PublishPayoutUpdated(ctx context.Context, e domain.EventPayoutUpdated) error {
	return a.publishNotification(ctx, e.Record.Recipient, e.Name(), protocol.Status(e.Record))
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), b).Err()
}
