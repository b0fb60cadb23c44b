// Package leaderboard caches the latest leaderboard of every room in Redis so it stays readable after the room
// actor is gone.
package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/event"
	"github.com/sam-thetutor/wahala/internal/store"
)

const defaultTTL = 24 * time.Hour

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	TTL      time.Duration
	// Store answers reads for leaderboards no longer cached.
	Store store.Store
}

type Service struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	store  store.Store
}

func NewService(c Config) *Service {
	s := &Service{
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
		store:  c.Store,
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}

	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return s.UpdateLeaderboard(ctx, e.(domain.EventLeaderboardUpdated))
		}, event.WithConcurrency(1))
	}

	return s
}

// GetLeaderboard returns the latest leaderboard of a room ordered by rank.
func (s *Service) GetLeaderboard(ctx context.Context, roomID string) (*domain.Leaderboard, error) {
	ranks, err := s.redis.ZRangeWithScores(ctx, s.rankKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, errors.Transient(err, "get leaderboard: room=%s", roomID)
	}

	if len(ranks) == 0 {
		if s.store != nil {
			return s.store.GetLeaderboard(ctx, roomID)
		}
		return nil, errors.NotFound("leaderboard not found: room=%s", roomID)
	}

	users := make([]string, 0, len(ranks))
	for _, z := range ranks {
		users = append(users, z.Member.(string))
	}

	raw, err := s.redis.HMGet(ctx, s.entryKey(roomID), users...).Result()
	if err != nil {
		return nil, errors.Transient(err, "get leaderboard entries: room=%s", roomID)
	}

	l := &domain.Leaderboard{RoomID: roomID, Entries: make([]domain.Standing, 0, len(raw))}
	for i, v := range raw {
		str, ok := v.(string)
		if !ok {
			return nil, errors.Internal(fmt.Errorf("leaderboard entry missing: room=%s user=%s", roomID, users[i]))
		}

		var st domain.Standing
		if err := json.Unmarshal([]byte(str), &st); err != nil {
			return nil, errors.Internal(fmt.Errorf("decode leaderboard entry: %w", err))
		}
		l.Entries = append(l.Entries, st)
	}

	return l, nil
}

// UpdateLeaderboard replaces the cached leaderboard of a room in one transaction.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	zs := make([]redis.Z, 0, len(l.Entries))
	fields := make(map[string]any, len(l.Entries))
	for _, st := range l.Entries {
		b, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("encode leaderboard entry: %w", err)
		}

		zs = append(zs, redis.Z{Score: float64(st.Rank), Member: st.UserID})
		fields[st.UserID] = b
	}

	rk, ek := s.rankKey(l.RoomID), s.entryKey(l.RoomID)
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, rk, ek)
		if len(zs) == 0 {
			return nil
		}
		p.ZAdd(ctx, rk, zs...)
		p.HSet(ctx, ek, fields)
		p.Expire(ctx, rk, s.ttl)
		p.Expire(ctx, ek, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update leaderboard: room=%s: %w", l.RoomID, err)
	}

	return nil
}

func (s *Service) rankKey(roomID string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, roomID)
}

func (s *Service) entryKey(roomID string) string {
	return fmt.Sprintf("%s:%s:entries", s.prefix, roomID)
}
