package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/errors"
)

// Memory is a Store kept in process memory.
type Memory struct {
	mu           sync.RWMutex
	quizzes      map[string]domain.QuizDefinition
	rooms        map[string]domain.Room
	participants map[string]map[string]domain.Participant
	leaderboards map[string]domain.Leaderboard
	plans        map[string]domain.SettlementPlan
	payouts      map[string]domain.PayoutRecord
	counters     map[string]int64
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		quizzes:      make(map[string]domain.QuizDefinition),
		rooms:        make(map[string]domain.Room),
		participants: make(map[string]map[string]domain.Participant),
		leaderboards: make(map[string]domain.Leaderboard),
		plans:        make(map[string]domain.SettlementPlan),
		payouts:      make(map[string]domain.PayoutRecord),
		counters:     make(map[string]int64),
	}
}

func (m *Memory) SaveQuiz(_ context.Context, q domain.QuizDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q.Questions = slices.Clone(q.Questions)
	m.quizzes[q.QuizID] = q
	return nil
}

func (m *Memory) GetQuiz(_ context.Context, quizID string) (*domain.QuizDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.quizzes[quizID]
	if !ok {
		return nil, errors.NotFound("quiz not found: %s", quizID)
	}
	q.Questions = slices.Clone(q.Questions)
	return &q, nil
}

func (m *Memory) SaveRoom(_ context.Context, r domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.rooms[r.RoomID]; ok && cur.Version >= r.Version {
		return nil
	}
	m.rooms[r.RoomID] = r
	return nil
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (*domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, errors.NotFound("room not found: %s", roomID)
	}
	return &r, nil
}

func (m *Memory) SaveParticipant(_ context.Context, p domain.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.participants[p.RoomID] == nil {
		m.participants[p.RoomID] = make(map[string]domain.Participant)
	}
	m.participants[p.RoomID][p.UserID] = p
	return nil
}

func (m *Memory) RemoveParticipant(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.participants[roomID], userID)
	return nil
}

func (m *Memory) ListParticipants(_ context.Context, roomID string) ([]domain.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Participant, 0, len(m.participants[roomID]))
	for _, p := range m.participants[roomID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinTime.Before(out[j].JoinTime) })
	return out, nil
}

func (m *Memory) SaveLeaderboard(_ context.Context, l domain.Leaderboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.Entries = slices.Clone(l.Entries)
	m.leaderboards[l.RoomID] = l
	return nil
}

func (m *Memory) GetLeaderboard(_ context.Context, roomID string) (*domain.Leaderboard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.leaderboards[roomID]
	if !ok {
		return nil, errors.NotFound("leaderboard not found: room=%s", roomID)
	}
	l.Entries = slices.Clone(l.Entries)
	return &l, nil
}

func (m *Memory) SavePlan(_ context.Context, p domain.SettlementPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.plans[p.SessionKey]; ok {
		if cur.PlanID == p.PlanID {
			return nil
		}
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("a different plan %s is already stored for session %s", cur.PlanID, p.SessionKey))
	}

	p.Entries = slices.Clone(p.Entries)
	m.plans[p.SessionKey] = p
	return nil
}

func (m *Memory) GetPlan(_ context.Context, sessionKey string) (*domain.SettlementPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[sessionKey]
	if !ok {
		return nil, errors.NotFound("plan not found: session=%s", sessionKey)
	}
	p.Entries = slices.Clone(p.Entries)
	return &p, nil
}

func (m *Memory) SavePayoutRecord(_ context.Context, r domain.PayoutRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.payouts[r.RecordID] = r
	return nil
}

func (m *Memory) ListPayoutRecords(_ context.Context, planID string) ([]domain.PayoutRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.PayoutRecord
	for _, r := range m.payouts {
		if r.PlanID == planID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Attempt < out[j].Attempt
	})
	return out, nil
}

func (m *Memory) Increment(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[key]++
	return m.counters[key], nil
}
