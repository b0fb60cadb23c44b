// Package scoring computes per-answer points and ranks participants.
package scoring

import (
	"sort"
	"time"

	"github.com/sam-thetutor/wahala/internal/domain"
)

// Score returns the points for a single answer. A correct answer earns basePoints plus, when the speed bonus is
// enabled, floor(maxSpeedBonus * (1 - elapsed/limit)). The bonus is zero at or beyond the limit.
func Score(isCorrect bool, basePoints int, elapsed, limit time.Duration, speedBonusEnabled bool, maxSpeedBonus int) int {
	if !isCorrect {
		return 0
	}

	if !speedBonusEnabled || maxSpeedBonus <= 0 || limit <= 0 || elapsed >= limit {
		return basePoints
	}

	if elapsed < 0 {
		elapsed = 0
	}

	// Integer arithmetic keeps the floor exact.
	remaining := int64(limit - elapsed)
	bonus := int64(maxSpeedBonus) * remaining / int64(limit)

	return basePoints + int(bonus)
}

// ScoreAnswer scores option against question using the quiz settings.
func ScoreAnswer(quiz domain.QuizDefinition, q domain.Question, optionID string, elapsed time.Duration) (correct bool, points int) {
	for _, o := range q.Options {
		if o.OptionID == optionID {
			correct = o.IsCorrect
			break
		}
	}

	base := q.BasePoints
	if base <= 0 {
		base = quiz.BasePointsPerQuestion
	}

	return correct, Score(correct, base, elapsed, q.TimeLimit, quiz.SpeedBonusEnabled, quiz.MaxSpeedBonus)
}

// Board accumulates answers per participant. Ranking is recomputed from the full set on every call.
type Board struct {
	order   []string
	entries map[string]*domain.Standing
}

func NewBoard() *Board {
	return &Board{entries: make(map[string]*domain.Standing)}
}

// Add registers a participant with a zero score. Adding an existing participant is a no-op.
func (b *Board) Add(user string) {
	if _, ok := b.entries[user]; ok {
		return
	}

	b.order = append(b.order, user)
	b.entries[user] = &domain.Standing{UserID: user}
}

// Record applies an answer to its participant's totals.
func (b *Board) Record(a domain.Answer) {
	b.Add(a.UserID)

	s := b.entries[a.UserID]
	s.Score += a.Points
	s.TotalTime += a.Elapsed
	if a.IsCorrect {
		s.CorrectCount++
	}
}

// Charge adds time to a participant who did not answer, so skipping is never faster than answering.
func (b *Board) Charge(user string, d time.Duration) {
	b.Add(user)
	b.entries[user].TotalTime += d
}

func (b *Board) Len() int { return len(b.order) }

// Ranked returns standings ordered by score descending, then total time ascending.
func (b *Board) Ranked() []domain.Standing {
	out := make([]domain.Standing, 0, len(b.order))
	for _, u := range b.order {
		out = append(out, *b.entries[u])
	}

	return Rank(out)
}

// Rank sorts standings by score descending, ties broken by ascending total time, and assigns ranks from 1.
// Remaining ties keep their input order.
func Rank(standings []domain.Standing) []domain.Standing {
	out := make([]domain.Standing, len(standings))
	copy(out, standings)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TotalTime < out[j].TotalTime
	})

	for i := range out {
		out[i].Rank = i + 1
	}

	return out
}
