package scoring_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/scoring"
)

func TestScore(t *testing.T) {
	const limit = 15 * time.Second

	tests := map[string]struct {
		correct bool
		elapsed time.Duration
		bonus   bool
		want    int
	}{
		"instant correct answer earns the full bonus": {correct: true, elapsed: 0, bonus: true, want: 1200},
		"half way earns half the bonus":               {correct: true, elapsed: 7500 * time.Millisecond, bonus: true, want: 1100},
		"at the limit earns base points":              {correct: true, elapsed: limit, bonus: true, want: 1000},
		"past the limit earns base points":            {correct: true, elapsed: limit + time.Second, bonus: true, want: 1000},
		"incorrect answer earns nothing":              {correct: false, elapsed: 0, bonus: true, want: 0},
		"bonus disabled earns base points":            {correct: true, elapsed: 0, bonus: false, want: 1000},
		"bonus is floored":                            {correct: true, elapsed: 1 * time.Millisecond, bonus: true, want: 1199},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := scoring.Score(tt.correct, 1000, tt.elapsed, limit, tt.bonus, 200)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScore_MonotonicInElapsed(t *testing.T) {
	const limit = 15 * time.Second

	prev := scoring.Score(true, 1000, 0, limit, true, 200)
	for ms := 0; ms <= 15000; ms += 37 {
		got := scoring.Score(true, 1000, time.Duration(ms)*time.Millisecond, limit, true, 200)
		require.LessOrEqual(t, got, prev, "score must not increase with elapsed time (t=%dms)", ms)
		prev = got
	}

	require.Equal(t, 1000, scoring.Score(true, 1000, limit, limit, true, 200))
}

func TestBoard_Ranked(t *testing.T) {
	b := scoring.NewBoard()
	b.Add("slow")
	b.Add("fast")
	b.Add("idle")

	b.Record(domain.Answer{UserID: "slow", IsCorrect: true, Points: 1000, Elapsed: 9 * time.Second})
	b.Record(domain.Answer{UserID: "fast", IsCorrect: true, Points: 1000, Elapsed: 2 * time.Second})
	b.Charge("idle", 15*time.Second)

	got := b.Ranked()
	require.Len(t, got, 3)

	assert.Equal(t, "fast", got[0].UserID)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, "slow", got[1].UserID)
	assert.Equal(t, 2, got[1].Rank)
	assert.Equal(t, "idle", got[2].UserID)
	assert.Equal(t, 0, got[2].Score)
	assert.Equal(t, 1, got[0].CorrectCount)

	// Recomputing yields the same order.
	assert.Equal(t, got, b.Ranked())
}

func TestScoreAnswer_UsesQuestionOverride(t *testing.T) {
	quiz := domain.QuizDefinition{BasePointsPerQuestion: 100}
	q := domain.Question{
		TimeLimit:  10 * time.Second,
		BasePoints: 250,
		Options: []domain.Option{
			{OptionID: "a"},
			{OptionID: "b", IsCorrect: true},
		},
	}

	correct, points := scoring.ScoreAnswer(quiz, q, "b", time.Second)
	assert.True(t, correct)
	assert.Equal(t, 250, points)

	correct, points = scoring.ScoreAnswer(quiz, q, "a", time.Second)
	assert.False(t, correct)
	assert.Equal(t, 0, points)

	q.BasePoints = 0
	_, points = scoring.ScoreAnswer(quiz, q, "b", time.Second)
	assert.Equal(t, 100, points)
}
