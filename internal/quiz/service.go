// Package quiz manages quiz definitions: the questions, timing and reward configuration that rooms are run from.
package quiz

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/store"
)

const defaultBasePoints = 1000

type Config struct {
	Store store.Store
	// Token is used for rewards that do not name one.
	Token string
}

type Service struct {
	store store.Store
	token string
}

func NewService(c Config) *Service {
	return &Service{
		store: c.Store,
		token: c.Token,
	}
}

// CreateQuizRequest represents a request to define a new quiz.
type CreateQuizRequest struct {
	Title     string
	CreatorID string
	Featured  bool
	Questions []domain.Question

	BasePointsPerQuestion int
	SpeedBonusEnabled     bool
	MaxSpeedBonus         int

	Reward domain.RewardConfig
}

// CreateQuiz validates and stores a quiz definition. Questions and options without ids are numbered q1, q2, ...
// and a, b, ... in the order given.
func (s *Service) CreateQuiz(ctx context.Context, req CreateQuizRequest) (*domain.QuizDefinition, error) {
	q := domain.QuizDefinition{
		Title:                 strings.TrimSpace(req.Title),
		CreatorID:             req.CreatorID,
		Featured:              req.Featured,
		Questions:             req.Questions,
		BasePointsPerQuestion: req.BasePointsPerQuestion,
		SpeedBonusEnabled:     req.SpeedBonusEnabled,
		MaxSpeedBonus:         req.MaxSpeedBonus,
		Reward:                req.Reward,
	}
	if q.BasePointsPerQuestion == 0 {
		q.BasePointsPerQuestion = defaultBasePoints
	}
	if q.Reward.Enabled() && q.Reward.Token == "" {
		q.Reward.Token = s.token
	}
	assignIDs(q.Questions)

	if err := Validate(q); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(err)
	}
	q.QuizID = id.String()

	if err := s.store.SaveQuiz(ctx, q); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "quiz: created", "quiz", q.QuizID, "creator", q.CreatorID, "questions", len(q.Questions))

	return &q, nil
}

func (s *Service) GetQuiz(ctx context.Context, quizID string) (*domain.QuizDefinition, error) {
	return s.store.GetQuiz(ctx, quizID)
}

// Validate reports the first problem that would stop a quiz from being run or settled.
func Validate(q domain.QuizDefinition) error {
	if q.Title == "" {
		return errors.Validation("title is required")
	}
	if q.CreatorID == "" {
		return errors.Validation("creator is required")
	}
	if len(q.Questions) == 0 {
		return errors.Validation("at least one question is required")
	}
	if q.BasePointsPerQuestion < 0 || q.MaxSpeedBonus < 0 {
		return errors.Validation("points must not be negative")
	}

	seen := make(map[string]bool, len(q.Questions))
	for i, qs := range q.Questions {
		if seen[qs.QuestionID] {
			return errors.Validation("question %d: duplicate id %q", i+1, qs.QuestionID)
		}
		seen[qs.QuestionID] = true

		if err := validateQuestion(qs); err != nil {
			return errors.Validation("question %d: %s", i+1, errors.Convert(err).Message)
		}
	}

	return validateReward(q.Reward)
}

func validateQuestion(q domain.Question) error {
	if strings.TrimSpace(q.Text) == "" {
		return errors.Validation("text is required")
	}
	if q.TimeLimit <= 0 {
		return errors.Validation("time limit must be positive")
	}
	if len(q.Options) < 2 {
		return errors.Validation("at least two options are required")
	}

	correct := 0
	ids := make(map[string]bool, len(q.Options))
	for _, o := range q.Options {
		if ids[o.OptionID] {
			return errors.Validation("duplicate option id %q", o.OptionID)
		}
		ids[o.OptionID] = true
		if o.IsCorrect {
			correct++
		}
	}
	if correct == 0 {
		return errors.Validation("at least one option must be correct")
	}

	return nil
}

func validateReward(r domain.RewardConfig) error {
	switch r.Mode {
	case domain.RewardNone:
		return nil
	case domain.RewardLinear:
		if r.TotalWinners <= 0 {
			return errors.Validation("reward: total winners must be positive")
		}
		if len(r.RewardAmounts) < r.TotalWinners {
			return errors.Validation("reward: %d amounts declared for %d winners", len(r.RewardAmounts), r.TotalWinners)
		}
		for i, a := range r.RewardAmounts {
			if a.IsNegative() {
				return errors.Validation("reward: amount for rank %d is negative", i+1)
			}
		}
	case domain.RewardQuadratic:
		if r.PointsWeight < 0 || r.PointsWeight > 1 {
			return errors.Validation("reward: points weight must be in [0, 1], got %v", r.PointsWeight)
		}
		if !r.TotalPool.GreaterThan(decimal.Zero) {
			return errors.Validation("reward: pool must be positive")
		}
	default:
		return errors.Validation("reward: unknown mode %q", r.Mode)
	}

	if r.Token == "" {
		return errors.Validation("reward: token is required")
	}
	return nil
}

func assignIDs(qs []domain.Question) {
	for i := range qs {
		if qs[i].QuestionID == "" {
			qs[i].QuestionID = "q" + strconv.Itoa(i+1)
		}
		for j := range qs[i].Options {
			if qs[i].Options[j].OptionID == "" {
				qs[i].Options[j].OptionID = string(rune('a' + j))
			}
		}
	}
}
