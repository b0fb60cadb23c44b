// Package settlement turns final standings into reward distribution plans and splits resolved market pools.
//
// Every function here is pure: the same inputs always produce the same plan, including its PlanID, so callers
// may recompute a plan after a crash and compare it with what they persisted.
package settlement

import (
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/scoring"
)

// DefaultPlaces is the number of decimal places amounts are truncated to.
const DefaultPlaces = 6

var planNamespace = uuid.MustParse("6f1c3f8e-2d4b-4b8a-9a57-3c1f0e5d7a21")

// Plan computes the distribution selected by the reward configuration.
func Plan(sessionKey string, cfg domain.RewardConfig, standings []domain.Standing) (domain.SettlementPlan, error) {
	switch cfg.Mode {
	case domain.RewardLinear:
		return Linear(sessionKey, cfg.Token, standings, cfg.RewardAmounts, cfg.TotalWinners)
	case domain.RewardQuadratic:
		return Quadratic(sessionKey, cfg.Token, standings, cfg.TotalPool, cfg.PointsWeight, DefaultPlaces)
	case domain.RewardNone:
		return domain.SettlementPlan{}, errors.Precondition(errors.ReasonInvalidTransition, "rewards are disabled for session %s", sessionKey)
	default:
		return domain.SettlementPlan{}, errors.Validation("unknown reward mode %q", cfg.Mode)
	}
}

// Linear pays amounts[rank-1] to each of the top totalWinners standings. Nobody past totalWinners is paid.
func Linear(sessionKey, token string, standings []domain.Standing, amounts []decimal.Decimal, totalWinners int) (domain.SettlementPlan, error) {
	if totalWinners <= 0 {
		return domain.SettlementPlan{}, errors.Validation("total winners must be positive, got %d", totalWinners)
	}
	if len(amounts) < totalWinners {
		return domain.SettlementPlan{}, errors.Validation("%d reward amounts declared for %d winners", len(amounts), totalWinners)
	}
	for i, a := range amounts {
		if a.IsNegative() {
			return domain.SettlementPlan{}, errors.Validation("reward amount for rank %d is negative", i+1)
		}
	}

	ranked := scoring.Rank(standings)
	n := min(totalWinners, len(ranked))

	p := domain.SettlementPlan{
		SessionKey: sessionKey,
		Mode:       domain.RewardLinear,
		Token:      token,
		Entries:    make([]domain.PlanEntry, 0, n),
	}

	for i := 0; i < n; i++ {
		if amounts[i].IsZero() {
			continue
		}
		p.Entries = append(p.Entries, domain.PlanEntry{
			Recipient: ranked[i].UserID,
			Amount:    amounts[i],
			Rank:      ranked[i].Rank,
		})
	}

	return seal(p), nil
}

// Quadratic splits pool proportionally to
//
//	(1-pointsWeight)*sqrt(N-rank+1) + pointsWeight*sqrt(points)
//
// Shares are truncated to places and the rounding remainder goes to rank 1, so the entries always sum to pool.
func Quadratic(sessionKey, token string, standings []domain.Standing, pool decimal.Decimal, pointsWeight float64, places int32) (domain.SettlementPlan, error) {
	if !pool.IsPositive() {
		return domain.SettlementPlan{}, errors.Validation("quadratic pool must be positive, got %s", pool)
	}
	if math.IsNaN(pointsWeight) || pointsWeight < 0 || pointsWeight > 1 {
		return domain.SettlementPlan{}, errors.Validation("points weight must be within [0,1], got %v", pointsWeight)
	}
	if len(standings) == 0 {
		return domain.SettlementPlan{}, errors.Validation("no standings to distribute over")
	}

	ranked := scoring.Rank(standings)
	n := len(ranked)

	weights := make([]float64, n)
	var sum float64
	for i, s := range ranked {
		participation := math.Sqrt(float64(n - s.Rank + 1))
		points := math.Sqrt(float64(max(s.Score, 0)))
		weights[i] = (1-pointsWeight)*participation + pointsWeight*points
		sum += weights[i]
	}

	// Nobody scored and participation carries no weight: split evenly.
	if sum == 0 {
		for i := range weights {
			weights[i] = 1
		}
		sum = float64(n)
	}

	total := decimal.NewFromFloat(sum)
	amounts := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	for i, w := range weights {
		amounts[i] = pool.Mul(decimal.NewFromFloat(w)).Div(total).Truncate(places)
		allocated = allocated.Add(amounts[i])
	}
	amounts[0] = amounts[0].Add(pool.Sub(allocated))

	p := domain.SettlementPlan{
		SessionKey: sessionKey,
		Mode:       domain.RewardQuadratic,
		Token:      token,
		Entries:    make([]domain.PlanEntry, 0, n),
	}
	for i, s := range ranked {
		if !amounts[i].IsPositive() {
			continue
		}
		p.Entries = append(p.Entries, domain.PlanEntry{
			Recipient: s.UserID,
			Amount:    amounts[i],
			Rank:      s.Rank,
		})
	}

	return seal(p), nil
}

// seal sets the total and a PlanID derived from the plan's content.
func seal(p domain.SettlementPlan) domain.SettlementPlan {
	p.Total = decimal.Zero
	for _, e := range p.Entries {
		p.Total = p.Total.Add(e.Amount)
	}

	var b strings.Builder
	b.WriteString(p.SessionKey)
	b.WriteByte('|')
	b.WriteString(string(p.Mode))
	b.WriteByte('|')
	b.WriteString(p.Token)
	for _, e := range p.Entries {
		b.WriteByte('|')
		b.WriteString(e.Recipient)
		b.WriteByte(':')
		b.WriteString(e.Amount.String())
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(e.Rank))
	}

	p.PlanID = uuid.NewSHA1(planNamespace, []byte(b.String())).String()
	return p
}

// EntryKey identifies a plan entry across dispatch attempts.
func EntryKey(planID string, e domain.PlanEntry) string {
	return planID + "/" + strconv.Itoa(e.Rank) + "/" + e.Recipient
}
