package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/errors"
)

var hundred = decimal.NewFromInt(100)

// WinningsInput describes a resolved binary market from the point of view of one winning holder.
type WinningsInput struct {
	TotalWinningShares    decimal.Decimal
	TotalLosingShares     decimal.Decimal
	UserShares            decimal.Decimal
	CreatorFeePercentage  decimal.Decimal
	PlatformFeePercentage decimal.Decimal
}

type Winnings struct {
	CreatorFee         decimal.Decimal
	PlatformFee        decimal.Decimal
	WinningsFromLosers decimal.Decimal
	TotalWinnerAmount  decimal.Decimal
	Payout             decimal.Decimal
}

// ComputeWinnings splits the losing side's stake, net of creator and platform fees, across winning shares.
// With no losing stake winners get their own stake back and no fee is taken.
func ComputeWinnings(in WinningsInput) (Winnings, error) {
	if !in.TotalWinningShares.IsPositive() {
		return Winnings{}, errors.InvariantViolation("total winning shares must be positive, got %s", in.TotalWinningShares)
	}
	if in.TotalLosingShares.IsNegative() || in.UserShares.IsNegative() {
		return Winnings{}, errors.Validation("shares must not be negative")
	}
	if in.UserShares.GreaterThan(in.TotalWinningShares) {
		return Winnings{}, errors.Validation("user shares %s exceed total winning shares %s", in.UserShares, in.TotalWinningShares)
	}
	if in.CreatorFeePercentage.IsNegative() || in.PlatformFeePercentage.IsNegative() ||
		in.CreatorFeePercentage.Add(in.PlatformFeePercentage).GreaterThan(hundred) {
		return Winnings{}, errors.Validation("fee percentages must be non-negative and sum to at most 100")
	}

	if in.TotalLosingShares.IsZero() {
		return Winnings{
			CreatorFee:         decimal.Zero,
			PlatformFee:        decimal.Zero,
			WinningsFromLosers: decimal.Zero,
			TotalWinnerAmount:  in.TotalWinningShares,
			Payout:             in.UserShares,
		}, nil
	}

	w := Winnings{
		CreatorFee:  in.TotalLosingShares.Mul(in.CreatorFeePercentage).Div(hundred),
		PlatformFee: in.TotalLosingShares.Mul(in.PlatformFeePercentage).Div(hundred),
	}
	w.WinningsFromLosers = in.TotalLosingShares.Sub(w.CreatorFee).Sub(w.PlatformFee)
	w.TotalWinnerAmount = in.TotalWinningShares.Add(w.WinningsFromLosers)
	w.Payout = w.TotalWinnerAmount.Mul(in.UserShares).Div(in.TotalWinningShares)

	return w, nil
}

// Transfer plans a single payment. Like every plan its PlanID depends only on its content, so recomputing it for
// the same key yields the same plan.
func Transfer(sessionKey, token, recipient string, amount decimal.Decimal) (domain.SettlementPlan, error) {
	if recipient == "" {
		return domain.SettlementPlan{}, errors.Validation("recipient is required")
	}
	if !amount.IsPositive() {
		return domain.SettlementPlan{}, errors.Validation("transfer amount must be positive, got %s", amount)
	}

	return seal(domain.SettlementPlan{
		SessionKey: sessionKey,
		Mode:       domain.RewardTransfer,
		Token:      token,
		Entries:    []domain.PlanEntry{{Recipient: recipient, Amount: amount, Rank: 1}},
	}), nil
}
