package market

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/settlement"
	"github.com/sam-thetutor/wahala/internal/store"
)

// Dispatcher pays settlement plans.
type Dispatcher interface {
	Dispatch(ctx context.Context, plan domain.SettlementPlan, onUpdate func(domain.PayoutRecord)) (domain.PayoutSummary, error)
}

type Config struct {
	Book    *Book
	Totals  Reader
	Payouts Dispatcher
	// Store keeps claim plans so that a retried claim pays exactly the plan of the first attempt.
	Store store.Store

	PlatformFeePercentage decimal.Decimal
}

// Service settles market money movements: sell refunds, the creator fee on resolution and winner claims. All of
// them go through the payout dispatcher as single-entry plans keyed by what they pay for, which makes every
// operation safe to retry.
type Service struct {
	book        *Book
	totals      Reader
	pd          Dispatcher
	store       store.Store
	platformFee decimal.Decimal

	claims singleflight.Group
}

func NewService(c Config) *Service {
	s := &Service{
		book:        c.Book,
		totals:      c.Totals,
		pd:          c.Payouts,
		store:       c.Store,
		platformFee: c.PlatformFeePercentage,
	}
	if s.totals == nil {
		s.totals = c.Book
	}

	return s
}

func (s *Service) Book() *Book { return s.book }

// Sale is a sell trade together with the refund it paid.
type Sale struct {
	Trade  Trade
	Refund domain.PayoutSummary
}

// Sell gives shares back before resolution and refunds their stake to the seller.
func (s *Service) Sell(ctx context.Context, marketID, userID string, o Outcome, amount decimal.Decimal) (*Sale, error) {
	m, err := s.book.Get(ctx, marketID)
	if err != nil {
		return nil, err
	}

	t, err := s.book.Sell(ctx, marketID, userID, o, amount)
	if err != nil {
		return nil, err
	}

	plan, err := settlement.Transfer(refundKey(marketID, t.Block), m.Token, userID, amount)
	if err != nil {
		return nil, err
	}

	sum, err := s.pd.Dispatch(ctx, plan, nil)
	if err != nil {
		return nil, err
	}

	return &Sale{Trade: t, Refund: sum}, nil
}

// Resolution is a resolved market and the creator fee paid for it, if any.
type Resolution struct {
	Market     Market
	CreatorFee decimal.Decimal
	Payout     *domain.PayoutSummary
}

// Resolve fixes the winner and pays the creator their cut of the losing stake.
func (s *Service) Resolve(ctx context.Context, marketID, callerID string, winner Outcome) (*Resolution, error) {
	m, err := s.book.Resolve(ctx, marketID, callerID, winner)
	if err != nil {
		return nil, err
	}

	res := &Resolution{Market: *m, CreatorFee: decimal.Zero}

	totals, err := s.totals.Totals(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if !totals.Of(winner).IsPositive() {
		slog.WarnContext(ctx, "market: resolved without winning shares", "market", marketID, "winner", winner)
		return res, nil
	}

	w, err := settlement.ComputeWinnings(settlement.WinningsInput{
		TotalWinningShares:    totals.Of(winner),
		TotalLosingShares:     totals.Of(winner.Opposite()),
		CreatorFeePercentage:  m.CreatorFeePercentage,
		PlatformFeePercentage: s.platformFee,
	})
	if err != nil {
		return nil, err
	}

	res.CreatorFee = w.CreatorFee.Truncate(settlement.DefaultPlaces)
	if !res.CreatorFee.IsPositive() {
		return res, nil
	}

	plan, err := settlement.Transfer(feeKey(marketID), m.Token, m.CreatorID, res.CreatorFee)
	if err != nil {
		return nil, err
	}

	sum, err := s.pd.Dispatch(ctx, plan, nil)
	if err != nil {
		return nil, err
	}
	res.Payout = &sum

	return res, nil
}

// Claim is the payout of one winning holder.
type Claim struct {
	Plan     domain.SettlementPlan
	Winnings settlement.Winnings
	Summary  domain.PayoutSummary
}

// Claim pays userID their winnings. Claiming again replays the original plan, which pays nothing already paid.
func (s *Service) Claim(ctx context.Context, marketID, userID string) (*Claim, error) {
	key := claimKey(marketID, userID)

	v, err, _ := s.claims.Do(key, func() (any, error) {
		return s.claim(ctx, marketID, userID, key)
	})
	if err != nil {
		return nil, err
	}

	return v.(*Claim), nil
}

func (s *Service) claim(ctx context.Context, marketID, userID, key string) (*Claim, error) {
	m, err := s.book.Get(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if !m.Resolved {
		return nil, errors.Precondition(errors.ReasonInvalidTransition, "market %s is not resolved", marketID)
	}

	pos, err := s.book.Position(ctx, marketID, userID)
	if err != nil {
		return nil, err
	}
	shares := pos.Of(m.Winner)
	if !shares.IsPositive() {
		return nil, errors.Precondition(errors.ReasonNotParticipant, "%s holds no winning shares in market %s", userID, marketID)
	}

	totals, err := s.totals.Totals(ctx, marketID)
	if err != nil {
		return nil, err
	}

	w, err := settlement.ComputeWinnings(settlement.WinningsInput{
		TotalWinningShares:    totals.Of(m.Winner),
		TotalLosingShares:     totals.Of(m.Winner.Opposite()),
		UserShares:            shares,
		CreatorFeePercentage:  m.CreatorFeePercentage,
		PlatformFeePercentage: s.platformFee,
	})
	if err != nil {
		return nil, err
	}

	plan, err := s.claimPlan(ctx, key, m.Token, userID, w.Payout.Truncate(settlement.DefaultPlaces))
	if err != nil {
		return nil, err
	}

	sum, err := s.pd.Dispatch(ctx, plan, nil)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "market: claim settled", "market", marketID, "user", userID,
		"amount", plan.Total.String(), "succeeded", sum.Succeeded, "failed", sum.Failed)

	return &Claim{Plan: plan, Winnings: w, Summary: sum}, nil
}

// claimPlan prefers a plan stored by an earlier attempt over a freshly computed one.
func (s *Service) claimPlan(ctx context.Context, key, token, userID string, amount decimal.Decimal) (domain.SettlementPlan, error) {
	if s.store != nil {
		p, err := s.store.GetPlan(ctx, key)
		if err == nil {
			return *p, nil
		}
		if errors.Convert(err).Code != errors.CodeNotFound {
			return domain.SettlementPlan{}, err
		}
	}

	return settlement.Transfer(key, token, userID, amount)
}

func claimKey(marketID, userID string) string {
	return "market:" + marketID + "/claim/" + userID
}

func feeKey(marketID string) string {
	return "market:" + marketID + "/creator-fee"
}

func refundKey(marketID string, block uint64) string {
	return "market:" + marketID + "/refund/" + strconv.FormatUint(block, 10)
}
