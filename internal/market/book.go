// Package market runs binary prediction markets: holders buy and sell outcome shares until the creator resolves
// the market, after which winning holders claim their share of the pool.
package market

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/event"
	"github.com/sam-thetutor/wahala/internal/metrics"
)

type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// ParseOutcome accepts an outcome in any letter case.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToUpper(s)); o {
	case OutcomeYes, OutcomeNo:
		return o, nil
	default:
		return "", errors.Validation("unknown outcome %q", s)
	}
}

func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Totals are the shares outstanding on each side as of Block.
type Totals struct {
	Yes   decimal.Decimal
	No    decimal.Decimal
	Block uint64
}

func (t Totals) Of(o Outcome) decimal.Decimal {
	if o == OutcomeYes {
		return t.Yes
	}
	return t.No
}

func (t *Totals) add(o Outcome, d decimal.Decimal) {
	if o == OutcomeYes {
		t.Yes = t.Yes.Add(d)
	} else {
		t.No = t.No.Add(d)
	}
}

type Market struct {
	MarketID  string
	Question  string
	CreatorID string
	Token     string

	CreatorFeePercentage decimal.Decimal

	Totals   Totals
	Resolved bool
	Winner   Outcome

	CreateTime  time.Time
	ResolveTime *time.Time
}

type Position struct {
	MarketID string
	UserID   string
	Yes      decimal.Decimal
	No       decimal.Decimal
}

func (p Position) Of(o Outcome) decimal.Decimal {
	if o == OutcomeYes {
		return p.Yes
	}
	return p.No
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is one accepted buy or sell. Block orders trades within the book.
type Trade struct {
	MarketID string
	UserID   string
	Side     Side
	Outcome  Outcome
	Amount   decimal.Decimal
	Block    uint64
	Position Position
}

const EventNameTotalsChanged = "market.totals_changed"

// EventTotalsChanged is published after every trade.
type EventTotalsChanged struct {
	MarketID string
	Totals   Totals
}

func (EventTotalsChanged) Name() string { return EventNameTotalsChanged }

// Book is the authoritative in-memory ledger of markets and positions. Every mutation advances its block height,
// so it doubles as the chain the reconciler reads from.
type Book struct {
	eb *event.Bus

	mu        sync.RWMutex
	block     uint64
	markets   map[string]*Market
	positions map[string]map[string]*Position
}

func NewBook(eb *event.Bus) *Book {
	return &Book{
		eb:        eb,
		markets:   make(map[string]*Market),
		positions: make(map[string]map[string]*Position),
	}
}

type CreateRequest struct {
	Question             string
	CreatorID            string
	Token                string
	CreatorFeePercentage decimal.Decimal
}

func (b *Book) Create(ctx context.Context, req CreateRequest) (*Market, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, errors.Validation("question is required")
	}
	if req.CreatorID == "" {
		return nil, errors.Validation("creator is required")
	}
	if req.Token == "" {
		return nil, errors.Validation("token is required")
	}
	if req.CreatorFeePercentage.IsNegative() || req.CreatorFeePercentage.GreaterThanOrEqual(hundred) {
		return nil, errors.Validation("creator fee must be in [0, 100), got %s", req.CreatorFeePercentage)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(err)
	}

	m := &Market{
		MarketID:             id.String(),
		Question:             req.Question,
		CreatorID:            req.CreatorID,
		Token:                req.Token,
		CreatorFeePercentage: req.CreatorFeePercentage,
		CreateTime:           time.Now(),
	}

	b.mu.Lock()
	m.Totals.Block = b.block
	b.markets[m.MarketID] = m
	b.positions[m.MarketID] = make(map[string]*Position)
	out := *m
	b.mu.Unlock()

	slog.InfoContext(ctx, "market: created", "market", m.MarketID, "creator", m.CreatorID)

	return &out, nil
}

func (b *Book) Get(_ context.Context, marketID string) (*Market, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m, ok := b.markets[marketID]
	if !ok {
		return nil, errors.NotFound("market %s not found", marketID)
	}

	out := *m
	return &out, nil
}

// Position returns the holdings of userID, which are zero if the user never traded.
func (b *Book) Position(_ context.Context, marketID, userID string) (Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.markets[marketID]; !ok {
		return Position{}, errors.NotFound("market %s not found", marketID)
	}

	if p, ok := b.positions[marketID][userID]; ok {
		return *p, nil
	}
	return Position{MarketID: marketID, UserID: userID}, nil
}

func (b *Book) Buy(ctx context.Context, marketID, userID string, o Outcome, amount decimal.Decimal) (Trade, error) {
	return b.trade(ctx, marketID, userID, SideBuy, o, amount)
}

// Sell returns shares before resolution. The seller cannot sell more than they hold.
func (b *Book) Sell(ctx context.Context, marketID, userID string, o Outcome, amount decimal.Decimal) (Trade, error) {
	return b.trade(ctx, marketID, userID, SideSell, o, amount)
}

func (b *Book) trade(ctx context.Context, marketID, userID string, side Side, o Outcome, amount decimal.Decimal) (Trade, error) {
	if userID == "" {
		return Trade{}, errors.Validation("user is required")
	}
	if o != OutcomeYes && o != OutcomeNo {
		return Trade{}, errors.Validation("unknown outcome %q", o)
	}
	if !amount.IsPositive() {
		return Trade{}, errors.Validation("amount must be positive, got %s", amount)
	}

	b.mu.Lock()
	m, ok := b.markets[marketID]
	if !ok {
		b.mu.Unlock()
		return Trade{}, errors.NotFound("market %s not found", marketID)
	}
	if m.Resolved {
		b.mu.Unlock()
		return Trade{}, errors.Precondition(errors.ReasonMarketResolved, "market %s is resolved", marketID)
	}

	p, ok := b.positions[marketID][userID]
	if !ok {
		p = &Position{MarketID: marketID, UserID: userID}
	}

	delta := amount
	if side == SideSell {
		if p.Of(o).LessThan(amount) {
			b.mu.Unlock()
			return Trade{}, errors.Precondition(errors.ReasonInsufficientFunds, "holding %s %s shares, cannot sell %s", p.Of(o), o, amount)
		}
		delta = amount.Neg()
	}

	if o == OutcomeYes {
		p.Yes = p.Yes.Add(delta)
	} else {
		p.No = p.No.Add(delta)
	}
	b.positions[marketID][userID] = p

	b.block++
	m.Totals.add(o, delta)
	m.Totals.Block = b.block

	t := Trade{
		MarketID: marketID,
		UserID:   userID,
		Side:     side,
		Outcome:  o,
		Amount:   amount,
		Block:    b.block,
		Position: *p,
	}
	totals := m.Totals
	b.mu.Unlock()

	metrics.MarketTrades.WithLabelValues(string(side)).Inc()
	if b.eb != nil {
		b.eb.Publish(ctx, EventTotalsChanged{MarketID: marketID, Totals: totals})
	}

	return t, nil
}

// Resolve closes trading and fixes the winning outcome. Only the creator may resolve, and only once.
func (b *Book) Resolve(ctx context.Context, marketID, callerID string, winner Outcome) (*Market, error) {
	if winner != OutcomeYes && winner != OutcomeNo {
		return nil, errors.Validation("unknown outcome %q", winner)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.markets[marketID]
	if !ok {
		return nil, errors.NotFound("market %s not found", marketID)
	}
	if m.CreatorID != callerID {
		return nil, errors.New(errors.CodePermissionDenied, errors.WithReason(errors.ReasonNotAdmin),
			errors.WithMessagef("only the creator may resolve market %s", marketID))
	}
	if m.Resolved {
		return nil, errors.Precondition(errors.ReasonMarketResolved, "market %s is already resolved", marketID)
	}

	now := time.Now()
	m.Resolved = true
	m.Winner = winner
	m.ResolveTime = &now

	slog.InfoContext(ctx, "market: resolved", "market", marketID, "winner", winner,
		"yes", m.Totals.Yes.String(), "no", m.Totals.No.String())

	out := *m
	return &out, nil
}

// Totals reads the live totals of a market.
func (b *Book) Totals(_ context.Context, marketID string) (Totals, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m, ok := b.markets[marketID]
	if !ok {
		return Totals{}, errors.NotFound("market %s not found", marketID)
	}
	return m.Totals, nil
}

// Head is the book's current block height.
func (b *Book) Head(context.Context) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.block, nil
}

var hundred = decimal.NewFromInt(100)
