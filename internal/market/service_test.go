package market_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/event"
	"github.com/sam-thetutor/wahala/internal/ledger"
	"github.com/sam-thetutor/wahala/internal/market"
	"github.com/sam-thetutor/wahala/internal/payout"
	"github.com/sam-thetutor/wahala/internal/store"
)

const token = "cUSD"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	book   *market.Book
	ledger *ledger.Simulated
	svc    *market.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	st := store.NewMemory()
	l := ledger.NewSimulated(0)
	l.Fund(ledger.Treasury, token, dec("1000"))

	book := market.NewBook(eb)
	svc := market.NewService(market.Config{
		Book:                  book,
		Totals:                market.NewReconciler(book, market.NewIndex(eb), 10),
		Payouts:               payout.NewDispatcher(payout.Config{Store: st, Ledger: l, RetryDelay: time.Millisecond}),
		Store:                 st,
		PlatformFeePercentage: dec("15"),
	})

	return fixture{book: book, ledger: l, svc: svc}
}

func (f fixture) create(t *testing.T) *market.Market {
	t.Helper()

	m, err := f.book.Create(context.Background(), market.CreateRequest{
		Question:             "Will it rain in Lagos tomorrow?",
		CreatorID:            "creator",
		Token:                token,
		CreatorFeePercentage: dec("5"),
	})
	require.NoError(t, err)
	return m
}

func (f fixture) buy(t *testing.T, marketID, user string, o market.Outcome, amount string) {
	t.Helper()

	_, err := f.book.Buy(context.Background(), marketID, user, o, dec(amount))
	require.NoError(t, err)
}

func TestService_ResolveAndClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.create(t)

	f.buy(t, m.MarketID, "alice", market.OutcomeYes, "60")
	f.buy(t, m.MarketID, "bob", market.OutcomeYes, "40")
	f.buy(t, m.MarketID, "carol", market.OutcomeNo, "100")

	_, err := f.svc.Claim(ctx, m.MarketID, "alice")
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidTransition), "claim before resolution")

	res, err := f.svc.Resolve(ctx, m.MarketID, "creator", market.OutcomeYes)
	require.NoError(t, err)
	assert.True(t, res.CreatorFee.Equal(dec("5")))
	require.NotNil(t, res.Payout)
	assert.Equal(t, 1, res.Payout.Succeeded)
	assert.True(t, f.ledger.Balance("creator", token).Equal(dec("5")))

	// 100 winning shares share 100 + (100 - 5 - 15) = 180.
	tests := map[string]struct {
		user string
		want string
	}{
		"larger holder": {user: "alice", want: "108"},
		"smaller holder": {user: "bob", want: "72"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c, err := f.svc.Claim(ctx, m.MarketID, tc.user)
			require.NoError(t, err)
			assert.True(t, c.Winnings.TotalWinnerAmount.Equal(dec("180")))
			assert.True(t, c.Plan.Total.Equal(dec(tc.want)), c.Plan.Total.String())
			assert.Equal(t, 1, c.Summary.Succeeded)
			assert.True(t, f.ledger.Balance(tc.user, token).Equal(dec(tc.want)))
		})
	}

	t.Run("claiming twice pays once", func(t *testing.T) {
		before := len(f.ledger.Transfers())

		c, err := f.svc.Claim(ctx, m.MarketID, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, c.Summary.Succeeded)
		assert.Len(t, f.ledger.Transfers(), before)
		assert.True(t, f.ledger.Balance("alice", token).Equal(dec("108")))
	})

	t.Run("losers have nothing to claim", func(t *testing.T) {
		_, err := f.svc.Claim(ctx, m.MarketID, "carol")
		assert.True(t, errors.HasReason(err, errors.ReasonNotParticipant))
	})

	t.Run("trading stops after resolution", func(t *testing.T) {
		_, err := f.book.Buy(ctx, m.MarketID, "dave", market.OutcomeNo, dec("1"))
		assert.True(t, errors.HasReason(err, errors.ReasonMarketResolved))
	})
}

func TestService_ClaimWithoutLosingStake(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.create(t)

	f.buy(t, m.MarketID, "alice", market.OutcomeYes, "10")
	f.buy(t, m.MarketID, "bob", market.OutcomeYes, "90")

	res, err := f.svc.Resolve(ctx, m.MarketID, "creator", market.OutcomeYes)
	require.NoError(t, err)
	assert.True(t, res.CreatorFee.IsZero())
	assert.Nil(t, res.Payout)

	c, err := f.svc.Claim(ctx, m.MarketID, "alice")
	require.NoError(t, err)
	assert.True(t, c.Plan.Total.Equal(dec("10")))
}

func TestService_Sell(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.create(t)

	f.buy(t, m.MarketID, "dave", market.OutcomeNo, "10")

	sale, err := f.svc.Sell(ctx, m.MarketID, "dave", market.OutcomeNo, dec("4"))
	require.NoError(t, err)
	assert.True(t, sale.Trade.Position.No.Equal(dec("6")))
	assert.Equal(t, 1, sale.Refund.Succeeded)
	assert.True(t, f.ledger.Balance("dave", token).Equal(dec("4")))

	_, err = f.svc.Sell(ctx, m.MarketID, "dave", market.OutcomeNo, dec("7"))
	assert.True(t, errors.HasReason(err, errors.ReasonInsufficientFunds))
	assert.True(t, f.ledger.Balance("dave", token).Equal(dec("4")))
}
