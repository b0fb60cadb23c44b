package market_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/event"
	"github.com/sam-thetutor/wahala/internal/market"
)

type fakeReader struct {
	totals    market.Totals
	head      uint64
	totalsErr error
	headErr   error
}

func (f fakeReader) Totals(context.Context, string) (market.Totals, error) {
	return f.totals, f.totalsErr
}

func (f fakeReader) Head(context.Context) (uint64, error) {
	return f.head, f.headErr
}

func TestReconciler_Totals(t *testing.T) {
	chainTotals := market.Totals{Yes: dec("100"), No: dec("50"), Block: 40}
	indexTotals := market.Totals{Yes: dec("90"), No: dec("50"), Block: 35}
	down := errors.Transient(nil, "rpc down")

	tests := map[string]struct {
		chain fakeReader
		index fakeReader

		want     market.Totals
		wantCode errors.Code
	}{
		"chain wins over a lagging index": {
			chain: fakeReader{totals: chainTotals, head: 40},
			index: fakeReader{totals: indexTotals, head: 35},
			want:  chainTotals,
		},
		"index within lag when chain totals fail": {
			chain: fakeReader{totalsErr: down, head: 40},
			index: fakeReader{totals: indexTotals, head: 35},
			want:  indexTotals,
		},
		"index too far behind": {
			chain:    fakeReader{totalsErr: down, head: 60},
			index:    fakeReader{totals: indexTotals, head: 35},
			wantCode: errors.CodeUnavailable,
		},
		"chain unreachable": {
			chain:    fakeReader{totalsErr: down, headErr: down},
			index:    fakeReader{totals: indexTotals, head: 35},
			wantCode: errors.CodeUnavailable,
		},
		"unknown market is not retried on the index": {
			chain:    fakeReader{totalsErr: errors.NotFound("market m1 not found")},
			index:    fakeReader{totals: indexTotals, head: 35},
			wantCode: errors.CodeNotFound,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r := market.NewReconciler(tc.chain, tc.index, 10)

			got, err := r.Totals(context.Background(), "m1")
			if tc.wantCode != 0 {
				require.Error(t, err)
				assert.Equal(t, tc.wantCode, errors.Convert(err).Code)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIndex_FollowsBook(t *testing.T) {
	ctx := context.Background()
	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	book := market.NewBook(eb)
	idx := market.NewIndex(eb)

	m, err := book.Create(ctx, market.CreateRequest{Question: "q", CreatorID: "creator", Token: token})
	require.NoError(t, err)

	_, err = book.Buy(ctx, m.MarketID, "alice", market.OutcomeYes, dec("3"))
	require.NoError(t, err)
	_, err = book.Buy(ctx, m.MarketID, "bob", market.OutcomeNo, dec("2"))
	require.NoError(t, err)

	want, err := book.Totals(ctx, m.MarketID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := idx.Totals(ctx, m.MarketID)
		return err == nil && got.Block == want.Block
	}, time.Second, 5*time.Millisecond)

	head, err := idx.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Block, head)
}

func TestBook_Trade(t *testing.T) {
	ctx := context.Background()
	book := market.NewBook(nil)

	m, err := book.Create(ctx, market.CreateRequest{Question: "q", CreatorID: "creator", Token: token})
	require.NoError(t, err)

	_, err = book.Buy(ctx, m.MarketID, "alice", market.OutcomeYes, dec("5"))
	require.NoError(t, err)

	tests := map[string]struct {
		act        func() error
		wantCode   errors.Code
		wantReason errors.Reason
	}{
		"non positive amount": {
			act: func() error {
				_, err := book.Buy(ctx, m.MarketID, "alice", market.OutcomeYes, dec("0"))
				return err
			},
			wantCode: errors.CodeInvalidArgument,
		},
		"unknown outcome": {
			act: func() error {
				_, err := book.Buy(ctx, m.MarketID, "alice", market.Outcome("MAYBE"), dec("1"))
				return err
			},
			wantCode: errors.CodeInvalidArgument,
		},
		"selling more than held": {
			act: func() error {
				_, err := book.Sell(ctx, m.MarketID, "alice", market.OutcomeYes, dec("6"))
				return err
			},
			wantCode:   errors.CodeFailedPrecondition,
			wantReason: errors.ReasonInsufficientFunds,
		},
		"selling the other side": {
			act: func() error {
				_, err := book.Sell(ctx, m.MarketID, "alice", market.OutcomeNo, dec("1"))
				return err
			},
			wantCode:   errors.CodeFailedPrecondition,
			wantReason: errors.ReasonInsufficientFunds,
		},
		"resolving as someone else": {
			act: func() error {
				_, err := book.Resolve(ctx, m.MarketID, "alice", market.OutcomeYes)
				return err
			},
			wantCode:   errors.CodePermissionDenied,
			wantReason: errors.ReasonNotAdmin,
		},
		"unknown market": {
			act: func() error {
				_, err := book.Buy(ctx, "nope", "alice", market.OutcomeYes, dec("1"))
				return err
			},
			wantCode: errors.CodeNotFound,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := tc.act()
			require.Error(t, err)

			e := errors.Convert(err)
			assert.Equal(t, tc.wantCode, e.Code)
			assert.Equal(t, tc.wantReason, e.Reason)
		})
	}

	pos, err := book.Position(ctx, m.MarketID, "alice")
	require.NoError(t, err)
	assert.True(t, pos.Yes.Equal(dec("5")), "rejected trades leave positions unchanged")

	_, err = book.Resolve(ctx, m.MarketID, "creator", market.OutcomeNo)
	require.NoError(t, err)
	_, err = book.Resolve(ctx, m.MarketID, "creator", market.OutcomeYes)
	assert.True(t, errors.HasReason(err, errors.ReasonMarketResolved))
}

func TestParseOutcome(t *testing.T) {
	o, err := market.ParseOutcome("yes")
	require.NoError(t, err)
	assert.Equal(t, market.OutcomeYes, o)

	_, err = market.ParseOutcome("maybe")
	assert.Error(t, err)
}
