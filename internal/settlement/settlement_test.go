package settlement_test

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/settlement"
)

func standings(points ...int) []domain.Standing {
	out := make([]domain.Standing, 0, len(points))
	for i, p := range points {
		out = append(out, domain.Standing{UserID: fmt.Sprintf("u%d", i+1), Score: p})
	}
	return out
}

func decimals(vs ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(vs))
	for _, v := range vs {
		out = append(out, decimal.NewFromInt(v))
	}
	return out
}

func TestLinear(t *testing.T) {
	in := standings(500, 400, 400, 300, 100)

	p, err := settlement.Linear("room-1", "USDC", in, decimals(10, 5, 2), 3)
	require.NoError(t, err)

	require.Len(t, p.Entries, 3)
	assert.Equal(t, domain.PlanEntry{Recipient: "u1", Amount: decimal.NewFromInt(10), Rank: 1}, p.Entries[0])
	assert.Equal(t, domain.PlanEntry{Recipient: "u2", Amount: decimal.NewFromInt(5), Rank: 2}, p.Entries[1])
	assert.Equal(t, domain.PlanEntry{Recipient: "u3", Amount: decimal.NewFromInt(2), Rank: 3}, p.Entries[2])
	assert.True(t, decimal.NewFromInt(17).Equal(p.Total))

	again, err := settlement.Linear("room-1", "USDC", in, decimals(10, 5, 2), 3)
	require.NoError(t, err)
	assert.Equal(t, p, again, "recomputing a plan must be idempotent")
	assert.NotEmpty(t, p.PlanID)
}

func TestLinear_FewerParticipantsThanWinners(t *testing.T) {
	p, err := settlement.Linear("room-1", "USDC", standings(10), decimals(10, 5, 2), 3)
	require.NoError(t, err)
	require.Len(t, p.Entries, 1)
	assert.Equal(t, "u1", p.Entries[0].Recipient)
}

func TestLinear_Validation(t *testing.T) {
	_, err := settlement.Linear("room-1", "USDC", standings(10), decimals(10), 3)
	require.True(t, errors.Convert(err).Code == errors.CodeInvalidArgument)

	_, err = settlement.Linear("room-1", "USDC", standings(10), decimals(10), 0)
	require.True(t, errors.Convert(err).Code == errors.CodeInvalidArgument)
}

func TestQuadratic_SumsToPool(t *testing.T) {
	pool := decimal.RequireFromString("1000")

	sets := map[string][]domain.Standing{
		"single":       standings(300),
		"spread":       standings(1200, 900, 450, 100, 0),
		"all zero":     standings(0, 0, 0),
		"many players": standings(1, 2, 3, 5, 8, 13, 21, 34, 55, 89, 144, 233),
	}

	for name, in := range sets {
		in := in
		for _, w := range []float64{0, 0.25, 0.5, 0.75, 1} {
			w := w
			t.Run(fmt.Sprintf("%s/weight=%v", name, w), func(t *testing.T) {
				t.Parallel()

				p, err := settlement.Quadratic("room-1", "USDC", in, pool, w, settlement.DefaultPlaces)
				require.NoError(t, err)

				sum := decimal.Zero
				for _, e := range p.Entries {
					require.True(t, e.Amount.IsPositive())
					sum = sum.Add(e.Amount)
				}
				assert.True(t, pool.Equal(sum), "sum %s != pool %s", sum, pool)
				assert.True(t, pool.Equal(p.Total))
			})
		}
	}
}

func TestQuadratic_Weights(t *testing.T) {
	pool := decimal.NewFromInt(100)

	// Pure performance: 400 points earns twice the share of 100 points.
	p, err := settlement.Quadratic("room-1", "USDC", standings(400, 100), pool, 1, 2)
	require.NoError(t, err)
	require.Len(t, p.Entries, 2)
	assert.Equal(t, "66.67", p.Entries[0].Amount.StringFixed(2))
	assert.Equal(t, "33.33", p.Entries[1].Amount.StringFixed(2))

	// Pure participation ignores points entirely.
	a, err := settlement.Quadratic("room-1", "USDC", standings(400, 100), pool, 0, 2)
	require.NoError(t, err)
	b, err := settlement.Quadratic("room-1", "USDC", standings(9000, 1), pool, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, a.Entries[0].Amount, b.Entries[0].Amount)
	assert.Equal(t, a.Entries[1].Amount, b.Entries[1].Amount)

	again, err := settlement.Quadratic("room-1", "USDC", standings(400, 100), pool, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestQuadratic_Validation(t *testing.T) {
	tests := map[string]struct {
		pool   decimal.Decimal
		weight float64
		in     []domain.Standing
	}{
		"weight above one":  {pool: decimal.NewFromInt(1), weight: 1.5, in: standings(1)},
		"negative weight":   {pool: decimal.NewFromInt(1), weight: -0.1, in: standings(1)},
		"zero pool":         {pool: decimal.Zero, weight: 0.5, in: standings(1)},
		"no standings":      {pool: decimal.NewFromInt(1), weight: 0.5},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := settlement.Quadratic("room-1", "USDC", tt.in, tt.pool, tt.weight, 2)
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(err).Code)
		})
	}
}

func TestPlan_DisabledRewards(t *testing.T) {
	_, err := settlement.Plan("room-1", domain.RewardConfig{}, standings(1))
	require.Error(t, err)
}

func TestComputeWinnings(t *testing.T) {
	d := decimal.RequireFromString

	tests := map[string]struct {
		in        settlement.WinningsInput
		wantTotal string
		wantPay   string
	}{
		"no losing stake returns own stake": {
			in: settlement.WinningsInput{
				TotalWinningShares:    d("100"),
				TotalLosingShares:     d("0"),
				UserShares:            d("10"),
				CreatorFeePercentage:  d("5"),
				PlatformFeePercentage: d("15"),
			},
			wantTotal: "100",
			wantPay:   "10",
		},
		"sole winner takes net losing stake": {
			in: settlement.WinningsInput{
				TotalWinningShares:    d("100"),
				TotalLosingShares:     d("100"),
				UserShares:            d("100"),
				CreatorFeePercentage:  d("5"),
				PlatformFeePercentage: d("15"),
			},
			wantTotal: "180",
			wantPay:   "180",
		},
		"partial holder gets pro rata share": {
			in: settlement.WinningsInput{
				TotalWinningShares:    d("100"),
				TotalLosingShares:     d("100"),
				UserShares:            d("25"),
				CreatorFeePercentage:  d("5"),
				PlatformFeePercentage: d("15"),
			},
			wantTotal: "180",
			wantPay:   "45",
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			w, err := settlement.ComputeWinnings(tt.in)
			require.NoError(t, err)
			assert.True(t, d(tt.wantTotal).Equal(w.TotalWinnerAmount), "total %s", w.TotalWinnerAmount)
			assert.True(t, d(tt.wantPay).Equal(w.Payout), "payout %s", w.Payout)
		})
	}
}

func TestComputeWinnings_ZeroWinningSharesIsRejected(t *testing.T) {
	_, err := settlement.ComputeWinnings(settlement.WinningsInput{
		TotalWinningShares: decimal.Zero,
		TotalLosingShares:  decimal.NewFromInt(50),
	})
	require.Error(t, err)
	assert.True(t, errors.HasReason(err, errors.ReasonSettlementInvariant))
}

func TestTransfer(t *testing.T) {
	a, err := settlement.Transfer("market:m1/claim/alice", "USDC", "alice", decimal.RequireFromString("18"))
	require.NoError(t, err)
	b, err := settlement.Transfer("market:m1/claim/alice", "USDC", "alice", decimal.RequireFromString("18"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, domain.RewardTransfer, a.Mode)
	assert.True(t, a.Total.Equal(decimal.NewFromInt(18)))

	_, err = settlement.Transfer("market:m1/claim/alice", "USDC", "alice", decimal.Zero)
	assert.ErrorIs(t, err, errors.New(errors.CodeInvalidArgument))
}
