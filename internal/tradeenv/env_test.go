package tradeenv

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"

	"qtrader/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleAsset(t *testing.T, prices ...float64) *market.Series {
	t.Helper()
	bars := make([]market.Bar, 0, len(prices))
	for _, p := range prices {
		bars = append(bars, market.Bar{Price: p, High: p + 1, Low: p - 1, Volume: 10})
	}
	s, err := market.NewSeries([]market.AssetID{"BTCUSDT"}, map[market.AssetID][]market.Bar{"BTCUSDT": bars})
	require.NoError(t, err)
	return s
}

func twoAssets(t *testing.T) *market.Series {
	t.Helper()
	s, err := market.NewSeries(
		[]market.AssetID{"BTCUSDT", "ETHUSDT"},
		map[market.AssetID][]market.Bar{
			"BTCUSDT": {{Price: 100}, {Price: 110}, {Price: 90}, {Price: 120}, {Price: 130}},
			"ETHUSDT": {{Price: 10}, {Price: 12}, {Price: 9}},
		},
	)
	require.NoError(t, err)
	return s
}

func zeroCommission(balance float64) Options {
	return Options{
		InitialBalance: decimal.NewFromFloat(balance),
		Commission:     decimal.Zero,
		MinTradeAmount: decimal.NewFromInt(1),
	}
}

func TestBuyHoldSellScenario(t *testing.T) {
	env, err := New(singleAsset(t, 100, 105, 95), zeroCommission(1000))
	require.NoError(t, err)

	res, err := env.Step([]Action{Buy})
	require.NoError(t, err)
	assert.True(t, env.Holding(0).Equal(decimal.NewFromInt(1)))
	assert.True(t, env.Balance().Equal(decimal.NewFromInt(900)))
	assert.True(t, env.TotalValue().Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 0.0, res.Reward)
	assert.False(t, res.Done)

	res, err = env.Step([]Action{Hold})
	require.NoError(t, err)
	assert.True(t, env.TotalValue().Equal(decimal.NewFromInt(1005)))
	assert.InDelta(t, 5.0, res.Reward, 1e-9)

	res, err = env.Step([]Action{Sell})
	require.NoError(t, err)
	assert.True(t, env.Holding(0).IsZero())
	assert.True(t, env.Balance().Equal(decimal.NewFromInt(995)))
	assert.True(t, env.TotalValue().Equal(decimal.NewFromInt(995)))
	assert.InDelta(t, -10.0, res.Reward, 1e-9)
	assert.True(t, res.Done)
	assert.Empty(t, res.Info)
}

func TestInsufficientFundsDegradesToHold(t *testing.T) {
	env, err := New(singleAsset(t, 100, 100), zeroCommission(50))
	require.NoError(t, err)

	res, err := env.Step([]Action{Buy})
	require.NoError(t, err)
	assert.True(t, env.Balance().Equal(decimal.NewFromInt(50)))
	assert.True(t, env.Holding(0).IsZero())
	assert.Equal(t, 0.0, res.Reward)

	fills := env.LastFills()
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Rejected())
	assert.Equal(t, Hold, fills[0].Executed)
}

func TestSellWithoutHoldingsDegradesToHold(t *testing.T) {
	env, err := New(singleAsset(t, 100, 100), zeroCommission(1000))
	require.NoError(t, err)
	_, err = env.Step([]Action{Sell})
	require.NoError(t, err)
	assert.True(t, env.Balance().Equal(decimal.NewFromInt(1000)))
	assert.True(t, env.Holding(0).IsZero())
}

func TestEmptyDataset(t *testing.T) {
	_, err := New(nil, zeroCommission(1000))
	assert.ErrorIs(t, err, ErrEmptyDataset)

	_, err = market.NewSeries(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestInvalidActionIsFatalAndLeavesStateUntouched(t *testing.T) {
	env, err := New(twoAssets(t), zeroCommission(1000))
	require.NoError(t, err)

	_, err = env.Step([]Action{Buy, Action(7)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAction)
	var invalid *InvalidActionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, market.AssetID("ETHUSDT"), invalid.Asset)

	assert.Equal(t, 0, env.CurrentStep())
	assert.True(t, env.Balance().Equal(decimal.NewFromInt(1000)))
	assert.True(t, env.Holding(0).IsZero())

	_, err = env.Step([]Action{Buy})
	assert.ErrorIs(t, err, ErrActionCount)
}

func TestObservationLayoutAndStaleFallback(t *testing.T) {
	env, err := New(twoAssets(t), zeroCommission(1000))
	require.NoError(t, err)

	obs := env.Observation()
	require.Len(t, obs, 8)
	assert.Equal(t, 100.0, obs[0])
	assert.Equal(t, 10.0, obs[4])

	late := env.ObservationAt(3)
	assert.Equal(t, 120.0, late[0])
	assert.Equal(t, 9.0, late[4])
	assert.Equal(t, late[4:], env.ObservationAt(40)[4:])
}

func TestStaleQuotePriceIsStable(t *testing.T) {
	env, err := New(twoAssets(t), zeroCommission(1000))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := env.Step([]Action{Hold, Hold})
		require.NoError(t, err)
	}
	assert.Empty(t, env.LastStale())

	_, err = env.Step([]Action{Hold, Buy})
	require.NoError(t, err)
	assert.Equal(t, []market.AssetID{"ETHUSDT"}, env.LastStale())
	first := env.Prices()[1]

	_, err = env.Step([]Action{Hold, Hold})
	require.NoError(t, err)
	assert.True(t, first.Equal(env.Prices()[1]))
	assert.True(t, first.Equal(decimal.NewFromInt(9)))
}

func TestTerminationBound(t *testing.T) {
	env, err := New(twoAssets(t), zeroCommission(1000))
	require.NoError(t, err)
	// 8 rows / 2 assets = 4 steps, done once current_step reaches 3.
	require.Equal(t, 4, env.NumSteps())

	for want := 1; want <= 3; want++ {
		res, err := env.Step([]Action{Hold, Hold})
		require.NoError(t, err)
		assert.Equal(t, want, env.CurrentStep())
		assert.Equal(t, want == 3, res.Done, "step %d", want)
	}
}

func TestResetIdempotent(t *testing.T) {
	env, err := New(twoAssets(t), zeroCommission(1000))
	require.NoError(t, err)
	_, _ = env.Step([]Action{Buy, Buy})

	first := env.Reset(nil)
	snap1 := env.Portfolio()
	seed := int64(42)
	second := env.Reset(&seed)
	snap2 := env.Portfolio()

	assert.Equal(t, first, second)
	assert.Equal(t, snap1, snap2)
	assert.Equal(t, 0, env.CurrentStep())
	assert.True(t, env.TotalValue().Equal(decimal.NewFromInt(1000)))
}

func TestAccountingInvariantAndNonNegativity(t *testing.T) {
	opts := Options{
		InitialBalance: decimal.NewFromInt(250),
		Commission:     decimal.NewFromFloat(0.001),
		MinTradeAmount: decimal.NewFromFloat(0.5),
	}
	env, err := New(twoAssets(t), opts)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(7, 11))

	for episode := 0; episode < 50; episode++ {
		env.Reset(nil)
		for {
			step := env.CurrentStep()
			actions := []Action{Action(rng.IntN(NumActions)), Action(rng.IntN(NumActions))}
			res, err := env.Step(actions)
			require.NoError(t, err)

			want := env.Balance()
			for i := 0; i < env.NumAssets(); i++ {
				bar, _ := env.Series().At(i, step)
				want = want.Add(env.Holding(i).Mul(decimal.NewFromFloat(bar.Price)))
				assert.False(t, env.Holding(i).IsNegative())
			}
			assert.False(t, env.Balance().IsNegative())
			assert.True(t, want.Sub(env.TotalValue()).Abs().LessThan(decimal.New(1, -8)))
			if res.Done {
				break
			}
		}
	}
}

func TestRewardScaleDivides(t *testing.T) {
	opts := zeroCommission(1000)
	opts.RewardScale = 100
	env, err := New(singleAsset(t, 100, 105, 95), opts)
	require.NoError(t, err)
	_, _ = env.Step([]Action{Buy})
	res, err := env.Step([]Action{Hold})
	require.NoError(t, err)
	assert.InDelta(t, 0.05, res.Reward, 1e-12)
}

func TestRender(t *testing.T) {
	env, err := New(twoAssets(t), zeroCommission(1000))
	require.NoError(t, err)
	_, _ = env.Step([]Action{Buy, Hold})

	var buf bytes.Buffer
	require.NoError(t, env.Render(&buf))
	assert.Equal(t,
		"Step: 1, Balance: 900.00, Holdings: {BTCUSDT: 1.00, ETHUSDT: 0.00}, Total Value: 1000.00\n",
		buf.String())
}
