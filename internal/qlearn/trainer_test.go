package qlearn

import (
	"io"
	"testing"

	"qtrader/internal/market"
	"qtrader/internal/portfolio"
	"qtrader/internal/tradeenv"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnv(t *testing.T) *tradeenv.Environment {
	t.Helper()
	series, err := market.NewSeries(
		[]market.AssetID{"BTCUSDT", "ETHUSDT"},
		map[market.AssetID][]market.Bar{
			"BTCUSDT": {{Price: 100}, {Price: 104}, {Price: 98}, {Price: 110}, {Price: 120}, {Price: 115}},
			"ETHUSDT": {{Price: 10}, {Price: 9}, {Price: 12}, {Price: 13}},
		},
	)
	require.NoError(t, err)
	env, err := tradeenv.New(series, tradeenv.Options{
		InitialBalance: decimal.NewFromInt(1000),
		Commission:     decimal.NewFromFloat(0.001),
		MinTradeAmount: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	return env
}

// scriptedEnv pays a fixed reward per step and is done at the last step.
type scriptedEnv struct {
	rewards []float64
	assets  int
	step    int
	steps   int
}

func (e *scriptedEnv) Reset(*int64) []float64 {
	e.step = 0
	return nil
}

func (e *scriptedEnv) Step([]tradeenv.Action) (tradeenv.StepResult, error) {
	r := e.rewards[e.step]
	e.step++
	return tradeenv.StepResult{Reward: r, Done: e.step >= e.steps-1, Info: map[string]any{}}, nil
}

func (e *scriptedEnv) CurrentStep() int              { return e.step }
func (e *scriptedEnv) NumSteps() int                 { return e.steps }
func (e *scriptedEnv) NumAssets() int                { return e.assets }
func (e *scriptedEnv) TotalValue() decimal.Decimal   { return decimal.Zero }
func (e *scriptedEnv) Portfolio() portfolio.Snapshot { return portfolio.Snapshot{} }
func (e *scriptedEnv) Render(io.Writer) error        { return nil }

func greedyParams(episodes int) Params {
	p := DefaultParams()
	p.Episodes = episodes
	p.EpsilonInitial = 0
	p.EpsilonFloor = 0
	p.InitLow, p.InitHigh = 0, 0
	p.ReportEvery = 0
	return p
}

func TestBellmanUpdateBootstrapsFromSameRow(t *testing.T) {
	env := &scriptedEnv{rewards: []float64{1, 2}, assets: 1, steps: 3}

	tr, err := NewTrainer(greedyParams(1), NewRuntime(1, nil))
	require.NoError(t, err)
	q, _, err := tr.Train(env)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, q.At(0, 0, tradeenv.Hold), 1e-12)
	assert.InDelta(t, 0.2, q.At(1, 0, tradeenv.Hold), 1e-12)

	tr, err = NewTrainer(greedyParams(2), NewRuntime(1, nil))
	require.NoError(t, err)
	q, _, err = tr.Train(env)
	require.NoError(t, err)
	// 0.1 + 0.1*(1 + 0.5*0.1 - 0.1)
	assert.InDelta(t, 0.195, q.At(0, 0, tradeenv.Hold), 1e-12)
	// 0.2 + 0.1*(2 + 0.5*0.2 - 0.2)
	assert.InDelta(t, 0.39, q.At(1, 0, tradeenv.Hold), 1e-12)
	assert.Equal(t, 0.0, q.At(0, 0, tradeenv.Buy))
}

func TestZeroRuntimeStillExplores(t *testing.T) {
	p := greedyParams(1)
	p.EpsilonInitial = 1
	tr, err := NewTrainer(p, Runtime{})
	require.NoError(t, err)

	q, err := NewQTable(1, 1, nil, 0, 0)
	require.NoError(t, err)
	seen := make(map[tradeenv.Action]int)
	for i := 0; i < 200; i++ {
		seen[tr.choose(q, 0, 0, 1)]++
	}
	assert.Greater(t, len(seen), 1)
}

func TestJointRewardUpdatesEveryAsset(t *testing.T) {
	env := &scriptedEnv{rewards: []float64{1, 0}, assets: 3, steps: 3}
	tr, err := NewTrainer(greedyParams(1), NewRuntime(1, nil))
	require.NoError(t, err)
	q, _, err := tr.Train(env)
	require.NoError(t, err)
	for asset := 0; asset < 3; asset++ {
		assert.InDelta(t, 0.1, q.At(0, asset, tradeenv.Hold), 1e-12)
	}
}

func TestTrainFailsFastOnEmptyEnvironment(t *testing.T) {
	tr, err := NewTrainer(DefaultParams(), NewRuntime(1, nil))
	require.NoError(t, err)

	_, _, err = tr.Train(&scriptedEnv{assets: 0, steps: 3})
	assert.ErrorIs(t, err, tradeenv.ErrEmptyDataset)
	_, _, err = tr.Train(&scriptedEnv{assets: 1, steps: 0})
	assert.ErrorIs(t, err, tradeenv.ErrEmptyDataset)
	_, _, err = tr.Train(nil)
	assert.ErrorIs(t, err, tradeenv.ErrEmptyDataset)
}

func TestTrainShapeAndEpsilonSchedule(t *testing.T) {
	env := newEnv(t)
	p := DefaultParams()
	p.Episodes = 300
	p.EpsilonInitial = 0.9
	p.EpsilonDecay = 0.98
	p.EpsilonFloor = 0.05
	p.ReportEvery = 0

	tr, err := NewTrainer(p, NewRuntime(42, nil))
	require.NoError(t, err)
	q, stats, err := tr.Train(env)
	require.NoError(t, err)

	steps, assets, actions := q.Shape()
	assert.Equal(t, env.NumSteps(), steps)
	assert.Equal(t, env.NumAssets(), assets)
	assert.Equal(t, 3, actions)

	require.Len(t, stats.Epsilons, p.Episodes)
	assert.Equal(t, 0.9, stats.Epsilons[0])
	for i := 1; i < len(stats.Epsilons); i++ {
		assert.LessOrEqual(t, stats.Epsilons[i], stats.Epsilons[i-1])
		assert.GreaterOrEqual(t, stats.Epsilons[i], p.EpsilonFloor)
	}
	assert.Equal(t, p.EpsilonFloor, stats.FinalEpsilon)
	assert.Equal(t, p.Episodes*(env.NumSteps()-1), stats.Steps)
}

func TestTrainIsReproducibleUnderSeed(t *testing.T) {
	p := DefaultParams()
	p.Episodes = 50
	p.ReportEvery = 0

	run := func() *QTable {
		tr, err := NewTrainer(p, NewRuntime(7, nil))
		require.NoError(t, err)
		q, _, err := tr.Train(newEnv(t))
		require.NoError(t, err)
		return q
	}
	assert.Equal(t, run(), run())
}

func TestProgressHook(t *testing.T) {
	p := DefaultParams()
	p.Episodes = 30
	p.ReportEvery = 10

	var got []EpisodeReport
	tr, err := NewTrainer(p, NewRuntime(3, nil), WithProgress(func(r EpisodeReport) { got = append(got, r) }))
	require.NoError(t, err)
	_, _, err = tr.Train(newEnv(t))
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, []int{10, 20, 30}, []int{got[0].Episode, got[1].Episode, got[2].Episode})
	assert.Equal(t, 30, got[2].Episodes)
	assert.Len(t, got[0].Portfolio.Order, 2)
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	cases := map[string]func(*Params){
		"episodes": func(p *Params) { p.Episodes = 0 },
		"alpha":    func(p *Params) { p.Alpha = 0 },
		"gamma":    func(p *Params) { p.Gamma = 1.5 },
		"epsilon":  func(p *Params) { p.EpsilonInitial = -0.1 },
		"floor":    func(p *Params) { p.EpsilonFloor = 2 },
		"decay":    func(p *Params) { p.EpsilonDecay = 1 },
		"range":    func(p *Params) { p.InitLow, p.InitHigh = 1, -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams()
			mutate(&p)
			assert.Error(t, p.Validate())
			_, err := NewTrainer(p, NewRuntime(1, nil))
			assert.Error(t, err)
		})
	}
}
