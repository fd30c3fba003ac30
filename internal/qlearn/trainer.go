package qlearn

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"

	"qtrader/internal/portfolio"
	"qtrader/internal/tradeenv"

	"github.com/shopspring/decimal"
)

// Env is the part of tradeenv.Environment the trainer and evaluator drive.
type Env interface {
	Reset(seed *int64) []float64
	Step(actions []tradeenv.Action) (tradeenv.StepResult, error)
	CurrentStep() int
	NumSteps() int
	NumAssets() int
	TotalValue() decimal.Decimal
	Portfolio() portfolio.Snapshot
	Render(w io.Writer) error
}

var _ Env = (*tradeenv.Environment)(nil)

// Params are the Q-learning hyperparameters.
type Params struct {
	Episodes       int
	Alpha          float64
	Gamma          float64
	EpsilonInitial float64
	EpsilonFloor   float64
	EpsilonDecay   float64
	InitLow        float64
	InitHigh       float64
	ReportEvery    int
}

func DefaultParams() Params {
	return Params{
		Episodes:       1000,
		Alpha:          0.1,
		Gamma:          0.5,
		EpsilonInitial: 0.5,
		EpsilonFloor:   0.01,
		EpsilonDecay:   0.995,
		InitLow:        -1,
		InitHigh:       1,
		ReportEvery:    50,
	}
}

func (p Params) Validate() error {
	switch {
	case p.Episodes <= 0:
		return fmt.Errorf("episodes must be > 0")
	case !(p.Alpha > 0 && p.Alpha <= 1):
		return fmt.Errorf("alpha must be in (0, 1]")
	case p.Gamma < 0 || p.Gamma > 1:
		return fmt.Errorf("gamma must be in [0, 1]")
	case p.EpsilonInitial < 0 || p.EpsilonInitial > 1:
		return fmt.Errorf("epsilon_initial must be in [0, 1]")
	case p.EpsilonFloor < 0 || p.EpsilonFloor > 1:
		return fmt.Errorf("epsilon_floor must be in [0, 1]")
	case !(p.EpsilonDecay > 0 && p.EpsilonDecay < 1):
		return fmt.Errorf("epsilon_decay must be in (0, 1)")
	case p.InitHigh < p.InitLow:
		return fmt.Errorf("init range is inverted")
	}
	return nil
}

// EpisodeReport is handed to the progress hook every ReportEvery episodes.
type EpisodeReport struct {
	Episode     int
	Episodes    int
	Epsilon     float64
	Steps       int
	TotalReward float64
	Portfolio   portfolio.Snapshot
}

type ProgressFunc func(EpisodeReport)

// TrainStats summarises a finished training run.
type TrainStats struct {
	Episodes     int
	Steps        int
	FinalEpsilon float64

	// Epsilons holds the exploration rate used in each episode.
	Epsilons        []float64
	LastTotalReward float64
	LastTotalValue  float64
}

type TrainerOption func(*Trainer)

// WithProgress replaces the default progress hook, which logs.
func WithProgress(fn ProgressFunc) TrainerOption {
	return func(t *Trainer) {
		if fn != nil {
			t.progress = fn
		}
	}
}

// Trainer runs epsilon-greedy episodes and applies one-step Bellman updates.
type Trainer struct {
	params   Params
	rt       Runtime
	progress ProgressFunc
}

func NewTrainer(params Params, rt Runtime, opts ...TrainerOption) (*Trainer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if rt.Rand == nil {
		rt.Rand = rand.New(rand.NewPCG(0, 0))
	}
	t := &Trainer{params: params, rt: rt}
	t.progress = t.logProgress
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Train allocates a fresh table and improves it over Params.Episodes.
// An environment without assets or steps fails before allocation.
func (t *Trainer) Train(env Env) (*QTable, TrainStats, error) {
	if env == nil || env.NumAssets() == 0 || env.NumSteps() == 0 {
		return nil, TrainStats{}, tradeenv.ErrEmptyDataset
	}
	p := t.params
	rng := t.rt.rng()
	q, err := NewQTable(env.NumSteps(), env.NumAssets(), rng, p.InitLow, p.InitHigh)
	if err != nil {
		return nil, TrainStats{}, err
	}

	stats := TrainStats{Epsilons: make([]float64, 0, p.Episodes)}
	epsilon := p.EpsilonInitial
	actions := make([]tradeenv.Action, env.NumAssets())
	for ep := 0; ep < p.Episodes; ep++ {
		stats.Epsilons = append(stats.Epsilons, epsilon)
		steps, total, err := t.runEpisode(env, q, epsilon, actions)
		if err != nil {
			return nil, stats, fmt.Errorf("episode %d: %w", ep+1, err)
		}
		stats.Steps += steps
		stats.LastTotalReward = total

		if p.ReportEvery > 0 && (ep+1)%p.ReportEvery == 0 {
			t.progress(EpisodeReport{
				Episode:     ep + 1,
				Episodes:    p.Episodes,
				Epsilon:     epsilon,
				Steps:       steps,
				TotalReward: total,
				Portfolio:   env.Portfolio(),
			})
		}
		epsilon = math.Max(p.EpsilonFloor, epsilon*p.EpsilonDecay)
	}
	stats.Episodes = p.Episodes
	stats.FinalEpsilon = epsilon
	stats.LastTotalValue = env.TotalValue().InexactFloat64()
	return q, stats, nil
}

var errTableOverrun = errors.New("environment step is outside the qtable")

func (t *Trainer) runEpisode(env Env, q *QTable, epsilon float64, actions []tradeenv.Action) (int, float64, error) {
	env.Reset(nil)
	steps := 0
	total := 0.0
	for {
		s := env.CurrentStep()
		if !q.inRange(s, 0) {
			return steps, total, errTableOverrun
		}
		for i := range actions {
			actions[i] = t.choose(q, s, i, epsilon)
		}
		res, err := env.Step(actions)
		if err != nil {
			return steps, total, err
		}
		steps++
		total += res.Reward
		// Every asset shares the joint portfolio reward.
		for i, a := range actions {
			t.update(q, s, i, a, res.Reward)
		}
		if res.Done {
			return steps, total, nil
		}
	}
}

func (t *Trainer) choose(q *QTable, step, asset int, epsilon float64) tradeenv.Action {
	rng := t.rt.rng()
	if rng.Float64() < epsilon {
		return tradeenv.Action(rng.IntN(tradeenv.NumActions))
	}
	return q.Argmax(step, asset)
}

// update applies Q[s,i,a] += alpha*(r + gamma*max Q[s,i,·] - Q[s,i,a]).
// The bootstrap reads the row being updated, not the next step's row.
func (t *Trainer) update(q *QTable, s, asset int, a tradeenv.Action, reward float64) {
	target := reward + t.params.Gamma*q.Max(s, asset)
	cur := q.At(s, asset, a)
	q.Set(s, asset, a, cur+t.params.Alpha*(target-cur))
}

func (t *Trainer) logProgress(r EpisodeReport) {
	t.rt.logger().Info("training progress",
		"episode", fmt.Sprintf("%d/%d", r.Episode, r.Episodes),
		"epsilon", r.Epsilon,
		"balance", r.Portfolio.Balance.StringFixed(2),
		"total_value", r.Portfolio.TotalValue.StringFixed(2),
		"holdings", r.Portfolio.HoldingsString(),
	)
}
