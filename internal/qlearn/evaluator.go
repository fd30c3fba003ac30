package qlearn

import (
	"fmt"

	"qtrader/internal/portfolio"
	"qtrader/internal/tradeenv"
)

// Evaluation is the performance trace of one greedy rollout.
type Evaluation struct {
	// Trace holds total value after each step.
	Trace   []float64
	Rewards []float64
	Actions [][]tradeenv.Action
	Final   portfolio.Snapshot
}

func (e Evaluation) Steps() int { return len(e.Trace) }

// Return is the final total value relative to the first reading.
func (e Evaluation) Return() float64 {
	if len(e.Trace) == 0 || e.Trace[0] == 0 {
		return 0
	}
	return e.Trace[len(e.Trace)-1]/e.Trace[0] - 1
}

// Evaluate resets env and follows argmax actions until done. The table is
// only read.
func Evaluate(env Env, q *QTable, rt Runtime) (Evaluation, error) {
	if env == nil || env.NumAssets() == 0 || env.NumSteps() == 0 {
		return Evaluation{}, tradeenv.ErrEmptyDataset
	}
	if q == nil {
		return Evaluation{}, fmt.Errorf("qtable cannot be nil")
	}
	if _, assets, _ := q.Shape(); assets != env.NumAssets() {
		return Evaluation{}, fmt.Errorf("qtable has %d assets, environment has %d", assets, env.NumAssets())
	}

	env.Reset(nil)
	var out Evaluation
	for {
		s := env.CurrentStep()
		if !q.inRange(s, 0) {
			return out, errTableOverrun
		}
		actions := make([]tradeenv.Action, env.NumAssets())
		for i := range actions {
			actions[i] = q.Argmax(s, i)
		}
		res, err := env.Step(actions)
		if err != nil {
			return out, err
		}
		out.Trace = append(out.Trace, env.TotalValue().InexactFloat64())
		out.Rewards = append(out.Rewards, res.Reward)
		out.Actions = append(out.Actions, actions)
		if rt.Render != nil {
			if err := env.Render(rt.Render); err != nil {
				rt.logger().Warn("render failed", "err", err)
			}
		}
		if res.Done {
			break
		}
	}
	out.Final = env.Portfolio()
	return out, nil
}
