package qlearn

import (
	"fmt"
	"math/rand/v2"

	"qtrader/internal/tradeenv"
)

// QTable is a dense (steps × assets × actions) value table.
type QTable struct {
	steps   int
	assets  int
	actions int
	values  []float64
}

// NewQTable allocates the table and fills it uniformly from [low, high).
func NewQTable(steps, assets int, rng *rand.Rand, low, high float64) (*QTable, error) {
	if steps <= 0 || assets <= 0 {
		return nil, fmt.Errorf("qtable %dx%d: %w", steps, assets, tradeenv.ErrEmptyDataset)
	}
	if high < low {
		return nil, fmt.Errorf("qtable init range [%v, %v) is inverted", low, high)
	}
	q := &QTable{
		steps:   steps,
		assets:  assets,
		actions: tradeenv.NumActions,
		values:  make([]float64, steps*assets*tradeenv.NumActions),
	}
	if rng != nil {
		span := high - low
		for i := range q.values {
			q.values[i] = low + rng.Float64()*span
		}
	}
	return q, nil
}

// Shape returns (num_steps, num_assets, 3).
func (q *QTable) Shape() (steps, assets, actions int) {
	return q.steps, q.assets, q.actions
}

func (q *QTable) offset(step, asset int) int {
	return (step*q.assets + asset) * q.actions
}

func (q *QTable) inRange(step, asset int) bool {
	return step >= 0 && step < q.steps && asset >= 0 && asset < q.assets
}

func (q *QTable) At(step, asset int, a tradeenv.Action) float64 {
	return q.values[q.offset(step, asset)+int(a)]
}

func (q *QTable) Set(step, asset int, a tradeenv.Action, v float64) {
	q.values[q.offset(step, asset)+int(a)] = v
}

// Row returns a copy of the three action values at (step, asset).
func (q *QTable) Row(step, asset int) []float64 {
	off := q.offset(step, asset)
	return append([]float64(nil), q.values[off:off+q.actions]...)
}

// Argmax picks the best action; ties go to the lowest action code.
func (q *QTable) Argmax(step, asset int) tradeenv.Action {
	off := q.offset(step, asset)
	best := 0
	for a := 1; a < q.actions; a++ {
		if q.values[off+a] > q.values[off+best] {
			best = a
		}
	}
	return tradeenv.Action(best)
}

func (q *QTable) Max(step, asset int) float64 {
	return q.At(step, asset, q.Argmax(step, asset))
}

func (q *QTable) Clone() *QTable {
	cp := *q
	cp.values = append([]float64(nil), q.values...)
	return &cp
}
