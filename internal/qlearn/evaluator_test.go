package qlearn

import (
	"bytes"
	"strings"
	"testing"

	"qtrader/internal/tradeenv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainedTable(t *testing.T, env Env) *QTable {
	t.Helper()
	p := DefaultParams()
	p.Episodes = 40
	p.ReportEvery = 0
	tr, err := NewTrainer(p, NewRuntime(11, nil))
	require.NoError(t, err)
	q, _, err := tr.Train(env)
	require.NoError(t, err)
	return q
}

func TestEvaluateIsGreedyAndPure(t *testing.T) {
	env := newEnv(t)
	q := trainedTable(t, env)
	before := q.Clone()

	first, err := Evaluate(env, q, Runtime{})
	require.NoError(t, err)
	second, err := Evaluate(env, q, Runtime{})
	require.NoError(t, err)

	assert.Equal(t, before, q)
	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Actions, second.Actions)
	assert.True(t, first.Final.TotalValue.Equal(second.Final.TotalValue))
	assert.Equal(t, env.NumSteps()-1, first.Steps())
	assert.Len(t, first.Rewards, first.Steps())

	for s, actions := range first.Actions {
		for i, a := range actions {
			assert.Equal(t, q.Argmax(s, i), a)
		}
	}
	assert.InDelta(t, first.Trace[len(first.Trace)-1], first.Final.TotalValue.InexactFloat64(), 1e-9)
}

func TestEvaluateRendersEachStep(t *testing.T) {
	env := newEnv(t)
	q, err := NewQTable(env.NumSteps(), env.NumAssets(), nil, 0, 0)
	require.NoError(t, err)

	var buf bytes.Buffer
	ev, err := Evaluate(env, q, Runtime{Render: &buf})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, ev.Steps())
	assert.True(t, strings.HasPrefix(lines[0], "Step: 1, Balance: 1000.00"))
	for _, v := range ev.Trace {
		assert.Equal(t, 1000.0, v)
	}
	assert.Equal(t, 0.0, ev.Return())
}

func TestEvaluateRejectsMismatchedTable(t *testing.T) {
	env := newEnv(t)
	q, err := NewQTable(env.NumSteps(), 1, nil, 0, 0)
	require.NoError(t, err)
	_, err = Evaluate(env, q, Runtime{})
	assert.Error(t, err)

	_, err = Evaluate(env, nil, Runtime{})
	assert.Error(t, err)

	_, err = Evaluate(&scriptedEnv{}, q, Runtime{})
	assert.ErrorIs(t, err, tradeenv.ErrEmptyDataset)
}
