// Package qlearn trains and evaluates a tabular Q-learning policy against a
// trading environment. The table is keyed by (time step, asset, action): the
// learned state is the position in the fixed historical replay, not a market
// feature vector.
package qlearn

import (
	"io"
	"log/slog"
	"math/rand/v2"
)

// Runtime carries the per-run random source and log sink. One Runtime is
// scoped to one training or evaluation run; nothing here is process-wide.
type Runtime struct {
	Rand *rand.Rand
	Log  *slog.Logger

	// Render, when set, receives one environment status line per evaluation step.
	Render io.Writer
}

// NewRuntime seeds a PCG source so runs are reproducible.
func NewRuntime(seed uint64, log *slog.Logger) Runtime {
	return Runtime{
		Rand: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		Log:  log,
	}
}

func (rt Runtime) logger() *slog.Logger {
	if rt.Log != nil {
		return rt.Log
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (rt Runtime) rng() *rand.Rand {
	if rt.Rand != nil {
		return rt.Rand
	}
	return rand.New(rand.NewPCG(0, 0))
}
