// Package tradeenv is the trading state machine: it turns a vector of
// per-asset actions into portfolio mutations, a reward and a termination
// flag over a fixed market series.
package tradeenv

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"qtrader/internal/market"
	"qtrader/internal/portfolio"

	"github.com/shopspring/decimal"
)

// Options configures an Environment. RewardScale is a fixed divisor applied to
// the wealth delta; zero means 1.
type Options struct {
	InitialBalance decimal.Decimal
	Commission     decimal.Decimal
	MinTradeAmount decimal.Decimal
	RewardScale    float64
	Logger         *slog.Logger
}

// StepResult is the outcome of one transition.
type StepResult struct {
	Observation []float64
	Reward      float64
	Done        bool
	Info        map[string]any
}

// Fill records what a requested action turned into. Executed is Hold when a
// Buy or Sell was rejected by the funds/holdings rules.
type Fill struct {
	Asset     market.AssetID
	Requested Action
	Executed  Action
	Price     decimal.Decimal
}

func (f Fill) Rejected() bool { return f.Requested != Hold && f.Executed == Hold }

// Environment is not safe for concurrent use.
type Environment struct {
	series *market.Series
	assets []market.AssetID
	opts   Options
	log    *slog.Logger

	step   int
	pf     *portfolio.State
	total  decimal.Decimal
	prices []decimal.Decimal
	stale  []market.AssetID
	fills  []Fill
}

// New builds an environment over series. A nil or empty series fails with
// ErrEmptyDataset before anything else happens.
func New(series *market.Series, opts Options) (*Environment, error) {
	if series == nil || series.NumAssets() == 0 || series.TotalRows() == 0 {
		return nil, ErrEmptyDataset
	}
	if opts.InitialBalance.IsNegative() {
		return nil, fmt.Errorf("initial balance must be >= 0")
	}
	if opts.Commission.IsNegative() || opts.Commission.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("commission must be in [0, 1)")
	}
	if !opts.MinTradeAmount.IsPositive() {
		return nil, fmt.Errorf("min trade amount must be > 0")
	}
	if opts.RewardScale == 0 {
		opts.RewardScale = 1
	}
	if opts.RewardScale < 0 {
		return nil, fmt.Errorf("reward scale must be > 0")
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Environment{series: series, assets: series.Assets(), opts: opts, log: log}
	e.Reset(nil)
	return e, nil
}

// Reset restores step 0 and a fresh portfolio and returns the initial
// observation. The seed is accepted for interface parity; the quote sequence
// is deterministic so it has no effect.
func (e *Environment) Reset(*int64) []float64 {
	e.step = 0
	e.pf = portfolio.New(e.opts.InitialBalance, e.series.Assets())
	e.total = e.pf.Balance()
	e.prices = e.resolvePrices(0)
	e.stale = nil
	e.fills = nil
	return e.Observation()
}

// Observation returns the 4×num_assets vector for the current step.
func (e *Environment) Observation() []float64 {
	return e.ObservationAt(e.step)
}

// ObservationAt lays out (price, high, low, volume) per asset in enumeration
// order, reusing each asset's last bar past its end.
func (e *Environment) ObservationAt(step int) []float64 {
	n := e.series.NumAssets()
	obs := make([]float64, 0, 4*n)
	for i := 0; i < n; i++ {
		bar, _ := e.series.At(i, step)
		f := bar.Fields()
		obs = append(obs, f[:]...)
	}
	return obs
}

// Step applies one action per asset at the current step.
func (e *Environment) Step(actions []Action) (StepResult, error) {
	assets := e.assets
	if len(actions) != len(assets) {
		return StepResult{}, fmt.Errorf("%w: got %d, want %d", ErrActionCount, len(actions), len(assets))
	}
	for i, a := range actions {
		if !a.Valid() {
			return StepResult{}, &InvalidActionError{Asset: assets[i], Code: a}
		}
	}

	before := e.total
	e.prices = e.resolvePrices(e.step)
	amount := e.opts.MinTradeAmount
	commission := e.opts.Commission
	fills := make([]Fill, len(actions))
	for i, a := range actions {
		price := e.prices[i]
		executed := Hold
		switch a {
		case Buy:
			if e.pf.Buy(i, price, amount, commission) {
				executed = Buy
			}
		case Sell:
			if e.pf.Sell(i, price, amount, commission) {
				executed = Sell
			}
		}
		fills[i] = Fill{Asset: assets[i], Requested: a, Executed: executed, Price: price}
	}
	e.fills = fills
	e.total = e.pf.Value(e.prices)

	reward := e.total.Sub(before).InexactFloat64() / e.opts.RewardScale

	e.step++
	return StepResult{
		Observation: e.Observation(),
		Reward:      reward,
		Done:        e.Done(),
		Info:        map[string]any{},
	}, nil
}

// Done reports current_step >= num_steps - 1.
func (e *Environment) Done() bool {
	return e.step >= e.series.NumSteps()-1
}

func (e *Environment) resolvePrices(step int) []decimal.Decimal {
	n := e.series.NumAssets()
	prices := make([]decimal.Decimal, n)
	e.stale = e.stale[:0]
	for i := 0; i < n; i++ {
		bar, stale := e.series.At(i, step)
		if stale {
			id := e.assets[i]
			e.stale = append(e.stale, id)
			e.log.Debug("stale quote", "asset", id, "step", step, "last_index", e.series.Len(i)-1)
		}
		prices[i] = decimal.NewFromFloat(bar.Price)
	}
	return prices
}

func (e *Environment) CurrentStep() int { return e.step }

// NumSteps is floor(total_rows / num_assets).
func (e *Environment) NumSteps() int { return e.series.NumSteps() }

func (e *Environment) NumAssets() int { return e.series.NumAssets() }

func (e *Environment) Assets() []market.AssetID {
	return append([]market.AssetID(nil), e.assets...)
}

func (e *Environment) Series() *market.Series { return e.series }

func (e *Environment) Balance() decimal.Decimal { return e.pf.Balance() }

func (e *Environment) Holding(i int) decimal.Decimal { return e.pf.Holding(i) }

// TotalValue is balance + Σ holdings × the prices used by the last step.
func (e *Environment) TotalValue() decimal.Decimal { return e.total }

// Prices returns the prices the last step settled at.
func (e *Environment) Prices() []decimal.Decimal {
	return append([]decimal.Decimal(nil), e.prices...)
}

func (e *Environment) Portfolio() portfolio.Snapshot { return e.pf.Snapshot(e.total) }

// LastStale lists assets whose price came from the stale-quote fallback in
// the last price resolution.
func (e *Environment) LastStale() []market.AssetID {
	return append([]market.AssetID(nil), e.stale...)
}

func (e *Environment) LastFills() []Fill { return append([]Fill(nil), e.fills...) }

// Render writes one human-readable status line.
func (e *Environment) Render(w io.Writer) error {
	_, err := io.WriteString(w, e.String()+"\n")
	return err
}

func (e *Environment) String() string {
	snap := e.Portfolio()
	var b strings.Builder
	fmt.Fprintf(&b, "Step: %d, Balance: %s, Holdings: {%s}, Total Value: %s",
		e.step, snap.Balance.StringFixed(2), snap.HoldingsString(), snap.TotalValue.StringFixed(2))
	return b.String()
}
