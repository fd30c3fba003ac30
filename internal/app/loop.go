package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"qtrader/internal/config"
	"qtrader/internal/ingest"
	"qtrader/internal/logger"
	"qtrader/internal/market"
	"qtrader/internal/pkg/circuit"
	"qtrader/internal/qlearn"
	"qtrader/internal/report"
	"qtrader/internal/store/runs"
	"qtrader/internal/tradeenv"
)

// RunStore persists run history; *runs.Store satisfies it.
type RunStore interface {
	Create(ctx context.Context, st runs.Start) (runs.Run, error)
	Finish(ctx context.Context, id string, out runs.Outcome) error
	Fail(ctx context.Context, id string, cause error) error
}

// SeriesStore loads a snapshot from the quote database; *quotes.Store
// satisfies it.
type SeriesStore interface {
	LoadSeries(ctx context.Context, symbols []market.AssetID) (*market.Series, error)
}

type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateTraining   State = "training"
	StateEvaluating State = "evaluating"
	StateSleeping   State = "sleeping"
	StateDone       State = "done"
)

// Status is the loop state served by /api/status.
type Status struct {
	State      State     `json:"state"`
	Run        int       `json:"run"`
	RunID      string    `json:"run_id,omitempty"`
	Episode    int       `json:"episode"`
	Episodes   int       `json:"episodes"`
	Epsilon    float64   `json:"epsilon"`
	TotalValue string    `json:"total_value,omitempty"`
	LastRender string    `json:"last_render,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Loop repeats load → train → evaluate → persist/report, sleeping
// loop.restart_interval between runs.
type Loop struct {
	store   RunStore
	quotes  SeriesStore
	now     func() time.Time
	breaker *circuit.Breaker

	mu     sync.RWMutex
	cfg    *config.Config
	status Status
}

func NewLoop(cfg *config.Config, store RunStore, quotes SeriesStore) (*Loop, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if store == nil {
		return nil, fmt.Errorf("run store cannot be empty")
	}
	if cfg.Data.Source == config.SourceSQLite && quotes == nil {
		return nil, fmt.Errorf("data.source=sqlite requires a quote store")
	}
	return &Loop{
		cfg:     cfg,
		store:   store,
		quotes:  quotes,
		now:     time.Now,
		breaker: circuit.New("train-loop", cfg.Loop.MaxFailures, cfg.Loop.FailureCooldown),
		status:  Status{State: StateIdle, UpdatedAt: time.Now()},
	}, nil
}

// Config returns the config the next run will use.
func (l *Loop) Config() *config.Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Reload swaps the config; a run in progress keeps the one it started with.
func (l *Loop) Reload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	logger.Infof("[train] config reloaded, applies from the next run")
}

func (l *Loop) Snapshot() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

func (l *Loop) update(fn func(*Status)) {
	l.mu.Lock()
	fn(&l.status)
	l.status.UpdatedAt = l.now()
	l.mu.Unlock()
}

// Run blocks until loop.runs runs completed or ctx is cancelled. A failed
// run is recorded and the loop carries on after the restart interval, or
// after loop.failure_cooldown once too many runs failed in a row.
func (l *Loop) Run(ctx context.Context) error {
	for seq := 1; ; seq++ {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := l.RunOnce(ctx, seq); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.breaker.Failure()
			logger.Errorf("[train] run %d failed: %v", seq, err)
		} else {
			l.breaker.Success()
		}
		cfg := l.Config()
		if cfg.Loop.Runs > 0 && seq >= cfg.Loop.Runs {
			l.update(func(s *Status) { s.State = StateDone })
			logger.Infof("[train] finished %d runs", seq)
			return nil
		}
		wait := cfg.Loop.RestartInterval
		if cool := l.breaker.Wait(); cool > wait {
			wait = cool
		}
		l.update(func(s *Status) { s.State = StateSleeping })
		logger.Infof("[train] next run in %s", wait)
		if !sleepWithContext(ctx, wait) {
			return nil
		}
	}
}

// RunOnce executes one full run and returns its id. The run is recorded
// even when loading fails.
func (l *Loop) RunOnce(ctx context.Context, seq int) (string, error) {
	cfg := l.Config()
	l.update(func(s *Status) {
		s.State = StateLoading
		s.Run = seq
		s.RunID = ""
		s.Episode = 0
		s.Episodes = cfg.Train.Episodes
		s.LastError = ""
	})

	series, ingestNote, loadErr := l.loadSeries(ctx, cfg)
	balance, err := cfg.Env.Balance()
	if err != nil {
		return "", err
	}
	start := runs.Start{
		Seq:          seq,
		Source:       cfg.Data.Source,
		Params:       cfg.Train,
		Episodes:     cfg.Train.Episodes,
		InitialValue: balance,
	}
	if series != nil {
		start.Assets = series.Assets()
	}
	run, err := l.store.Create(ctx, start)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	l.update(func(s *Status) { s.RunID = run.ID })
	if loadErr != nil {
		return run.ID, l.fail(ctx, run.ID, loadErr)
	}

	log := logger.L().With("run", seq)
	opts, err := envOptions(cfg.Env, log)
	if err != nil {
		return run.ID, l.fail(ctx, run.ID, err)
	}
	env, err := tradeenv.New(series, opts)
	if err != nil {
		return run.ID, l.fail(ctx, run.ID, err)
	}
	rt := qlearn.NewRuntime(l.seedFor(cfg.Train.Seed, seq), log)
	trainer, err := qlearn.NewTrainer(trainParams(cfg.Train), rt, qlearn.WithProgress(l.progress(log)))
	if err != nil {
		return run.ID, l.fail(ctx, run.ID, err)
	}

	logger.Infof("[train] run %d: %d assets x %d steps, %d episodes", seq, env.NumAssets(), env.NumSteps(), cfg.Train.Episodes)
	l.update(func(s *Status) { s.State = StateTraining })
	q, stats, err := trainer.Train(env)
	if err != nil {
		return run.ID, l.fail(ctx, run.ID, err)
	}
	if ctx.Err() != nil {
		return run.ID, l.fail(context.WithoutCancel(ctx), run.ID, ctx.Err())
	}

	l.update(func(s *Status) { s.State = StateEvaluating })
	rt.Render = renderSink{loop: l}
	ev, err := qlearn.Evaluate(env, q, rt)
	if err != nil {
		return run.ID, l.fail(ctx, run.ID, err)
	}

	finished := l.now()
	dir := filepath.Join(cfg.Report.Dir, fmt.Sprintf("run-%03d-%s", seq, shortID(run.ID)))
	summary := buildRunSummary(run, series.Assets(), stats, ev, ingestNote, finished)
	files, err := report.WriteRun(ctx, dir, summary, ev.Trace, report.WriteOptions{
		SMAPeriod: cfg.Report.SMAPeriod,
		PNG:       cfg.Report.PNG,
	})
	if err != nil {
		logger.Warnf("[train] run %d report failed: %v", seq, err)
	}
	if err := l.store.Finish(ctx, run.ID, runs.Outcome{
		Steps:        ev.Steps(),
		FinalEpsilon: stats.FinalEpsilon,
		Final:        ev.Final,
		Trace:        ev.Trace,
		ReportDir:    files.Dir,
	}); err != nil {
		return run.ID, fmt.Errorf("finish run: %w", err)
	}
	l.update(func(s *Status) {
		s.Completed++
		s.TotalValue = ev.Final.TotalValue.StringFixed(2)
	})
	logger.Infof("[train] run %d done: total value %s (return %.2f%%) report=%s",
		seq, ev.Final.TotalValue.StringFixed(2), ev.Return()*100, files.Dir)
	return run.ID, nil
}

func (l *Loop) loadSeries(ctx context.Context, cfg *config.Config) (*market.Series, string, error) {
	symbols := make([]market.AssetID, 0, len(cfg.Data.Symbols))
	for _, s := range cfg.Data.Symbols {
		symbols = append(symbols, market.AssetID(s))
	}
	switch cfg.Data.Source {
	case config.SourceSQLite:
		if l.quotes == nil {
			return nil, "", errNoQuoteStore
		}
		series, err := l.quotes.LoadSeries(ctx, symbols)
		return series, "", err
	default:
		quotes, rep, err := ingest.ParseFile(ctx, cfg.Data.QuoteLogPath, ingest.Options{Symbols: symbols})
		if err != nil {
			return nil, "", err
		}
		logger.Infof("[train] quote log %s: %s", cfg.Data.QuoteLogPath, rep.String())
		for reason, rec := range rep.Samples {
			logger.Debugf("[train] first %s skip at line %d: %s", reason, rec.Line, rec.Detail)
		}
		series, err := ingest.BuildSeries(quotes, symbols)
		return series, rep.String(), err
	}
}

func (l *Loop) fail(ctx context.Context, id string, cause error) error {
	if err := l.store.Fail(ctx, id, cause); err != nil {
		logger.Warnf("[train] record failure for %s: %v", id, err)
	}
	l.update(func(s *Status) {
		s.Failed++
		s.LastError = cause.Error()
	})
	return cause
}

func (l *Loop) progress(log *slog.Logger) qlearn.ProgressFunc {
	return func(r qlearn.EpisodeReport) {
		l.update(func(s *Status) {
			s.Episode = r.Episode
			s.Episodes = r.Episodes
			s.Epsilon = r.Epsilon
			s.TotalValue = r.Portfolio.TotalValue.StringFixed(2)
		})
		log.Info("training progress",
			"episode", fmt.Sprintf("%d/%d", r.Episode, r.Episodes),
			"epsilon", r.Epsilon,
			"balance", r.Portfolio.Balance.StringFixed(2),
			"total_value", r.Portfolio.TotalValue.StringFixed(2),
			"holdings", r.Portfolio.HoldingsString(),
		)
	}
}

func (l *Loop) seedFor(seed uint64, seq int) uint64 {
	if seed == 0 {
		return uint64(l.now().UnixNano()) + uint64(seq)
	}
	return seed + uint64(seq-1)
}

// renderSink keeps the latest evaluation render line for the status API.
type renderSink struct {
	loop *Loop
}

func (r renderSink) Write(p []byte) (int, error) {
	line := strings.TrimSpace(string(p))
	if line != "" {
		r.loop.update(func(s *Status) { s.LastRender = line })
		logger.Infof("[eval] %s", line)
	}
	return len(p), nil
}

func envOptions(c config.EnvConfig, log *slog.Logger) (tradeenv.Options, error) {
	balance, err := c.Balance()
	if err != nil {
		return tradeenv.Options{}, err
	}
	commission, err := c.CommissionRate()
	if err != nil {
		return tradeenv.Options{}, err
	}
	amount, err := c.TradeAmount()
	if err != nil {
		return tradeenv.Options{}, err
	}
	return tradeenv.Options{
		InitialBalance: balance,
		Commission:     commission,
		MinTradeAmount: amount,
		RewardScale:    c.RewardScale,
		Logger:         log,
	}, nil
}

func trainParams(c config.TrainConfig) qlearn.Params {
	return qlearn.Params{
		Episodes:       c.Episodes,
		Alpha:          c.Alpha,
		Gamma:          c.Gamma,
		EpsilonInitial: c.EpsilonInitial,
		EpsilonFloor:   c.EpsilonFloor,
		EpsilonDecay:   c.EpsilonDecay,
		InitLow:        c.InitLow,
		InitHigh:       c.InitHigh,
		ReportEvery:    c.ReportEvery,
	}
}

func buildRunSummary(run runs.Run, assets []market.AssetID, stats qlearn.TrainStats, ev qlearn.Evaluation, ingestNote string, finished time.Time) report.Summary {
	names := make([]string, len(assets))
	for i, a := range assets {
		names[i] = string(a)
	}
	holdings := make(map[string]string, len(ev.Final.Holdings))
	for asset, qty := range ev.Final.Holdings {
		holdings[string(asset)] = qty.String()
	}
	return report.Summary{
		RunID:        run.ID,
		Seq:          run.Seq,
		Source:       run.Source,
		Assets:       names,
		Episodes:     stats.Episodes,
		Steps:        ev.Steps(),
		FinalEpsilon: stats.FinalEpsilon,
		InitialValue: run.InitialValue,
		FinalValue:   ev.Final.TotalValue.String(),
		FinalBalance: ev.Final.Balance.String(),
		Holdings:     holdings,
		Return:       ev.Return(),
		Ingest:       ingestNote,
		StartedAt:    run.StartedAt,
		FinishedAt:   finished.UTC(),
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var errNoQuoteStore = errors.New("quote store not configured")
