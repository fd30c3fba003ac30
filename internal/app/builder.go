package app

import (
	"context"
	"fmt"
	"io"

	"qtrader/internal/config"
	"qtrader/internal/gateway/binance"
	"qtrader/internal/logger"
	"qtrader/internal/market"
	"qtrader/internal/observer"
	"qtrader/internal/store/quotes"
	"qtrader/internal/store/runs"
	runshttp "qtrader/internal/transport/http/runs"
)

// ConfigPath is the file the app watches for reloads; empty disables it.
type ConfigPath string

type AppBuilder struct {
	cfg  *config.Config
	path ConfigPath

	runStoreFn     func(string) (*runs.Store, error)
	quoteStoreFn   func(string) (*quotes.Store, error)
	tickerSourceFn func(config.ObserverConfig) market.TickerSource
}

type AppBuilderOption func(*AppBuilder)

// WithTickerSource replaces the Binance stream, mainly for tests.
func WithTickerSource(fn func(config.ObserverConfig) market.TickerSource) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.tickerSourceFn = fn
		}
	}
}

func NewAppBuilder(cfg *config.Config, path ConfigPath, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:            cfg,
		path:           path,
		runStoreFn:     runs.Open,
		quoteStoreFn:   quotes.Open,
		tickerSourceFn: buildTickerSource,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildTickerSource(cfg config.ObserverConfig) market.TickerSource {
	return binance.New(binance.Config{
		CombinedURL: cfg.WSBaseURL,
		ProxyURL:    cfg.ProxyURL,
	})
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	var closers []io.Closer
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	runStore, err := b.runStoreFn(cfg.Store.RunsDBPath)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	closers = append(closers, runStore)

	var quoteStore *quotes.Store
	if cfg.Data.Source == config.SourceSQLite || cfg.Observer.Enabled {
		quoteStore, err = b.quoteStoreFn(cfg.Data.QuoteDBPath)
		if err != nil {
			return nil, fmt.Errorf("open quote store: %w", err)
		}
		closers = append(closers, quoteStore)
	}

	var series SeriesStore
	if quoteStore != nil {
		series = quoteStore
	}
	loop, err := NewLoop(cfg, runStore, series)
	if err != nil {
		return nil, err
	}

	app = &App{
		cfg:     cfg,
		path:    string(b.path),
		loop:    loop,
		Summary: buildStartupSummary(cfg),
	}

	if cfg.Observer.Enabled {
		quoteLog, err := observer.OpenQuoteLog(cfg.Data.QuoteLogPath, cfg.Observer.Fsync)
		if err != nil {
			return nil, fmt.Errorf("open quote log: %w", err)
		}
		closers = append(closers, quoteLog)
		symbols := make([]market.AssetID, 0, len(cfg.Observer.Symbols))
		for _, s := range cfg.Observer.Symbols {
			symbols = append(symbols, market.AssetID(s))
		}
		var store observer.QuoteStore
		if quoteStore != nil {
			store = quoteStore
		}
		app.recorder, err = observer.NewRecorder(b.tickerSourceFn(cfg.Observer), quoteLog, store, observer.Options{
			Symbols:       symbols,
			RatePerSymbol: cfg.Observer.RatePerSymbol,
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.App.HTTPEnabled {
		app.http, err = runshttp.NewServer(runshttp.Config{
			Addr:      cfg.App.HTTPAddr,
			Runs:      runStore,
			Status:    func() any { return app.Status() },
			SMAPeriod: cfg.Report.SMAPeriod,
		})
		if err != nil {
			return nil, err
		}
	}
	app.closers = closers
	return app, nil
}

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *config.Config, path ConfigPath) *AppBuilder {
	return NewAppBuilder(cfg, path)
}
