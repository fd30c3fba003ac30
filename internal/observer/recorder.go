// Package observer listens to the exchange ticker stream and records every
// usable quote to the quote log and, when configured, the quote store.
package observer

import (
	"context"
	"fmt"
	"sync"

	"qtrader/internal/ingest"
	"qtrader/internal/logger"
	"qtrader/internal/market"

	"golang.org/x/time/rate"
)

// QuoteStore is the durable side of the recorder; *quotes.Store satisfies it.
type QuoteStore interface {
	InsertQuotes(ctx context.Context, quotes []market.Quote) (int, error)
}

type Options struct {
	Symbols []market.AssetID

	// RatePerSymbol caps recorded events per second per symbol; 0 records
	// everything.
	RatePerSymbol float64
}

type Stats struct {
	Received  int64 `json:"received"`
	Recorded  int64 `json:"recorded"`
	Throttled int64 `json:"throttled"`
	Rejected  int64 `json:"rejected"`
	Failed    int64 `json:"failed"`

	Source market.SourceStats `json:"source"`
}

type Recorder struct {
	source market.TickerSource
	log    *QuoteLog
	store  QuoteStore
	opts   Options

	limiters map[market.AssetID]*rate.Limiter

	mu    sync.Mutex
	stats Stats
}

// NewRecorder requires a source and a quote log; store may be nil.
func NewRecorder(src market.TickerSource, log *QuoteLog, store QuoteStore, opts Options) (*Recorder, error) {
	if src == nil {
		return nil, fmt.Errorf("observer source cannot be empty")
	}
	if log == nil {
		return nil, fmt.Errorf("observer quote log cannot be empty")
	}
	if len(opts.Symbols) == 0 {
		return nil, fmt.Errorf("observer symbols cannot be empty")
	}
	return &Recorder{
		source:   src,
		log:      log,
		store:    store,
		opts:     opts,
		limiters: make(map[market.AssetID]*rate.Limiter),
	}, nil
}

// Run subscribes and records until ctx is cancelled or the stream ends.
func (r *Recorder) Run(ctx context.Context) error {
	events, err := r.source.SubscribeTickers(ctx, r.opts.Symbols, market.SubscribeOptions{
		OnConnect: func() {
			_ = r.log.Info("WebSocket connection opened")
			logger.Infof("[observer] stream connected symbols=%v", r.opts.Symbols)
		},
		OnDisconnect: func(err error) {
			if err != nil {
				_ = r.log.Error(fmt.Sprintf("WebSocket Error: %v", err))
			}
			_ = r.log.Info("WebSocket closed")
			logger.Warnf("[observer] stream disconnected: %v", err)
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe tickers: %w", err)
	}
	defer func() {
		if err := r.source.Close(); err != nil {
			logger.Warnf("[observer] source close error: %v", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.handle(ctx, ev)
		}
	}
}

func (r *Recorder) handle(ctx context.Context, ev market.TickerEvent) {
	r.bump(func(s *Stats) { s.Received++ })
	if !r.allow(ev.Symbol) {
		r.bump(func(s *Stats) { s.Throttled++ })
		return
	}
	line, err := r.log.WriteTicker(ev)
	if err != nil {
		r.bump(func(s *Stats) { s.Failed++ })
		logger.Warnf("[observer] append %s failed: %v", ev.Symbol, err)
		return
	}
	// Reading the line back keeps the store identical to what a later log
	// load would produce.
	rec := ingest.ParseLine(0, line)
	if rec.Skipped {
		r.bump(func(s *Stats) { s.Rejected++ })
		logger.Debugf("[observer] %s not stored: %s %s", ev.Symbol, rec.Reason, rec.Detail)
		return
	}
	if r.store != nil {
		if _, err := r.store.InsertQuotes(ctx, []market.Quote{rec.Quote}); err != nil {
			r.bump(func(s *Stats) { s.Failed++ })
			logger.Warnf("[observer] store %s failed: %v", ev.Symbol, err)
			return
		}
	}
	r.bump(func(s *Stats) { s.Recorded++ })
}

func (r *Recorder) allow(sym market.AssetID) bool {
	if r.opts.RatePerSymbol <= 0 {
		return true
	}
	lim, ok := r.limiters[sym]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(r.opts.RatePerSymbol), 1)
		r.limiters[sym] = lim
	}
	return lim.Allow()
}

func (r *Recorder) bump(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	out := r.stats
	r.mu.Unlock()
	out.Source = r.source.Stats()
	return out
}
