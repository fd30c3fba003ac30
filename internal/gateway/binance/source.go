package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"qtrader/internal/logger"
	"qtrader/internal/market"

	binance "github.com/adshao/go-binance/v2"
)

// serveFunc matches binance.WsCombinedMarketStatServe.
type serveFunc func(symbols []string, handler binance.WsMarketStatHandler, errHandler binance.ErrHandler) (doneC, stopC chan struct{}, err error)

// Source streams spot 24h rolling tickers (<symbol>@ticker) and implements
// market.TickerSource.
type Source struct {
	cfg   Config
	serve serveFunc

	mu     sync.Mutex
	cancel context.CancelFunc

	statsMu sync.Mutex
	stats   market.SourceStats
}

var _ market.TickerSource = (*Source)(nil)

var endpointOnce sync.Once

func New(cfg Config) *Source {
	final := cfg.withDefaults()
	// go-binance keeps its endpoints in package variables.
	endpointOnce.Do(func() {
		binance.BaseCombinedMainURL = final.CombinedURL
		if final.ProxyURL != "" {
			binance.SetWsProxyUrl(final.ProxyURL)
		}
	})
	return &Source{cfg: final, serve: binance.WsCombinedMarketStatServe}
}

func (s *Source) SubscribeTickers(ctx context.Context, symbols []market.AssetID, opts market.SubscribeOptions) (<-chan market.TickerEvent, error) {
	streams := make([]string, 0, len(symbols))
	seen := make(map[market.AssetID]bool, len(symbols))
	for _, sym := range symbols {
		id := market.NormalizeAsset(string(sym))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		streams = append(streams, string(id))
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("no valid symbols for ticker subscription")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 1024
	}
	out := make(chan market.TickerEvent, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(out)
		s.runTickerLoop(subCtx, streams, out, opts)
	}()
	return out, nil
}

func (s *Source) runTickerLoop(ctx context.Context, symbols []string, out chan<- market.TickerEvent, opts market.SubscribeOptions) {
	delay := s.cfg.MinBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		var errMu sync.Mutex
		var lastErr error
		handler := func(event *binance.WsMarketStatEvent) {
			te, ok := convertTickerEvent(event)
			if !ok {
				return
			}
			select {
			case <-ctx.Done():
				return
			case out <- te:
			default:
				logger.Warnf("[binance] ticker channel full, drop %s", te.Symbol)
			}
		}
		errHandler := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}
		doneC, stopC, err := s.serve(symbols, handler, errHandler)
		if err != nil {
			s.recordSubscribeError(err)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = s.nextDelay(delay)
			continue
		}
		delay = s.cfg.MinBackoff
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		close(stopC)
		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		s.recordReconnect(errCopy)
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(errCopy)
		}
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = s.nextDelay(delay)
	}
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

// convertTickerEvent keeps events that carry both a symbol and a last price.
func convertTickerEvent(ev *binance.WsMarketStatEvent) (market.TickerEvent, bool) {
	if ev == nil {
		return market.TickerEvent{}, false
	}
	symbol := market.NormalizeAsset(ev.Symbol)
	price := strings.TrimSpace(ev.LastPrice)
	if symbol == "" || price == "" {
		return market.TickerEvent{}, false
	}
	return market.TickerEvent{
		Symbol:    symbol,
		Price:     price,
		High:      strings.TrimSpace(ev.HighPrice),
		Low:       strings.TrimSpace(ev.LowPrice),
		Volume:    strings.TrimSpace(ev.BaseVolume),
		EventTime: ev.Time,
	}, true
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
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

func (s *Source) nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return s.cfg.MinBackoff
	}
	next := current * 2
	if next > s.cfg.MaxBackoff {
		next = s.cfg.MaxBackoff
	}
	return next
}

func (s *Source) recordSubscribeError(err error) {
	if err == nil {
		return
	}
	s.statsMu.Lock()
	s.stats.SubscribeErrors++
	s.stats.LastError = err.Error()
	s.statsMu.Unlock()
}

func (s *Source) recordReconnect(err error) {
	s.statsMu.Lock()
	s.stats.Reconnects++
	if err != nil && err.Error() != "" {
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()
}
