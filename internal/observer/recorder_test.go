package observer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qtrader/internal/ingest"
	"qtrader/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) SubscribeTickers(ctx context.Context, symbols []market.AssetID, opts market.SubscribeOptions) (<-chan market.TickerEvent, error) {
	args := m.Called(ctx, symbols, opts)
	ch, _ := args.Get(0).(<-chan market.TickerEvent)
	return ch, args.Error(1)
}

func (m *mockSource) Stats() market.SourceStats {
	return m.Called().Get(0).(market.SourceStats)
}

func (m *mockSource) Close() error {
	return m.Called().Error(0)
}

type memStore struct {
	quotes []market.Quote
	err    error
}

func (s *memStore) InsertQuotes(_ context.Context, quotes []market.Quote) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.quotes = append(s.quotes, quotes...)
	return len(quotes), nil
}

func openLog(t *testing.T) (*QuoteLog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log", "crypto_price_log.log")
	l, err := OpenQuoteLog(path, true)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 1, 250_000_000, time.UTC) }
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func feed(events ...market.TickerEvent) <-chan market.TickerEvent {
	ch := make(chan market.TickerEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestRecorderWritesLogAndStore(t *testing.T) {
	ql, path := openLog(t)
	store := &memStore{}
	src := &mockSource{}
	symbols := []market.AssetID{"BTCUSDT", "ETHUSDT"}
	events := feed(
		market.TickerEvent{Symbol: "BTCUSDT", Price: "64000.5", High: "65000", Low: "63000", Volume: "1200"},
		market.TickerEvent{Symbol: "ETHUSDT", Price: "oops", High: "1", Low: "1", Volume: "1"},
		market.TickerEvent{Symbol: "ETHUSDT", Price: "3100", High: "3200", Low: "3000", Volume: "900"},
	)
	src.On("SubscribeTickers", mock.Anything, symbols, mock.Anything).
		Run(func(args mock.Arguments) {
			opts := args.Get(2).(market.SubscribeOptions)
			opts.OnConnect()
		}).
		Return(events, nil)
	src.On("Close").Return(nil)
	src.On("Stats").Return(market.SourceStats{Reconnects: 2})

	rec, err := NewRecorder(src, ql, store, Options{Symbols: symbols})
	require.NoError(t, err)
	require.NoError(t, rec.Run(context.Background()))
	src.AssertExpectations(t)

	require.Len(t, store.quotes, 2)
	assert.Equal(t, market.AssetID("BTCUSDT"), store.quotes[0].Symbol)
	assert.Equal(t, 64000.5, store.quotes[0].Bar.Price)
	assert.Equal(t, 3100.0, store.quotes[1].Bar.Price)

	stats := rec.Stats()
	assert.Equal(t, int64(3), stats.Received)
	assert.Equal(t, int64(2), stats.Recorded)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, 2, stats.Source.Reconnects)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "2024-05-01 10:00:01,250 - INFO - WebSocket connection opened", lines[0])
	assert.Equal(t, `2024-05-01 10:00:01,250 - INFO - {"symbol":"BTCUSDT","price":"64000.5","high":"65000","low":"63000","volume":"1200"}`, lines[1])

	quotes, report, err := ingest.ParseFile(context.Background(), path, ingest.Options{})
	require.NoError(t, err)
	assert.Equal(t, store.quotes, quotes)
	assert.Equal(t, 1, report.ByReason[ingest.ReasonNoPayload])
	assert.Equal(t, 1, report.ByReason[ingest.ReasonSchema])
}

func TestRecorderThrottlesPerSymbol(t *testing.T) {
	ql, _ := openLog(t)
	store := &memStore{}
	src := &mockSource{}
	ev := market.TickerEvent{Symbol: "BTCUSDT", Price: "1", High: "1", Low: "1", Volume: "1"}
	other := market.TickerEvent{Symbol: "ETHUSDT", Price: "2", High: "2", Low: "2", Volume: "2"}
	src.On("SubscribeTickers", mock.Anything, mock.Anything, mock.Anything).Return(feed(ev, ev, ev, other), nil)
	src.On("Close").Return(nil)
	src.On("Stats").Return(market.SourceStats{})

	rec, err := NewRecorder(src, ql, store, Options{Symbols: []market.AssetID{"BTCUSDT", "ETHUSDT"}, RatePerSymbol: 0.001})
	require.NoError(t, err)
	require.NoError(t, rec.Run(context.Background()))

	stats := rec.Stats()
	assert.Equal(t, int64(2), stats.Recorded)
	assert.Equal(t, int64(2), stats.Throttled)
	require.Len(t, store.quotes, 2)
	assert.Equal(t, market.AssetID("ETHUSDT"), store.quotes[1].Symbol)
}

func TestRecorderStoreFailureKeepsRunning(t *testing.T) {
	ql, _ := openLog(t)
	store := &memStore{err: errors.New("disk full")}
	src := &mockSource{}
	ev := market.TickerEvent{Symbol: "BTCUSDT", Price: "1", High: "1", Low: "1", Volume: "1"}
	src.On("SubscribeTickers", mock.Anything, mock.Anything, mock.Anything).Return(feed(ev, ev), nil)
	src.On("Close").Return(nil)
	src.On("Stats").Return(market.SourceStats{})

	rec, err := NewRecorder(src, ql, store, Options{Symbols: []market.AssetID{"BTCUSDT"}})
	require.NoError(t, err)
	require.NoError(t, rec.Run(context.Background()))
	assert.Equal(t, int64(2), rec.Stats().Failed)
}

func TestRecorderSubscribeError(t *testing.T) {
	ql, _ := openLog(t)
	src := &mockSource{}
	src.On("SubscribeTickers", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("no symbols"))

	rec, err := NewRecorder(src, ql, nil, Options{Symbols: []market.AssetID{"BTCUSDT"}})
	require.NoError(t, err)
	assert.ErrorContains(t, rec.Run(context.Background()), "no symbols")
	src.AssertNotCalled(t, "Close")
}

func TestRecorderStopsOnCancel(t *testing.T) {
	ql, _ := openLog(t)
	src := &mockSource{}
	never := make(chan market.TickerEvent)
	src.On("SubscribeTickers", mock.Anything, mock.Anything, mock.Anything).Return((<-chan market.TickerEvent)(never), nil)
	src.On("Close").Return(nil)

	rec, err := NewRecorder(src, ql, nil, Options{Symbols: []market.AssetID{"BTCUSDT"}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, rec.Run(ctx))
	src.AssertCalled(t, "Close")
}

func TestNewRecorderValidates(t *testing.T) {
	ql, _ := openLog(t)
	_, err := NewRecorder(nil, ql, nil, Options{Symbols: []market.AssetID{"BTCUSDT"}})
	assert.Error(t, err)
	_, err = NewRecorder(&mockSource{}, nil, nil, Options{Symbols: []market.AssetID{"BTCUSDT"}})
	assert.Error(t, err)
	_, err = NewRecorder(&mockSource{}, ql, nil, Options{})
	assert.Error(t, err)
}
