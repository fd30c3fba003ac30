package observer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"qtrader/internal/ingest"
	"qtrader/internal/market"
)

// QuoteLog appends "<time> - <LEVEL> - <message>" lines, the format
// ingest.ParseLine reads back.
type QuoteLog struct {
	mu    sync.Mutex
	f     *os.File
	fsync bool
	now   func() time.Time
}

// OpenQuoteLog opens path for appending. With fsync set every line is synced
// to disk before the write returns.
func OpenQuoteLog(path string, fsync bool) (*QuoteLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("quote log path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &QuoteLog{f: f, fsync: fsync, now: time.Now}, nil
}

type tickerPayload struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Volume string `json:"volume"`
}

// WriteTicker appends one INFO line for ev and returns the line written.
func (l *QuoteLog) WriteTicker(ev market.TickerEvent) (string, error) {
	payload, err := json.Marshal(tickerPayload{
		Symbol: string(ev.Symbol),
		Price:  ev.Price,
		High:   ev.High,
		Low:    ev.Low,
		Volume: ev.Volume,
	})
	if err != nil {
		return "", err
	}
	return l.write("INFO", string(payload))
}

func (l *QuoteLog) Info(msg string) error {
	_, err := l.write("INFO", msg)
	return err
}

func (l *QuoteLog) Error(msg string) error {
	_, err := l.write("ERROR", msg)
	return err
}

func (l *QuoteLog) write(level, msg string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return "", fmt.Errorf("quote log closed")
	}
	line := fmt.Sprintf("%s - %s - %s", l.now().UTC().Format(ingest.LogTimeLayout), level, msg)
	if _, err := l.f.WriteString(line + "\n"); err != nil {
		return "", err
	}
	if l.fsync {
		if err := l.f.Sync(); err != nil {
			return "", err
		}
	}
	return line, nil
}

func (l *QuoteLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
