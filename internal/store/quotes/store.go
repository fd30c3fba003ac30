// Package quotes keeps observed ticker quotes in a single sqlite file so a
// training run can load them without re-parsing the quote log.
package quotes

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"qtrader/internal/ingest"
	"qtrader/internal/market"

	_ "modernc.org/sqlite"
)

// SymbolStats summarises what the store holds for one symbol.
type SymbolStats struct {
	Symbol  market.AssetID `json:"symbol"`
	Rows    int64          `json:"rows"`
	MinTime int64          `json:"min_time"`
	MaxTime int64          `json:"max_time"`
}

type Store struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// Open creates the database file (and its directory) when missing.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("quote db path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{path: path, db: db}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("quote store closed")
	}
	return s.db, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quotes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT NOT NULL,
			price      REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			volume     REAL NOT NULL,
			event_time INTEGER NOT NULL DEFAULT 0,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_symbol ON quotes(symbol, id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertQuotes appends quotes in one transaction. Row ids preserve arrival
// order, which is the chronological order LoadSeries replays.
func (s *Store) InsertQuotes(ctx context.Context, quotes []market.Quote) (int, error) {
	if len(quotes) == 0 {
		return 0, nil
	}
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO quotes (symbol, price, high, low, volume, event_time)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, q := range quotes {
		var ts int64
		if !q.Time.IsZero() {
			ts = q.Time.UnixMilli()
		}
		if _, err := stmt.ExecContext(ctx, string(q.Symbol), q.Bar.Price, q.Bar.High, q.Bar.Low, q.Bar.Volume, ts); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// LoadQuotes returns stored quotes in insertion order, optionally limited to
// symbols.
func (s *Store) LoadQuotes(ctx context.Context, symbols []market.AssetID) ([]market.Quote, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	query := `SELECT symbol, price, high, low, volume, event_time FROM quotes`
	args := make([]any, 0, len(symbols))
	if len(symbols) > 0 {
		marks := make([]string, len(symbols))
		for i, sym := range symbols {
			marks[i] = "?"
			args = append(args, string(sym))
		}
		query += ` WHERE symbol IN (` + strings.Join(marks, ",") + `)`
	}
	query += ` ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Quote
	for rows.Next() {
		var (
			q   market.Quote
			sym string
			ts  int64
		)
		if err := rows.Scan(&sym, &q.Bar.Price, &q.Bar.High, &q.Bar.Low, &q.Bar.Volume, &ts); err != nil {
			return nil, err
		}
		q.Symbol = market.AssetID(sym)
		if ts > 0 {
			q.Time = time.UnixMilli(ts).UTC()
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// LoadSeries builds a market series from stored quotes. Symbol order follows
// symbols when given, otherwise first appearance.
func (s *Store) LoadSeries(ctx context.Context, symbols []market.AssetID) (*market.Series, error) {
	quotes, err := s.LoadQuotes(ctx, symbols)
	if err != nil {
		return nil, err
	}
	return ingest.BuildSeries(quotes, symbols)
}

// Count reports per-symbol row counts and time range, ordered by symbol.
func (s *Store) Count(ctx context.Context) ([]SymbolStats, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT symbol, COUNT(1), COALESCE(MIN(event_time), 0), COALESCE(MAX(event_time), 0)
		FROM quotes GROUP BY symbol ORDER BY symbol ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SymbolStats
	for rows.Next() {
		var (
			st  SymbolStats
			sym string
		)
		if err := rows.Scan(&sym, &st.Rows, &st.MinTime, &st.MaxTime); err != nil {
			return nil, err
		}
		st.Symbol = market.AssetID(sym)
		out = append(out, st)
	}
	return out, rows.Err()
}
