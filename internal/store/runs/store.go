// Package runs records every training/evaluation run with its parameters,
// outcome and evaluation trace.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qtrader/internal/market"
	"qtrader/internal/portfolio"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("run not found")

// Run is the public view of one stored run. Money fields are decimal strings.
type Run struct {
	ID           string            `json:"id"`
	Seq          int               `json:"seq"`
	Status       Status            `json:"status"`
	Source       string            `json:"source"`
	Assets       []market.AssetID  `json:"assets"`
	Params       json.RawMessage   `json:"params,omitempty"`
	Episodes     int               `json:"episodes"`
	Steps        int               `json:"steps"`
	FinalEpsilon float64           `json:"final_epsilon"`
	InitialValue string            `json:"initial_value"`
	FinalValue   string            `json:"final_value,omitempty"`
	FinalBalance string            `json:"final_balance,omitempty"`
	Holdings     map[string]string `json:"holdings,omitempty"`
	ReportDir    string            `json:"report_dir,omitempty"`
	Error        string            `json:"error,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
}

// Start describes a run about to train.
type Start struct {
	Seq          int
	Source       string
	Assets       []market.AssetID
	Params       any
	Episodes     int
	InitialValue decimal.Decimal
}

// Outcome is what a finished run reports.
type Outcome struct {
	Steps        int
	FinalEpsilon float64
	Final        portfolio.Snapshot
	Trace        []float64
	ReportDir    string
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open initializes the sqlite file at path and migrates the runs table.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("runs db path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// HTTP reads run alongside the training loop's writes.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create stores a running record and returns it with a fresh id.
func (s *Store) Create(ctx context.Context, st Start) (Run, error) {
	if s == nil || s.db == nil {
		return Run{}, fmt.Errorf("runs store not initialized")
	}
	assets, err := json.Marshal(st.Assets)
	if err != nil {
		return Run{}, err
	}
	m := runModel{
		ID:            uuid.NewString(),
		Seq:           st.Seq,
		Status:        StatusRunning,
		Source:        st.Source,
		AssetsJSON:    datatypes.JSON(assets),
		Episodes:      st.Episodes,
		InitialValue:  st.InitialValue.String(),
		StartedAtUnix: s.now().UnixMilli(),
	}
	if st.Params != nil {
		params, err := json.Marshal(st.Params)
		if err != nil {
			return Run{}, fmt.Errorf("marshal params: %w", err)
		}
		m.ParamsJSON = datatypes.JSON(params)
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return Run{}, err
	}
	return toRun(m), nil
}

// Finish marks a run finished and stores its final portfolio and trace.
func (s *Store) Finish(ctx context.Context, id string, out Outcome) error {
	holdings := make(map[string]string, len(out.Final.Holdings))
	for asset, qty := range out.Final.Holdings {
		holdings[string(asset)] = qty.String()
	}
	holdingsJSON, err := json.Marshal(holdings)
	if err != nil {
		return err
	}
	trace := out.Trace
	if trace == nil {
		trace = []float64{}
	}
	traceJSON, err := json.Marshal(trace)
	if err != nil {
		return err
	}
	return s.update(ctx, id, map[string]any{
		"status":        StatusFinished,
		"steps":         out.Steps,
		"final_epsilon": out.FinalEpsilon,
		"final_value":   out.Final.TotalValue.String(),
		"final_balance": out.Final.Balance.String(),
		"holdings_json": datatypes.JSON(holdingsJSON),
		"trace_json":    datatypes.JSON(traceJSON),
		"report_dir":    out.ReportDir,
		"finished_at":   s.now().UnixMilli(),
	})
}

// Fail marks a run failed with the error text.
func (s *Store) Fail(ctx context.Context, id string, cause error) error {
	text := "unknown error"
	if cause != nil {
		text = cause.Error()
	}
	return s.update(ctx, id, map[string]any{
		"status":      StatusFailed,
		"error_text":  text,
		"finished_at": s.now().UnixMilli(),
	})
}

func (s *Store) update(ctx context.Context, id string, fields map[string]any) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("runs store not initialized")
	}
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns the newest runs first. limit <= 0 means 50.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("runs store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	var models []runModel
	err := s.db.WithContext(ctx).
		Omit("trace_json").
		Order("started_at DESC").Order("seq DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		out = append(out, toRun(m))
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	m, err := s.find(ctx, id, true)
	if err != nil {
		return Run{}, err
	}
	return toRun(m), nil
}

// Trace returns the evaluation total-value trace of a finished run.
func (s *Store) Trace(ctx context.Context, id string) ([]float64, error) {
	m, err := s.find(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if len(m.TraceJSON) == 0 {
		return []float64{}, nil
	}
	var trace []float64
	if err := json.Unmarshal(m.TraceJSON, &trace); err != nil {
		return nil, fmt.Errorf("decode trace %s: %w", id, err)
	}
	return trace, nil
}

func (s *Store) find(ctx context.Context, id string, omitTrace bool) (runModel, error) {
	if s == nil || s.db == nil {
		return runModel{}, fmt.Errorf("runs store not initialized")
	}
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if omitTrace {
		q = q.Omit("trace_json")
	}
	var m runModel
	if err := q.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return runModel{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return runModel{}, err
	}
	return m, nil
}

func toRun(m runModel) Run {
	r := Run{
		ID:           m.ID,
		Seq:          m.Seq,
		Status:       m.Status,
		Source:       m.Source,
		Episodes:     m.Episodes,
		Steps:        m.Steps,
		FinalEpsilon: m.FinalEpsilon,
		InitialValue: m.InitialValue,
		FinalValue:   m.FinalValue,
		FinalBalance: m.FinalBalance,
		ReportDir:    m.ReportDir,
		Error:        m.ErrorText,
		StartedAt:    time.UnixMilli(m.StartedAtUnix).UTC(),
	}
	if len(m.AssetsJSON) > 0 {
		_ = json.Unmarshal(m.AssetsJSON, &r.Assets)
	}
	if len(m.ParamsJSON) > 0 {
		r.Params = json.RawMessage(m.ParamsJSON)
	}
	if len(m.HoldingsJSON) > 0 {
		_ = json.Unmarshal(m.HoldingsJSON, &r.Holdings)
	}
	if m.FinishedAtUnix > 0 {
		t := time.UnixMilli(m.FinishedAtUnix).UTC()
		r.FinishedAt = &t
	}
	return r
}
