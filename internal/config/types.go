package config

import (
	"strings"
	"time"
)

// Config is the root of the YAML configuration file.
type Config struct {
	App      AppConfig      `toml:"app"`
	Data     DataConfig     `toml:"data"`
	Env      EnvConfig      `toml:"env"`
	Train    TrainConfig    `toml:"train"`
	Loop     LoopConfig     `toml:"loop"`
	Observer ObserverConfig `toml:"observer"`
	Report   ReportConfig   `toml:"report"`
	Store    StoreConfig    `toml:"store"`
}

type AppConfig struct {
	Env         string `toml:"env"`
	LogLevel    string `toml:"log_level"`
	LogPath     string `toml:"log_path"`
	HTTPAddr    string `toml:"http_addr"`
	HTTPEnabled bool   `toml:"http_enabled"`

	// BaseDir anchors relative log, data, report and store paths.
	BaseDir string `toml:"base_dir"`
}

// DataConfig selects where a run loads its market snapshot from.
type DataConfig struct {
	Source       string   `toml:"source"`
	QuoteLogPath string   `toml:"quote_log_path"`
	QuoteDBPath  string   `toml:"quote_db_path"`
	Symbols      []string `toml:"symbols"`
}

const (
	SourceLog    = "log"
	SourceSQLite = "sqlite"
)

// EnvConfig holds money amounts as decimal strings; numbers in YAML are
// accepted and converted.
type EnvConfig struct {
	InitialBalance string  `toml:"initial_balance"`
	Commission     string  `toml:"commission"`
	MinTradeAmount string  `toml:"min_trade_amount"`
	RewardScale    float64 `toml:"reward_scale"`
}

type TrainConfig struct {
	Episodes       int     `toml:"episodes"`
	Alpha          float64 `toml:"alpha"`
	Gamma          float64 `toml:"gamma"`
	EpsilonInitial float64 `toml:"epsilon_initial"`
	EpsilonFloor   float64 `toml:"epsilon_floor"`
	EpsilonDecay   float64 `toml:"epsilon_decay"`
	// Seed 0 derives a seed from the clock for every run.
	Seed        uint64  `toml:"seed"`
	ReportEvery int     `toml:"report_every"`
	InitLow     float64 `toml:"init_low"`
	InitHigh    float64 `toml:"init_high"`
}

// LoopConfig drives the train/evaluate restart loop. Runs 0 loops until
// cancelled. After MaxFailures consecutive failed runs the loop waits
// FailureCooldown before trying again.
type LoopConfig struct {
	Runs            int           `toml:"runs"`
	RestartInterval time.Duration `toml:"restart_interval"`
	MaxFailures     int           `toml:"max_failures"`
	FailureCooldown time.Duration `toml:"failure_cooldown"`
}

type ObserverConfig struct {
	Enabled       bool     `toml:"enabled"`
	Symbols       []string `toml:"symbols"`
	WSBaseURL     string   `toml:"ws_base_url"`
	ProxyURL      string   `toml:"proxy_url"`
	RatePerSymbol float64  `toml:"rate_per_symbol"`
	Fsync         bool     `toml:"fsync"`
}

type ReportConfig struct {
	Dir       string `toml:"dir"`
	PNG       bool   `toml:"png"`
	SMAPeriod int    `toml:"sma_period"`
}

type StoreConfig struct {
	RunsDBPath string `toml:"runs_db_path"`
}

// keySet tracks the field paths set explicitly in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault is the default rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
