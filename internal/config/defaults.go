package config

import (
	"strings"
	"time"
)

const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9991"
	defaultAppLogPath      = "log/qtrader.log"
	defaultDataSource      = SourceLog
	defaultQuoteLogPath    = "log/crypto_price_log.log"
	defaultQuoteDBPath     = "data/quotes.db"
	defaultInitialBalance  = "1000"
	defaultCommission      = "0.001"
	defaultMinTradeAmount  = "1"
	defaultRewardScale     = 1.0
	defaultEpisodes        = 1000
	defaultAlpha           = 0.1
	defaultGamma           = 0.5
	defaultEpsilonInitial  = 0.5
	defaultEpsilonFloor    = 0.01
	defaultEpsilonDecay    = 0.995
	defaultReportEvery     = 50
	defaultInitLow         = -1.0
	defaultInitHigh        = 1.0
	defaultRestartInterval = 10 * time.Second
	defaultMaxFailures     = 5
	defaultFailureCooldown = 2 * time.Minute
	defaultObserverWSURL   = "wss://stream.binance.com:9443/stream?streams="
	defaultReportDir       = "reports"
	defaultSMAPeriod       = 20
	defaultRunsDBPath      = "data/runs.db"
)

// DefaultSymbols are the pairs the observer records when none are configured.
var DefaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "ADAUSDT", "XRPUSDT",
	"SOLUSDT", "DOTUSDT", "DOGEUSDT", "MATICUSDT", "LINKUSDT",
}

// applyDefaults fills every section.
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Env.applyDefaults(keys)
	c.Train.applyDefaults(keys)
	c.Loop.applyDefaults(keys)
	c.Observer.applyDefaults(keys)
	c.Report.applyDefaults(keys)
	c.Store.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("data.source", &d.Source, defaultDataSource),
		stringFieldDefault("data.quote_log_path", &d.QuoteLogPath, defaultQuoteLogPath),
		stringFieldDefault("data.quote_db_path", &d.QuoteDBPath, defaultQuoteDBPath),
	)
	d.Source = strings.ToLower(strings.TrimSpace(d.Source))
	d.Symbols = normalizeSymbols(d.Symbols)
}

func (e *EnvConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("env.initial_balance", &e.InitialBalance, defaultInitialBalance),
		stringFieldDefault("env.commission", &e.Commission, defaultCommission),
		stringFieldDefault("env.min_trade_amount", &e.MinTradeAmount, defaultMinTradeAmount),
		fieldDefault{
			key:   "env.reward_scale",
			need:  func() bool { return e.RewardScale == 0 },
			apply: func() { e.RewardScale = defaultRewardScale },
		},
	)
}

func (t *TrainConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "train.episodes",
			need:  func() bool { return t.Episodes <= 0 },
			apply: func() { t.Episodes = defaultEpisodes },
		},
		floatFieldDefault("train.alpha", &t.Alpha, defaultAlpha),
		floatFieldDefault("train.gamma", &t.Gamma, defaultGamma),
		floatFieldDefault("train.epsilon_initial", &t.EpsilonInitial, defaultEpsilonInitial),
		floatFieldDefault("train.epsilon_floor", &t.EpsilonFloor, defaultEpsilonFloor),
		floatFieldDefault("train.epsilon_decay", &t.EpsilonDecay, defaultEpsilonDecay),
		fieldDefault{
			key:   "train.report_every",
			need:  func() bool { return t.ReportEvery == 0 },
			apply: func() { t.ReportEvery = defaultReportEvery },
		},
		floatFieldDefault("train.init_low", &t.InitLow, defaultInitLow),
		floatFieldDefault("train.init_high", &t.InitHigh, defaultInitHigh),
	)
}

func (l *LoopConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "loop.restart_interval",
			need:  func() bool { return l.RestartInterval == 0 },
			apply: func() { l.RestartInterval = defaultRestartInterval },
		},
		fieldDefault{
			key:   "loop.max_failures",
			need:  func() bool { return l.MaxFailures == 0 },
			apply: func() { l.MaxFailures = defaultMaxFailures },
		},
		fieldDefault{
			key:   "loop.failure_cooldown",
			need:  func() bool { return l.FailureCooldown == 0 },
			apply: func() { l.FailureCooldown = defaultFailureCooldown },
		},
	)
}

func (o *ObserverConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("observer.ws_base_url", &o.WSBaseURL, defaultObserverWSURL),
		boolFieldDefault("observer.fsync", &o.Fsync, true),
		fieldDefault{
			key:   "observer.symbols",
			need:  func() bool { return len(o.Symbols) == 0 },
			apply: func() { o.Symbols = append([]string(nil), DefaultSymbols...) },
		},
	)
	o.Symbols = normalizeSymbols(o.Symbols)
}

func (r *ReportConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("report.dir", &r.Dir, defaultReportDir),
		fieldDefault{
			key:   "report.sma_period",
			need:  func() bool { return r.SMAPeriod == 0 },
			apply: func() { r.SMAPeriod = defaultSMAPeriod },
		},
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.runs_db_path", &s.RunsDBPath, defaultRunsDBPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

// floatFieldDefault applies def whenever key is absent, so an explicit zero
// survives.
func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeSymbols(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
