package config

import (
	"fmt"
	"strings"

	"qtrader/internal/logger"

	"github.com/shopspring/decimal"
)

// validate runs basic sanity checks over the loaded config.
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Env.validate(); err != nil {
		return err
	}
	if err := c.Train.validate(); err != nil {
		return err
	}
	if err := c.Loop.validate(); err != nil {
		return err
	}
	if err := c.Observer.validate(); err != nil {
		return err
	}
	if err := c.Report.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Store.RunsDBPath) == "" {
		return fmt.Errorf("store.runs_db_path cannot be empty")
	}
	return nil
}

func (a *AppConfig) validate() error {
	if _, ok := logger.ParseLevel(a.LogLevel); !ok {
		return fmt.Errorf("app.log_level must be one of debug|info|warn|error, got %q", a.LogLevel)
	}
	if a.HTTPEnabled && strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty when app.http_enabled is set")
	}
	return nil
}

func (d *DataConfig) validate() error {
	switch d.Source {
	case SourceLog:
		if strings.TrimSpace(d.QuoteLogPath) == "" {
			return fmt.Errorf("data.quote_log_path cannot be empty for source=log")
		}
	case SourceSQLite:
		if strings.TrimSpace(d.QuoteDBPath) == "" {
			return fmt.Errorf("data.quote_db_path cannot be empty for source=sqlite")
		}
	default:
		return fmt.Errorf("data.source must be %q or %q, got %q", SourceLog, SourceSQLite, d.Source)
	}
	return nil
}

func (e *EnvConfig) validate() error {
	balance, err := e.Balance()
	if err != nil {
		return err
	}
	if balance.IsNegative() {
		return fmt.Errorf("env.initial_balance must be >= 0")
	}
	commission, err := e.CommissionRate()
	if err != nil {
		return err
	}
	if commission.IsNegative() || commission.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("env.commission must be in [0, 1)")
	}
	amount, err := e.TradeAmount()
	if err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("env.min_trade_amount must be > 0")
	}
	if e.RewardScale <= 0 {
		return fmt.Errorf("env.reward_scale must be > 0")
	}
	return nil
}

func (e EnvConfig) Balance() (decimal.Decimal, error) {
	return parseDecimal("env.initial_balance", e.InitialBalance)
}

func (e EnvConfig) CommissionRate() (decimal.Decimal, error) {
	return parseDecimal("env.commission", e.Commission)
}

func (e EnvConfig) TradeAmount() (decimal.Decimal, error) {
	return parseDecimal("env.min_trade_amount", e.MinTradeAmount)
}

func parseDecimal(key, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s is not a decimal number: %q", key, raw)
	}
	return d, nil
}

func (t *TrainConfig) validate() error {
	if t.Episodes <= 0 {
		return fmt.Errorf("train.episodes must be > 0")
	}
	if t.Alpha <= 0 || t.Alpha > 1 {
		return fmt.Errorf("train.alpha must be in (0, 1]")
	}
	if t.Gamma < 0 || t.Gamma > 1 {
		return fmt.Errorf("train.gamma must be in [0, 1]")
	}
	if t.EpsilonInitial < 0 || t.EpsilonInitial > 1 {
		return fmt.Errorf("train.epsilon_initial must be in [0, 1]")
	}
	if t.EpsilonFloor < 0 || t.EpsilonFloor > 1 {
		return fmt.Errorf("train.epsilon_floor must be in [0, 1]")
	}
	if t.EpsilonDecay <= 0 || t.EpsilonDecay >= 1 {
		return fmt.Errorf("train.epsilon_decay must be in (0, 1)")
	}
	if t.ReportEvery < 0 {
		return fmt.Errorf("train.report_every must be >= 0")
	}
	if t.InitLow > t.InitHigh {
		return fmt.Errorf("train.init_low must be <= train.init_high")
	}
	return nil
}

func (l *LoopConfig) validate() error {
	if l.Runs < 0 {
		return fmt.Errorf("loop.runs must be >= 0")
	}
	if l.RestartInterval < 0 {
		return fmt.Errorf("loop.restart_interval must be >= 0")
	}
	if l.MaxFailures < 0 {
		return fmt.Errorf("loop.max_failures must be >= 0")
	}
	if l.FailureCooldown < 0 {
		return fmt.Errorf("loop.failure_cooldown must be >= 0")
	}
	return nil
}

func (o *ObserverConfig) validate() error {
	if !o.Enabled {
		return nil
	}
	if len(o.Symbols) == 0 {
		return fmt.Errorf("observer.symbols cannot be empty when observer is enabled")
	}
	if o.RatePerSymbol < 0 {
		return fmt.Errorf("observer.rate_per_symbol must be >= 0")
	}
	if !strings.HasPrefix(o.WSBaseURL, "ws://") && !strings.HasPrefix(o.WSBaseURL, "wss://") {
		return fmt.Errorf("observer.ws_base_url must be a ws:// or wss:// url")
	}
	return nil
}

func (r *ReportConfig) validate() error {
	if r.SMAPeriod < 0 {
		return fmt.Errorf("report.sma_period must be >= 0")
	}
	return nil
}
