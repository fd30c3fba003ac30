package app

import (
	"fmt"
	"strings"

	"qtrader/internal/config"
)

// StartupSummary is printed once before the loop starts.
type StartupSummary struct {
	Data     DataSummary
	Training TrainingSummary
	Observer ObserverSummary
	HTTPAddr string
}

type DataSummary struct {
	Source  string
	Path    string
	Symbols []string
}

type TrainingSummary struct {
	Episodes        int
	Alpha           float64
	Gamma           float64
	Epsilon         string
	InitialBalance  string
	Commission      string
	Runs            int
	RestartInterval string
}

type ObserverSummary struct {
	Enabled bool
	Symbols []string
	Fsync   bool
}

func buildStartupSummary(cfg *config.Config) *StartupSummary {
	path := cfg.Data.QuoteLogPath
	if cfg.Data.Source == config.SourceSQLite {
		path = cfg.Data.QuoteDBPath
	}
	s := &StartupSummary{
		Data: DataSummary{Source: cfg.Data.Source, Path: path, Symbols: cfg.Data.Symbols},
		Training: TrainingSummary{
			Episodes:        cfg.Train.Episodes,
			Alpha:           cfg.Train.Alpha,
			Gamma:           cfg.Train.Gamma,
			Epsilon:         fmt.Sprintf("%.3f → %.3f (x%.3f)", cfg.Train.EpsilonInitial, cfg.Train.EpsilonFloor, cfg.Train.EpsilonDecay),
			InitialBalance:  cfg.Env.InitialBalance,
			Commission:      cfg.Env.Commission,
			Runs:            cfg.Loop.Runs,
			RestartInterval: cfg.Loop.RestartInterval.String(),
		},
		Observer: ObserverSummary{Enabled: cfg.Observer.Enabled, Symbols: cfg.Observer.Symbols, Fsync: cfg.Observer.Fsync},
	}
	if cfg.App.HTTPEnabled {
		s.HTTPAddr = cfg.App.HTTPAddr
	}
	return s
}

// String renders the banner printed at startup.
func (s *StartupSummary) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 80)
	b.WriteString(line + "\n")
	title := "STARTUP SUMMARY"
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	b.WriteString(line + "\n")

	b.WriteString("[DATA]\n")
	fmt.Fprintf(&b, "  source:   %s (%s)\n", s.Data.Source, s.Data.Path)
	fmt.Fprintf(&b, "  symbols:  %s\n", formatList(s.Data.Symbols))
	b.WriteString("\n[TRAINING]\n")
	fmt.Fprintf(&b, "  episodes: %d  alpha: %g  gamma: %g\n", s.Training.Episodes, s.Training.Alpha, s.Training.Gamma)
	fmt.Fprintf(&b, "  epsilon:  %s\n", s.Training.Epsilon)
	fmt.Fprintf(&b, "  balance:  %s  commission: %s\n", s.Training.InitialBalance, s.Training.Commission)
	runs := "until stopped"
	if s.Training.Runs > 0 {
		runs = fmt.Sprintf("%d", s.Training.Runs)
	}
	fmt.Fprintf(&b, "  runs:     %s every %s\n", runs, s.Training.RestartInterval)
	b.WriteString("\n[OBSERVER]\n")
	if !s.Observer.Enabled {
		b.WriteString("  (disabled)\n")
	} else {
		fmt.Fprintf(&b, "  symbols:  %s\n", formatList(s.Observer.Symbols))
		fmt.Fprintf(&b, "  fsync:    %t\n", s.Observer.Fsync)
	}
	if s.HTTPAddr != "" {
		fmt.Fprintf(&b, "\n[HTTP]\n  listen:   %s\n", s.HTTPAddr)
	}
	b.WriteString(line)
	return b.String()
}

func (s *StartupSummary) Print() {
	fmt.Println(s.String())
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
