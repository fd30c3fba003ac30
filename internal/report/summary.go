package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"qtrader/internal/logger"

	"gopkg.in/yaml.v3"
)

// Summary is the YAML record written next to a run's chart.
type Summary struct {
	RunID        string            `yaml:"run_id"`
	Seq          int               `yaml:"seq"`
	Source       string            `yaml:"source"`
	Assets       []string          `yaml:"assets"`
	Episodes     int               `yaml:"episodes"`
	Steps        int               `yaml:"steps"`
	FinalEpsilon float64           `yaml:"final_epsilon"`
	InitialValue string            `yaml:"initial_value"`
	FinalValue   string            `yaml:"final_value"`
	FinalBalance string            `yaml:"final_balance"`
	Holdings     map[string]string `yaml:"holdings"`
	Return       float64           `yaml:"return"`
	Ingest       string            `yaml:"ingest,omitempty"`
	StartedAt    time.Time         `yaml:"started_at"`
	FinishedAt   time.Time         `yaml:"finished_at"`
}

type WriteOptions struct {
	SMAPeriod int
	// PNG also screenshots the chart; a missing Chrome is logged, not fatal.
	PNG bool
}

// Files lists what WriteRun produced.
type Files struct {
	Dir     string
	Summary string
	Chart   string
	PNG     string
}

const (
	SummaryFile = "summary.yaml"
	ChartFile   = "trace.html"
	PNGFile     = "trace.png"
)

// WriteRun writes summary.yaml and trace.html (plus trace.png when asked)
// into dir, creating it.
func WriteRun(ctx context.Context, dir string, s Summary, trace []float64, opt WriteOptions) (Files, error) {
	if dir == "" {
		return Files{}, fmt.Errorf("report dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, err
	}
	files := Files{Dir: dir, Summary: filepath.Join(dir, SummaryFile)}
	raw, err := yaml.Marshal(s)
	if err != nil {
		return Files{}, fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(files.Summary, raw, 0o644); err != nil {
		return Files{}, err
	}
	if len(trace) == 0 {
		return files, nil
	}
	html, err := RenderChart(trace, Chart{
		Subtitle:  fmt.Sprintf("run %s | return %.2f%%", s.RunID, s.Return*100),
		SMAPeriod: opt.SMAPeriod,
	})
	if err != nil {
		return files, err
	}
	files.Chart = filepath.Join(dir, ChartFile)
	if err := os.WriteFile(files.Chart, html, 0o644); err != nil {
		return files, err
	}
	if !opt.PNG {
		return files, nil
	}
	png, err := RenderPNG(ctx, html)
	if err != nil {
		logger.Warnf("[report] png snapshot skipped: %v", err)
		return files, nil
	}
	files.PNG = filepath.Join(dir, PNGFile)
	if err := os.WriteFile(files.PNG, png, 0o644); err != nil {
		return files, err
	}
	return files, nil
}

func ReadSummary(path string) (Summary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, err
	}
	var s Summary
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Summary{}, fmt.Errorf("decode summary %s: %w", path, err)
	}
	return s, nil
}
