// Package logger is the process-wide slog text logger. Infrastructure code
// uses the printf helpers; core packages receive L() explicitly.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

var (
	level   slog.LevelVar
	current atomic.Pointer[slog.Logger]
)

func init() {
	SetOutput(os.Stdout)
}

// SetOutput rebuilds the text handler on w; nil means stdout.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	current.Store(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level})))
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// SetLevel applies name; unknown names fall back to info.
func SetLevel(name string) {
	lvl, ok := ParseLevel(name)
	level.Set(lvl)
	if !ok {
		Warnf("[logger] unknown level %q, using info", name)
	}
}

// L returns the current logger. Later SetOutput calls do not affect loggers
// already handed out.
func L() *slog.Logger {
	return current.Load()
}

// TeeFile sends output to stdout and the file at path (appending). The
// returned closer closes the file and restores stdout-only output.
func TeeFile(path string) (io.Closer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("log path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	SetOutput(io.MultiWriter(os.Stdout, f))
	return closerFunc(func() error {
		SetOutput(os.Stdout)
		return f.Close()
	}), nil
}

type closerFunc func() error

func (fn closerFunc) Close() error { return fn() }

func logf(lvl slog.Level, format string, v ...any) {
	l := L()
	if !l.Enabled(context.Background(), lvl) {
		return
	}
	l.Log(context.Background(), lvl, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v...) }

func Infof(format string, v ...any) { logf(slog.LevelInfo, format, v...) }

func Warnf(format string, v ...any) { logf(slog.LevelWarn, format, v...) }

func Errorf(format string, v ...any) { logf(slog.LevelError, format, v...) }

func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			Infof("%s", line)
		}
	}
}
