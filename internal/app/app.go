package app

import (
	"context"
	"fmt"
	"io"

	"qtrader/internal/config"
	"qtrader/internal/logger"
	"qtrader/internal/observer"
	runshttp "qtrader/internal/transport/http/runs"

	"golang.org/x/sync/errgroup"
)

// App wires the training loop with the optional observer and HTTP API.
type App struct {
	cfg      *config.Config
	path     string
	loop     *Loop
	recorder *observer.Recorder
	http     *runshttp.Server
	closers  []io.Closer

	Summary *StartupSummary
}

// StatusView is what /api/status returns.
type StatusView struct {
	Loop     Status          `json:"loop"`
	Observer *observer.Stats `json:"observer,omitempty"`
}

// NewApp builds the application without starting it. path is watched for
// config changes once Run starts; pass "" to disable reloads.
func NewApp(cfg *config.Config, path string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(context.Background(), cfg, ConfigPath(path))
}

// Run starts every component and returns when the loop has completed its
// configured runs or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.loop == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()
	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.path != "" {
		if err := config.Watch(a.path, a.loop.Reload); err != nil {
			logger.Warnf("[config] watch disabled: %v", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, gctx := errgroup.WithContext(runCtx)

	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(gctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	if a.recorder != nil {
		group.Go(func() error {
			if err := a.recorder.Run(gctx); err != nil {
				return fmt.Errorf("observer error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		defer cancel()
		return a.loop.Run(gctx)
	})
	return group.Wait()
}

func (a *App) Status() StatusView {
	view := StatusView{Loop: a.loop.Snapshot()}
	if a.recorder != nil {
		stats := a.recorder.Stats()
		view.Observer = &stats
	}
	return view
}

func (a *App) Loop() *Loop { return a.loop }

// Close releases stores and files in reverse open order.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
