package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"qtrader/internal/app"
	"qtrader/internal/config"
	"qtrader/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := config.PathFromEnv()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.App.LogPath != "" {
		logFile, err := logger.TeeFile(cfg.App.LogPath)
		if err != nil {
			log.Fatalf("open log file: %v", err)
		}
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s, source=%s, path=%s)", cfg.App.Env, cfg.Data.Source, cfgPath)

	a, err := app.NewApp(cfg, cfgPath)
	if err != nil {
		log.Fatalf("init app: %v", err)
	}
	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("run failed: %v", err)
	}
}
