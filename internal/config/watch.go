package config

import (
	"fmt"
	"path/filepath"

	"qtrader/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch reloads path whenever the file changes and hands the validated
// result to fn. A reload that fails to load or validate is logged and the
// previous config stays in effect. Included files are not watched.
func Watch(path string, fn func(*Config)) error {
	if fn == nil {
		return fmt.Errorf("config watch callback cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", abs, err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		cfg, err := Load(abs)
		if err != nil {
			logger.Errorf("[config] reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("[config] reloaded %s (%s)", evt.Name, evt.Op)
		fn(cfg)
	})
	v.WatchConfig()
	return nil
}
