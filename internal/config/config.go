package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "QTRADER_CONFIG"

const DefaultPath = "configs/config.yaml"

// PathFromEnv returns $QTRADER_CONFIG, or DefaultPath when unset.
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path and the files it includes, fills defaults for keys no file
// set, anchors relative file paths at app.base_dir and validates the result.
// Included files are merged first so the including file wins.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := includeWalker{done: map[string]bool{}, active: map[string]bool{}}
	if err := w.visit(root); err != nil {
		return nil, err
	}

	merged := viper.New()
	for _, l := range w.layers {
		if err := merged.MergeConfigMap(l.settings); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", l.path, err)
		}
	}
	var cfg Config
	if err := merged.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults(explicitKeys(merged.AllSettings()))
	cfg.anchorPaths(filepath.Dir(root))
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// anchorPaths joins every relative file path with app.base_dir. A relative
// base_dir is taken from the directory of the top-level config file; an
// empty one leaves paths relative to the working directory.
func (c *Config) anchorPaths(configDir string) {
	base := strings.TrimSpace(c.App.BaseDir)
	if base == "" {
		return
	}
	if !filepath.IsAbs(base) {
		base = filepath.Join(configDir, base)
	}
	c.App.BaseDir = filepath.Clean(base)
	for _, p := range []*string{
		&c.App.LogPath,
		&c.Data.QuoteLogPath,
		&c.Data.QuoteDBPath,
		&c.Report.Dir,
		&c.Store.RunsDBPath,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.App.BaseDir, *p)
		}
	}
}

type configLayer struct {
	path     string
	settings map[string]any
}

// includeWalker reads each config file once, depth first, so layers come out
// in merge order.
type includeWalker struct {
	done   map[string]bool
	active map[string]bool
	layers []configLayer
}

func (w *includeWalker) visit(path string) error {
	path = filepath.Clean(path)
	if w.active[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if w.done[path] {
		return nil
	}
	w.active[path] = true
	defer delete(w.active, path)

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	settings := v.AllSettings()
	includes, err := includeList(settings["include"])
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	delete(settings, "include")
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := w.visit(inc); err != nil {
			return err
		}
	}
	w.done[path] = true
	w.layers = append(w.layers, configLayer{path: path, settings: settings})
	return nil
}

// includeList accepts a single file name or a list of them.
func includeList(raw any) ([]string, error) {
	var items []any
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		items = []any{val}
	case []string:
		for _, s := range val {
			items = append(items, s)
		}
	case []any:
		items = val
	default:
		return nil, fmt.Errorf("include must be a string or a string array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// explicitKeys lists the dotted leaf keys present in the merged files.
func explicitKeys(settings map[string]any) keySet {
	keys := make(keySet)
	var walk func(prefix string, node any)
	walk = func(prefix string, node any) {
		children, ok := node.(map[string]any)
		if !ok || len(children) == 0 {
			keys.mark(prefix)
			return
		}
		for k, child := range children {
			walk(prefix+"."+strings.ToLower(k), child)
		}
	}
	for k, v := range settings {
		walk(strings.ToLower(k), v)
	}
	return keys
}
