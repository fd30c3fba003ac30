package binance

import (
	"strings"
	"time"
)

type Config struct {
	// CombinedURL is the combined-stream endpoint, ending in "streams=".
	CombinedURL string
	ProxyURL    string

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

const defaultCombinedURL = "wss://stream.binance.com:9443/stream?streams="

func (c *Config) withDefaults() Config {
	out := *c
	out.CombinedURL = strings.TrimSpace(out.CombinedURL)
	if out.CombinedURL == "" {
		out.CombinedURL = defaultCombinedURL
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	if out.MinBackoff <= 0 {
		out.MinBackoff = time.Second
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 30 * time.Second
	}
	if out.MaxBackoff < out.MinBackoff {
		out.MaxBackoff = out.MinBackoff
	}
	return out
}
