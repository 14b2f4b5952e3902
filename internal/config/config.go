// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Upstream fetcher backends.
const (
	FetcherHTTP     = "http"
	FetcherColly    = "colly"
	FetcherHeadless = "headless"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig controls the inbound listener.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// UpstreamConfig describes the page being scraped and how it is fetched.
type UpstreamConfig struct {
	URL       string        `mapstructure:"url"`
	Fetcher   string        `mapstructure:"fetcher"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// ScrapeConfig sizes the worker pool and describes the page layout.
type ScrapeConfig struct {
	Workers           int    `mapstructure:"workers"`
	QueueDepth        int    `mapstructure:"queue_depth"`
	ContainerSelector string `mapstructure:"container_selector"`
	LinkSelector      string `mapstructure:"link_selector"`
	TargetOccurrence  int    `mapstructure:"target_occurrence"`
}

// HeadlessConfig configures the headless fetcher.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the Prometheus listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REPLAYS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:1337")
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("upstream.url", "http://replay.pokemonshowdown.com")
	v.SetDefault("upstream.fetcher", FetcherHTTP)
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.user_agent", "replayscraper/1.0")
	v.SetDefault("scrape.workers", 4)
	v.SetDefault("scrape.queue_depth", 0)
	v.SetDefault("scrape.container_selector", ".linklist")
	v.SetDefault("scrape.link_selector", "li > a")
	v.SetDefault("scrape.target_occurrence", 1)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("logging.development", true)
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("server.addr must be host:port: %w", err)
	}
	if c.Server.ReadHeaderTimeout < 0 {
		return fmt.Errorf("server.read_header_timeout must be >= 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	u, err := url.Parse(c.Upstream.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("upstream.url must be an absolute http(s) URL, got %q", c.Upstream.URL)
	}
	switch c.Upstream.Fetcher {
	case FetcherHTTP, FetcherColly, FetcherHeadless:
	default:
		return fmt.Errorf("upstream.fetcher must be one of http, colly, headless, got %q", c.Upstream.Fetcher)
	}
	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("upstream.timeout must be >= 0")
	}
	if c.Scrape.Workers <= 0 {
		return fmt.Errorf("scrape.workers must be > 0")
	}
	if c.Scrape.QueueDepth < 0 {
		return fmt.Errorf("scrape.queue_depth must be >= 0")
	}
	if c.Scrape.TargetOccurrence < 0 {
		return fmt.Errorf("scrape.target_occurrence must be >= 0")
	}
	if c.Upstream.Fetcher == FetcherHeadless && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when the headless fetcher is selected")
	}
	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr must be host:port: %w", err)
		}
	}
	return nil
}

// NavTimeout converts the headless navigation timeout to a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
