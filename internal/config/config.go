// Package config loads marketd's runtime configuration from an optional
// YAML file with FV_* environment overrides, and owns the static
// timeframe tables the caching and streaming layers share.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
}

type ServerConfig struct {
	Addr                  string `yaml:"addr" env:"FV_ADDR"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" env:"FV_REQUEST_TIMEOUT_SECONDS"`
	ShutdownGraceSeconds  int    `yaml:"shutdown_grace_seconds" env:"FV_SHUTDOWN_GRACE_SECONDS"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"FV_LOG_LEVEL"`
}

type AuthConfig struct {
	Enabled bool   `yaml:"enabled" env:"FV_AUTH_ENABLED"`
	Token   string `yaml:"token" env:"FV_API_TOKEN"`
	// PublicPaths are /api prefixes served without a token. The default
	// set lists every route, so enabling auth without shrinking it only
	// gates paths added later.
	PublicPaths []string `yaml:"public_paths"`
}

type RateLimitConfig struct {
	Enabled         bool `yaml:"enabled" env:"FV_RATE_LIMIT_ENABLED"`
	RPM             int  `yaml:"rpm" env:"FV_RATE_LIMIT_RPM"`
	FreshMultiplier int  `yaml:"fresh_multiplier" env:"FV_FRESH_DATA_RATE_MULTIPLIER"`
	// ChartEnabled nil follows Enabled, matching the original deployment
	// variable FV_CHART_RATE_LIMIT_ENABLED.
	ChartEnabled         *bool `yaml:"chart_enabled" env:"FV_CHART_RATE_LIMIT_ENABLED"`
	ChartRPM             int   `yaml:"chart_rpm" env:"FV_CHART_RATE_LIMIT_RPM"`
	ChartFreshMultiplier int   `yaml:"chart_fresh_multiplier" env:"FV_CHART_FRESH_DATA_RATE_MULTIPLIER"`
	MaxBuckets           int   `yaml:"max_buckets" env:"FV_RATE_LIMIT_MAX_BUCKETS"`
}

type UpstreamConfig struct {
	BaseURL         string  `yaml:"base_url" env:"FV_UPSTREAM_BASE_URL"`
	SearchBaseURL   string  `yaml:"search_base_url" env:"FV_SEARCH_BASE_URL"`
	NewsBaseURL     string  `yaml:"news_base_url" env:"FV_NEWS_BASE_URL"`
	TimeoutSeconds  int     `yaml:"timeout_seconds" env:"FV_UPSTREAM_TIMEOUT_SECONDS"`
	Retries         int     `yaml:"retries" env:"FV_UPSTREAM_RETRIES"`
	RequestsPerSec  float64 `yaml:"requests_per_sec" env:"FV_UPSTREAM_RPS"`
	Burst           int     `yaml:"burst" env:"FV_UPSTREAM_BURST"`
	BreakerFailures uint32  `yaml:"breaker_failures" env:"FV_UPSTREAM_BREAKER_FAILURES"`
	BreakerOpenSecs int     `yaml:"breaker_open_seconds" env:"FV_UPSTREAM_BREAKER_OPEN_SECONDS"`
}

// Default returns a config that boots without any file or environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                  ":8000",
			RequestTimeoutSeconds: 30,
			ShutdownGraceSeconds:  10,
		},
		Log: LogConfig{Level: "info"},
		Auth: AuthConfig{
			Enabled: false,
			PublicPaths: []string{
				"/api/health",
				"/api/data",
				"/api/data_delta",
				"/api/stream/data",
				"/api/chart/data",
				"/api/chart/data_delta",
				"/api/chart/stream/data",
				"/api/symbols",
				"/api/quotes",
				"/api/stream/quotes",
				"/api/prewarm",
				"/api/news",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:              true,
			RPM:                  120,
			FreshMultiplier:      6,
			ChartRPM:             2400,
			ChartFreshMultiplier: 24,
			MaxBuckets:           8000,
		},
		Upstream: UpstreamConfig{
			BaseURL:         "https://query1.finance.yahoo.com",
			SearchBaseURL:   "https://query2.finance.yahoo.com",
			NewsBaseURL:     "https://news.google.com",
			TimeoutSeconds:  8,
			Retries:         3,
			RequestsPerSec:  8,
			Burst:           4,
			BreakerFailures: 5,
			BreakerOpenSecs: 30,
		},
	}
}

// Load builds the effective config: defaults, then the YAML file when path
// is non-empty, then FV_* environment overrides, then normalization and
// validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize applies the same floors the original deployment applied to its
// environment values instead of rejecting them.
func (c *Config) normalize() {
	if c.RateLimit.RPM < 0 {
		c.RateLimit.RPM = 0
	}
	if c.RateLimit.ChartRPM < 0 {
		c.RateLimit.ChartRPM = 0
	}
	if c.RateLimit.FreshMultiplier < 1 {
		c.RateLimit.FreshMultiplier = 1
	}
	if c.RateLimit.ChartFreshMultiplier < 1 {
		c.RateLimit.ChartFreshMultiplier = 1
	}
	if c.RateLimit.MaxBuckets <= 0 {
		c.RateLimit.MaxBuckets = 8000
	}
	if c.Upstream.Retries < 1 {
		c.Upstream.Retries = 1
	}
	if c.Upstream.Burst < 1 {
		c.Upstream.Burst = 1
	}
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be positive, got %d", c.Server.RequestTimeoutSeconds)
	}
	if c.Server.ShutdownGraceSeconds <= 0 {
		return fmt.Errorf("server.shutdown_grace_seconds must be positive, got %d", c.Server.ShutdownGraceSeconds)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug/info/warn/error, got %q", c.Log.Level)
	}
	if c.Auth.Enabled && c.Auth.Token == "" {
		return fmt.Errorf("auth.enabled requires FV_API_TOKEN to be set")
	}
	if c.Upstream.BaseURL == "" || c.Upstream.SearchBaseURL == "" || c.Upstream.NewsBaseURL == "" {
		return fmt.Errorf("upstream base URLs must not be empty")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be positive, got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.RequestsPerSec <= 0 {
		return fmt.Errorf("upstream.requests_per_sec must be positive, got %v", c.Upstream.RequestsPerSec)
	}
	return nil
}

// ChartLimitEnabled resolves the chart class flag, which follows the
// general flag unless set explicitly.
func (c RateLimitConfig) ChartLimitEnabled() bool {
	if c.ChartEnabled == nil {
		return c.Enabled
	}
	return *c.ChartEnabled
}

func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

func (c UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c UpstreamConfig) BreakerOpen() time.Duration {
	return time.Duration(c.BreakerOpenSecs) * time.Second
}
