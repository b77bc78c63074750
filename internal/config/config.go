// Package config loads the client configuration.
//
// Sources, highest priority first:
//  1. explicit --config path;
//  2. CONFIG_PATH;
//  3. ./local.yaml;
//  4. environment only (cleanenv).
//
// Environment variables always overlay the file that was read.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/renderinc/sonymous/internal/api"
	"github.com/renderinc/sonymous/internal/feed"
	"github.com/renderinc/sonymous/internal/like"
)

type Config struct {
	Env     string     `yaml:"env" env:"ENV" env-default:"local"`
	DataDir string     `yaml:"data_dir" env:"DATA_DIR"`
	API     APIConfig  `yaml:"api"`
	Feed    FeedConfig `yaml:"feed"`
	HTTP    HTTPConfig `yaml:"http"`
	Sync    SyncConfig `yaml:"sync"`
}

// APIConfig points at the remote board API.
type APIConfig struct {
	BaseURL string        `yaml:"base_url" env:"API_BASE_URL" env-default:"http://localhost:8000/api"`
	Timeout time.Duration `yaml:"timeout" env:"API_TIMEOUT" env-default:"30s"`
}

// FeedConfig drives the feed synchronizer.
type FeedConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"FEED_REFRESH_INTERVAL" env-default:"30s"`
	RefreshMode     string        `yaml:"refresh_mode" env:"FEED_REFRESH_MODE" env-default:"splice"`
	Campus          string        `yaml:"campus" env:"FEED_CAMPUS"`
	LikePolicy      string        `yaml:"like_policy" env:"FEED_LIKE_POLICY" env-default:"repeat"`
}

// HTTPConfig is the local web UI.
type HTTPConfig struct {
	Host           string   `yaml:"host" env:"HTTP_HOST" env-default:"127.0.0.1"`
	Port           string   `yaml:"port" env:"HTTP_PORT" env-default:"8090"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost:3000"`
}

func (h HTTPConfig) Addr() string { return net.JoinHostPort(h.Host, h.Port) }

// SyncConfig tunes the archive worker.
type SyncConfig struct {
	Concurrency int `yaml:"concurrency" env:"SYNC_CONCURRENCY" env-default:"5"`
}

// MustLoad panics when the configuration cannot be loaded.
func MustLoad(path string) *Config {
	cfg, err := Load(path)

	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	// 1) --config
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml
	if _, err := os.Stat("local.yaml"); err == nil {
		return tryRead("local.yaml")
	}

	// 4) env only
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}
	return &cfg, nil
}

// Validate checks values cleanenv cannot.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api base url is required")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api timeout must be positive")
	}
	if c.Feed.RefreshInterval <= 0 {
		return fmt.Errorf("feed refresh interval must be positive")
	}
	if _, err := feed.ParseRefreshMode(c.Feed.RefreshMode); err != nil {
		return err
	}
	if _, err := like.ParsePolicy(c.Feed.LikePolicy); err != nil {
		return err
	}
	if c.Feed.Campus != "" && !api.IsCampus(c.Feed.Campus) {
		return fmt.Errorf("unknown campus %q", c.Feed.Campus)
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync concurrency must be positive")
	}
	return nil
}

// RefreshMode returns the parsed feed refresh policy.
func (c *Config) RefreshMode() feed.RefreshMode {
	m, _ := feed.ParseRefreshMode(c.Feed.RefreshMode)
	return m
}

// LikePolicy returns the like policy of the feed views.
func (c *Config) LikePolicy() like.Policy {
	p, _ := like.ParsePolicy(c.Feed.LikePolicy)
	return p
}

// DataPath resolves a file under the data directory, which defaults to
// ~/.sonymous.
func (c *Config) DataPath(name string) (string, error) {
	dir := c.DataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dir = filepath.Join(home, ".sonymous")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return filepath.Join(dir, name), nil
}
