package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoadEnv reads the .env file named by CREDENCE_ENV (or .env by default),
// then the .secret sidecar if present. API keys referenced as env:NAME in
// provider entries resolve against the process environment afterwards.
func LoadEnv() {
	envFile := os.Getenv("CREDENCE_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Missing files are fine; the overlay is optional.
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")
}

// Load builds a Config from defaults, the YAML file at path if it exists,
// and a CREDENCE_* environment overlay, in that order. Validation is the
// caller's call, so a reloader can decide what to do with a bad file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	// CREDENCE_MIN_CERTAINTY -> min_certainty, etc.
	if err := k.Load(env.Provider("CREDENCE_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "CREDENCE_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.StatePath == "" {
		return fmt.Errorf("state_path is required")
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be positive")
	}
	if c.MaxSources < 1 {
		return fmt.Errorf("max_sources must be positive")
	}
	if c.MinCertainty < 0 || c.MinCertainty > 1 {
		return fmt.Errorf("min_certainty %v out of [0,1]", c.MinCertainty)
	}
	if c.EnsembleConcurrency < 1 {
		return fmt.Errorf("ensemble_concurrency must be positive")
	}
	if c.AggregateTimeoutSeconds < 1 {
		return fmt.Errorf("aggregate_timeout_seconds must be positive")
	}
	if c.SnapshotIntervalSeconds < 1 {
		return fmt.Errorf("snapshot_interval_seconds must be positive")
	}
	if c.RefresherIntervalSeconds < 1 {
		return fmt.Errorf("refresher_interval_seconds must be positive")
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("rate_limit_rps must be positive")
	}
	if c.RateLimitBurst < 1 {
		return fmt.Errorf("rate_limit_burst must be positive")
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level %q: must be one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// ServerAddr renders the listen address for the configured port.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
