package config

import "time"

// Config is the full credence.yaml configuration, flat keys with a
// CREDENCE_* environment overlay. Snapshots are immutable: a reload builds
// a fresh Config and swaps it into the Registry whole.
type Config struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port" koanf:"port"`
	// AuthToken enables bearer-token auth on mutating routes when set.
	AuthToken string `yaml:"auth_token" koanf:"auth_token"`

	// StatePath is the NDJSON state file location.
	StatePath string `yaml:"state_path" koanf:"state_path"`
	// KeyDir confines file:// API-key references. Empty disables them.
	KeyDir string `yaml:"key_dir" koanf:"key_dir"`
	// AuthorityFileDir confines file:// authority targets. Empty disables
	// them.
	AuthorityFileDir string `yaml:"authority_file_dir" koanf:"authority_file_dir"`

	// HistoryLimit caps prior turns included in a prompt.
	HistoryLimit int `yaml:"history_limit" koanf:"history_limit"`
	// MaxSources caps ranked trust entries per prompt.
	MaxSources int `yaml:"max_sources" koanf:"max_sources"`
	// MinCertainty is the ignorance-zone retrieval cutoff.
	MinCertainty float64 `yaml:"min_certainty" koanf:"min_certainty"`

	// EnsembleConcurrency bounds the secondary fan-out.
	EnsembleConcurrency int `yaml:"ensemble_concurrency" koanf:"ensemble_concurrency"`
	// AggregateTimeoutSeconds floors the voting-round ceiling.
	AggregateTimeoutSeconds int `yaml:"aggregate_timeout_seconds" koanf:"aggregate_timeout_seconds"`

	// SnapshotIntervalSeconds paces the state autosave worker.
	SnapshotIntervalSeconds int `yaml:"snapshot_interval_seconds" koanf:"snapshot_interval_seconds"`
	// RefresherIntervalSeconds paces the authority refresh worker.
	RefresherIntervalSeconds int `yaml:"refresher_interval_seconds" koanf:"refresher_interval_seconds"`

	// RateLimitRPS and RateLimitBurst shape the per-IP HTTP limiter.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" koanf:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst" koanf:"rate_limit_burst"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" koanf:"log_level"`

	// MockLLM swaps every provider call for the in-process mock. Demo and
	// test runs only.
	MockLLM bool `yaml:"mock_llm" koanf:"mock_llm"`
}

func DefaultConfig() *Config {
	return &Config{
		Port:                     8080,
		StatePath:                "data/credence.ndjson",
		HistoryLimit:             20,
		MaxSources:               12,
		MinCertainty:             0.05,
		EnsembleConcurrency:      4,
		AggregateTimeoutSeconds:  60,
		SnapshotIntervalSeconds:  30,
		RefresherIntervalSeconds: 60,
		RateLimitRPS:             100,
		RateLimitBurst:           20,
		LogLevel:                 "info",
	}
}

func (c *Config) AggregateTimeout() time.Duration {
	return time.Duration(c.AggregateTimeoutSeconds) * time.Second
}

func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalSeconds) * time.Second
}

func (c *Config) RefresherInterval() time.Duration {
	return time.Duration(c.RefresherIntervalSeconds) * time.Second
}
