package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "credence.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 || cfg.LogLevel != "info" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "port: 9090\nmin_certainty: 0.2\nmock_llm: true\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Port)
	}
	if cfg.MinCertainty != 0.2 {
		t.Errorf("min_certainty = %v, want 0.2", cfg.MinCertainty)
	}
	if !cfg.MockLLM {
		t.Error("mock_llm not set")
	}
	// Untouched keys keep their defaults.
	if cfg.MaxSources != 12 {
		t.Errorf("max_sources = %d, want default 12", cfg.MaxSources)
	}
}

func TestLoadEnvOverlayWins(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "port: 9090\n")
	t.Setenv("CREDENCE_PORT", "7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7070 {
		t.Errorf("port = %d, want env overlay 7070", cfg.Port)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "port: [not a number\n")

	if _, err := Load(path); err == nil {
		t.Error("malformed YAML did not error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port zero", func(c *Config) { c.Port = 0 }, "port"},
		{"port too high", func(c *Config) { c.Port = 70000 }, "port"},
		{"empty state path", func(c *Config) { c.StatePath = "" }, "state_path"},
		{"certainty above one", func(c *Config) { c.MinCertainty = 1.5 }, "min_certainty"},
		{"negative concurrency", func(c *Config) { c.EnsembleConcurrency = -1 }, "ensemble_concurrency"},
		{"zero rps", func(c *Config) { c.RateLimitRPS = 0 }, "rate_limit_rps"},
		{"bad log level", func(c *Config) { c.LogLevel = "silly" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestRegistrySwapBumpsVersion(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	if r.Version() != 1 {
		t.Fatalf("initial version = %d, want 1", r.Version())
	}

	next := DefaultConfig()
	next.Port = 9999
	if v := r.Swap(next); v != 2 {
		t.Errorf("Swap version = %d, want 2", v)
	}
	if r.Current().Port != 9999 {
		t.Errorf("Current().Port = %d, want 9999", r.Current().Port)
	}
}

func TestRegistrySwapUnderConcurrentReaders(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				cfg := r.Current()
				if cfg.Port < 1 {
					t.Error("reader saw torn config")
					return
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		cfg := DefaultConfig()
		cfg.Port = 8000 + i
		r.Swap(cfg)
	}
	close(stop)
	wg.Wait()

	if r.Version() != 101 {
		t.Errorf("version = %d, want 101", r.Version())
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "port: 9090\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	registry := NewRegistry(cfg)

	w, err := NewWatcher(registry, path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Start()
	defer w.Stop()

	writeConfig(t, dir, "port: 9191\n")

	deadline := time.Now().Add(5 * time.Second)
	for registry.Version() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("config never reloaded")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := registry.Current().Port; got != 9191 {
		t.Errorf("reloaded port = %d, want 9191", got)
	}
}

func TestWatcherKeepsCurrentOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "port: 9090\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	registry := NewRegistry(cfg)

	w, err := NewWatcher(registry, path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Start()
	defer w.Stop()

	writeConfig(t, dir, "port: 0\n")

	// Give the watcher time to see the write; the invalid file must not be
	// installed.
	time.Sleep(watchDebounce + 500*time.Millisecond)
	if registry.Version() != 1 {
		t.Errorf("invalid config was installed, version = %d", registry.Version())
	}
	if registry.Current().Port != 9090 {
		t.Errorf("port = %d, want original 9090", registry.Current().Port)
	}
}
