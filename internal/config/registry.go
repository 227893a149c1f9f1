package config

import "sync/atomic"

// Registry holds the active configuration behind an atomic pointer. Readers
// take an immutable snapshot with Current; a hot reload builds a fresh
// Config and installs it whole with Swap. No field is ever mutated in
// place, so a request keeps the exact snapshot it started with.
type Registry struct {
	current atomic.Pointer[Config]
	version atomic.Uint64
}

func NewRegistry(cfg *Config) *Registry {
	r := &Registry{}
	r.current.Store(cfg)
	r.version.Store(1)
	return r
}

// Current returns the active snapshot. Callers must not mutate it.
func (r *Registry) Current() *Config {
	return r.current.Load()
}

// Version returns the install count of the active snapshot.
func (r *Registry) Version() uint64 {
	return r.version.Load()
}

// Swap installs a new snapshot and returns its version.
func (r *Registry) Swap(cfg *Config) uint64 {
	r.current.Store(cfg)
	return r.version.Add(1)
}
