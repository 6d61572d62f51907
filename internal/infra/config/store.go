package config

import (
	"sync"
)

// Store guards the live Config shared by the gateway handlers. Snapshot
// hands out copies; SetDefault also persists the change when a path is set.
type Store struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewStore wraps cfg. An empty path keeps changes in memory only.
func NewStore(cfg *Config, path string) *Store {
	return &Store{cfg: cfg, path: path}
}

// Snapshot returns a copy of the current config.
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := *s.cfg
	out.Providers = append([]ProviderConfig(nil), s.cfg.Providers...)
	out.Gateway.Auth.Tokens = append([]TokenConfig(nil), s.cfg.Gateway.Auth.Tokens...)
	return &out
}

// Provider looks up a provider by name; an empty name means the default.
func (s *Store) Provider(name string) (ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name == "" {
		return s.cfg.Active()
	}
	return s.cfg.Provider(name)
}

// SetDefault switches the default provider. The file on disk is edited in
// place so secrets stay as they were written.
func (s *Store) SetDefault(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.cfg.Provider(name); err != nil {
		return err
	}
	if s.path != "" {
		if err := Edit(s.path, func(c *Config) error { return c.SetDefault(name) }); err != nil {
			return err
		}
	}
	s.cfg.Default = name
	return nil
}
