// Package bot holds the process-wide runtime configuration. Readers get a
// copy; writers go through Update so no caller ever mutates shared state
// in place.
package bot

import (
	"sync"

	"whatsapp-bridge/internal/models"
)

type State struct {
	mu  sync.RWMutex
	cfg models.BotConfig
}

func NewState(cfg models.BotConfig) *State {
	return &State{cfg: cfg}
}

// Get returns a copy of the current configuration.
func (s *State) Get() models.BotConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	cfg.FallbackMessages = append([]string(nil), s.cfg.FallbackMessages...)
	return cfg
}

// Set replaces the configuration wholesale.
func (s *State) Set(cfg models.BotConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Update applies a mutation under the lock and returns the result.
func (s *State) Update(fn func(*models.BotConfig)) models.BotConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
	return s.cfg
}
