package config

import (
	"sync"
	"time"
)

// Provider serves immutable settings snapshots. Callers take a fresh snapshot per
// call event so updates apply to the next event without a restart.
type Provider struct {
	mu       sync.RWMutex
	settings Settings
}

// NewProvider creates a provider holding s
func NewProvider(s Settings) *Provider {
	return &Provider{settings: s}
}

// Snapshot returns a copy of the current settings
func (p *Provider) Snapshot() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.copyLocked()
}

// Update applies fn to a copy of the settings and swaps it in if it validates.
// Concurrent updates are applied one after another.
func (p *Provider) Update(fn func(*Settings)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.copyLocked()
	fn(&next)
	if err := next.Hours.Validate(); err != nil {
		return err
	}
	p.settings = next
	return nil
}

func (p *Provider) copyLocked() Settings {
	s := p.settings
	s.Hours.Days = append([]time.Weekday(nil), p.settings.Hours.Days...)
	return s
}
