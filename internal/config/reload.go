package config

import (
	"fmt"
	"sync"
)

// Reconfigurable is implemented by components that pick up a reloaded config.
type Reconfigurable interface {
	Apply(cfg *Config) error
}

// ReconfigurableFunc adapts a function to Reconfigurable.
type ReconfigurableFunc func(cfg *Config) error

func (f ReconfigurableFunc) Apply(cfg *Config) error { return f(cfg) }

type namedComponent struct {
	name      string
	component Reconfigurable
}

// Reloader validates a config once and hands it to every registered component
// in registration order.
type Reloader struct {
	mu         sync.Mutex
	components []namedComponent
	current    *Config
}

// NewReloader creates a reloader seeded with the active config.
func NewReloader(current *Config) *Reloader {
	return &Reloader{current: current}
}

// Register adds a component. Components registered earlier are applied first.
func (r *Reloader) Register(name string, component Reconfigurable) {
	if r == nil || component == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components = append(r.components, namedComponent{name: name, component: component})
}

// Reload validates cfg and applies it. An invalid config leaves every
// component untouched. Application stops at the first component error.
func (r *Reloader) Reload(cfg *Config) error {
	if r == nil {
		return fmt.Errorf("reloader not configured")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.components {
		if err := c.component.Apply(cfg); err != nil {
			return fmt.Errorf("apply config to %s: %w", c.name, err)
		}
	}
	r.current = cfg
	setConfig(cfg)
	return nil
}

// ApplyAll applies the current config to every component without validating again.
func (r *Reloader) ApplyAll() error {
	if r == nil {
		return fmt.Errorf("reloader not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return fmt.Errorf("no config loaded")
	}
	for _, c := range r.components {
		if err := c.component.Apply(r.current); err != nil {
			return fmt.Errorf("apply config to %s: %w", c.name, err)
		}
	}
	return nil
}

// Current returns the last successfully applied config.
func (r *Reloader) Current() *Config {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
