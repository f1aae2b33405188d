// control/hotreload.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reload hooks for configuration changes. TriggerSync exists for
// deterministic tests.

package control

import "sync"

// Reloader fans a new configuration out to registered hooks.
type Reloader struct {
	mu    sync.RWMutex
	hooks []func(*Config)
}

// NewReloader creates an empty hook list.
func NewReloader() *Reloader { return &Reloader{} }

// Register adds a component reload listener.
func (r *Reloader) Register(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

func (r *Reloader) snapshot() []func(*Config) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append(([]func(*Config))(nil), r.hooks...)
}

// Trigger dispatches cfg to all hooks asynchronously.
func (r *Reloader) Trigger(cfg *Config) {
	for _, fn := range r.snapshot() {
		go fn(cfg)
	}
}

// TriggerSync invokes all hooks in registration order.
func (r *Reloader) TriggerSync(cfg *Config) {
	for _, fn := range r.snapshot() {
		fn(cfg)
	}
}
