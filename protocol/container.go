// File: protocol/container.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"sort"
	"sync"

	"github.com/momentics/hioload-pkt/api"
)

const (
	// DefaultRegistryID is the id of every container's default registry.
	DefaultRegistryID int32 = 0
	// DefaultRegistryName is the name of every container's default registry.
	DefaultRegistryName = "default"
)

// Container owns the default registry and, when it supports multiple
// registries, further namespaces keyed by container-assigned ids.
type Container interface {
	// Default returns the registry with id 0.
	Default() *Registry
	// MultiRegistry reports whether frames carry a registry id.
	MultiRegistry() bool
	// Registry resolves a registry id.
	Registry(id int32) (*Registry, bool)
	// RegistryByName resolves a registry name.
	RegistryByName(name string) (*Registry, bool)
	// AddRegistry adopts r under the lowest free non-negative id.
	AddRegistry(r *Registry) (int32, error)
	// NewRegistry creates and adopts a named registry.
	NewRegistry(name string) (*Registry, error)
	// SetRegistryID moves an adopted registry to id.
	SetRegistryID(r *Registry, id int32) error
	// Registries lists adopted registries ordered by id.
	Registries() []*Registry
}

// MultiContainer supports any number of registries.
type MultiContainer struct {
	mu     sync.RWMutex
	def    *Registry
	byID   map[int32]*Registry
	byName map[string]*Registry
}

// NewMultiContainer returns a container holding only the default registry.
func NewMultiContainer() *MultiContainer {
	def := NewRegistry(DefaultRegistryName)
	def.id.Store(DefaultRegistryID)
	return &MultiContainer{
		def:    def,
		byID:   map[int32]*Registry{DefaultRegistryID: def},
		byName: map[string]*Registry{DefaultRegistryName: def},
	}
}

func (c *MultiContainer) Default() *Registry  { return c.def }
func (c *MultiContainer) MultiRegistry() bool { return true }

func (c *MultiContainer) Registry(id int32) (*Registry, bool) {
	c.mu.RLock()
	r, ok := c.byID[id]
	c.mu.RUnlock()
	return r, ok
}

func (c *MultiContainer) RegistryByName(name string) (*Registry, bool) {
	c.mu.RLock()
	r, ok := c.byName[name]
	c.mu.RUnlock()
	return r, ok
}

func (c *MultiContainer) AddRegistry(r *Registry) (int32, error) {
	if r == nil {
		return -1, api.NewError(api.ErrCodeInvalidArgument, "nil registry")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.byName[r.name]; ok {
		if cur == r {
			return r.ID(), nil
		}
		return -1, api.NewError(api.ErrCodeAlreadyExists, "registry name in use").
			WithContext("name", r.name)
	}
	var id int32
	for {
		if _, used := c.byID[id]; !used {
			break
		}
		id++
	}
	r.id.Store(id)
	c.byID[id] = r
	c.byName[r.name] = r
	return id, nil
}

func (c *MultiContainer) NewRegistry(name string) (*Registry, error) {
	r := NewRegistry(name)
	if _, err := c.AddRegistry(r); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *MultiContainer) SetRegistryID(r *Registry, id int32) error {
	if r == nil || id < 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "invalid registry id").
			WithContext("id", id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.byName[r.name]; !ok || cur != r {
		return api.NewError(api.ErrCodeNotFound, "registry not in container").
			WithContext("name", r.name)
	}
	if r == c.def {
		if id == DefaultRegistryID {
			return nil
		}
		return api.NewError(api.ErrCodeInvalidArgument, "default registry id is fixed")
	}
	if other, ok := c.byID[id]; ok && other != r {
		return api.NewError(api.ErrCodeAlreadyExists, "registry id in use").
			WithContext("id", id).
			WithContext("name", other.name)
	}
	delete(c.byID, r.ID())
	r.id.Store(id)
	c.byID[id] = r
	return nil
}

func (c *MultiContainer) Registries() []*Registry {
	c.mu.RLock()
	out := make([]*Registry, 0, len(c.byID))
	for _, r := range c.byID {
		out = append(out, r)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// SingleContainer has exactly one registry; frames never carry a
// registry id and every lookup answers with the default registry.
type SingleContainer struct {
	def *Registry
}

// NewSingleContainer returns a single-registry container.
func NewSingleContainer() *SingleContainer {
	def := NewRegistry(DefaultRegistryName)
	def.id.Store(DefaultRegistryID)
	return &SingleContainer{def: def}
}

func (c *SingleContainer) Default() *Registry                     { return c.def }
func (c *SingleContainer) MultiRegistry() bool                    { return false }
func (c *SingleContainer) Registry(int32) (*Registry, bool)       { return c.def, true }
func (c *SingleContainer) RegistryByName(string) (*Registry, bool) { return c.def, true }
func (c *SingleContainer) Registries() []*Registry                { return []*Registry{c.def} }

func (c *SingleContainer) AddRegistry(*Registry) (int32, error) {
	return -1, unsupported("AddRegistry")
}

func (c *SingleContainer) NewRegistry(string) (*Registry, error) {
	return nil, unsupported("NewRegistry")
}

func (c *SingleContainer) SetRegistryID(*Registry, int32) error {
	return unsupported("SetRegistryID")
}

func unsupported(op string) error {
	return api.NewError(api.ErrCodeNotSupported, "single-registry container").
		WithContext("op", op)
}
