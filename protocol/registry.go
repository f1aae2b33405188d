// File: protocol/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry maps numeric type ids to packet holders within one namespace.
// Its own id is assigned by the owning Container.
type Registry struct {
	id   atomic.Int32
	name string

	mu       sync.RWMutex
	byID     map[int32]*Holder
	typeID   map[reflect.Type]int32
	holderID map[*Holder]int32
}

// NewRegistry returns an empty registry. Its id stays -1 until a
// container adopts it.
func NewRegistry(name string) *Registry {
	r := &Registry{
		name:     name,
		byID:     make(map[int32]*Holder),
		typeID:   make(map[reflect.Type]int32),
		holderID: make(map[*Holder]int32),
	}
	r.id.Store(-1)
	return r
}

func (r *Registry) ID() int32    { return r.id.Load() }
func (r *Registry) Name() string { return r.name }

// Register binds h to id. An id that is already bound is replaced in all
// three directions: the old holder no longer resolves by id, by type or
// by holder.
func (r *Registry) Register(h *Holder, id int32) error {
	if h == nil || h.New == nil || h.Type == nil {
		return fmt.Errorf("%w: registry %q id %d", ErrInvalidHolder, r.name, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byID[id]; ok {
		r.unbindLocked(id, old)
	}
	if prev, ok := r.holderID[h]; ok {
		r.unbindLocked(prev, h)
	}
	r.byID[id] = h
	r.typeID[h.Type] = id
	r.holderID[h] = id
	return nil
}

func (r *Registry) unbindLocked(id int32, h *Holder) {
	delete(r.byID, id)
	delete(r.holderID, h)
	if cur, ok := r.typeID[h.Type]; ok && cur == id {
		delete(r.typeID, h.Type)
	}
}

// Unregister removes the binding at id.
func (r *Registry) Unregister(id int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[id]
	if ok {
		r.unbindLocked(id, h)
	}
	return ok
}

// Holder resolves a type id.
func (r *Registry) Holder(id int32) (*Holder, bool) {
	r.mu.RLock()
	h, ok := r.byID[id]
	r.mu.RUnlock()
	return h, ok
}

// IDOf resolves the type id of a packet instance.
func (r *Registry) IDOf(p Packet) (int32, bool) {
	return r.IDOfType(TypeOf(p))
}

// IDOfType resolves the type id of a packet type.
func (r *Registry) IDOfType(t reflect.Type) (int32, bool) {
	r.mu.RLock()
	id, ok := r.typeID[t]
	r.mu.RUnlock()
	return id, ok
}

// HolderID resolves the id a holder is bound to.
func (r *Registry) HolderID(h *Holder) (int32, bool) {
	r.mu.RLock()
	id, ok := r.holderID[h]
	r.mu.RUnlock()
	return id, ok
}

// Len returns the number of bound ids.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// IDs returns the bound ids in ascending order.
func (r *Registry) IDs() []int32 {
	r.mu.RLock()
	ids := make([]int32, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) String() string {
	return fmt.Sprintf("Registry(%d, %q, %d types)", r.ID(), r.name, r.Len())
}
