package session

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// Registry maps keys to live, listen-attached subscriptions.
//
// Every operation is individually atomic under one mutex. Critical
// sections are map operations only. The Registry is an explicit value
// owned by a Manager, never package state.
type Registry struct {
	mu   sync.Mutex
	subs map[Key]*Subscription
	seq  atomic.Int64
}

// NewRegistry creates an empty registry whose first key is 1.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[Key]*Subscription)}
}

// Allocate returns the next unused key. Safe for concurrent use.
func (r *Registry) Allocate() Key {
	return Key(r.seq.Add(1))
}

// Insert registers sub under key. It fails only when key is present.
func (r *Registry) Insert(key Key, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[key]; ok {
		return fmt.Errorf("insert %d: %w", key, ErrDuplicateKey)
	}
	r.subs[key] = sub
	return nil
}

// Remove deletes key and transfers ownership of its subscription to the
// caller. Removing an absent key returns (nil, false).
func (r *Registry) Remove(key Key) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[key]
	if ok {
		delete(r.subs, key)
	}
	return sub, ok
}

// Get returns the subscription for key without removing it.
func (r *Registry) Get(key Key) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[key]
	return sub, ok
}

// Contains reports whether key is registered.
func (r *Registry) Contains(key Key) bool {
	_, ok := r.Get(key)
	return ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Keys returns registered keys in ascending order.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.subs))
	for k := range r.subs {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	slices.Sort(keys)
	return keys
}
