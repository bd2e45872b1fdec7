// Package registry hands out one mutex per mailing-list address. Every
// read-modify-write of a list's records happens while holding its lock.
package registry

import (
	"sync"

	"github.io/infrasutra/quickml/internal/message"
)

type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New() *Registry {
	return &Registry{locks: make(map[string]*sync.Mutex)}
}

// Mutex returns the lock for address, creating it on first reference.
// Locks are never removed.
func (r *Registry) Mutex(address string) *sync.Mutex {
	key := message.NormalizeAddress(address)
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

// Lock acquires the lock for address and returns its release function.
func (r *Registry) Lock(address string) func() {
	lock := r.Mutex(address)
	lock.Lock()
	return lock.Unlock
}

// With runs fn while holding the lock for address.
func (r *Registry) With(address string, fn func() error) error {
	unlock := r.Lock(address)
	defer unlock()
	return fn()
}

// Len reports how many addresses have been referenced.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
