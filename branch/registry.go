package branch

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateBranch is returned when a branch id is already registered.
var ErrDuplicateBranch = errors.New("duplicate branch id")

// Registry collects finished branches keyed by id. It is safe for concurrent
// access; each id can be written once.
type Registry struct {
	mu       sync.RWMutex
	branches map[string]*Branch
	order    []string
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{branches: make(map[string]*Branch)}
}

// Add registers b under its id.
func (r *Registry) Add(b *Branch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.branches[b.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBranch, b.ID())
	}
	r.branches[b.ID()] = b
	r.order = append(r.order, b.ID())
	return nil
}

// Get returns the branch registered under id.
func (r *Registry) Get(id string) (*Branch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.branches[id]
	return b, ok
}

// Len returns the number of registered branches.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.branches)
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
