package tasks

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotRegistered is returned by Registry.Check (and therefore by dispatch)
// when a Signature names work the execution layer does not know about.
var ErrNotRegistered = errors.New("task name not registered")

// Registry tracks the task names known to the execution layer so that a bad
// callable reference fails at dispatch time instead of rotting in a queue.
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Add registers one or more task names.
func (r *Registry) Add(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		r.names[n] = struct{}{}
	}
}

// Check returns ErrNotRegistered (wrapped with the offending name) if name is
// unknown.
func (r *Registry) Check(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.names[name]; !ok {
		return fmt.Errorf("%q: %w", name, ErrNotRegistered)
	}
	return nil
}

// Names returns the registered names in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	return out
}
