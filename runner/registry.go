package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc is a type-erased in-process handler. params is the job's raw
// JSON parameters. Files written under exec.Workdir() can be declared as
// outputs.
type HandlerFunc func(ctx context.Context, exec *Execution, params []byte) error

// Registry maps handler names to functions. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Register registers a typed handler. The params are JSON-decoded into T
// before fn is called; a decode failure is returned as the handler error.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Register[T any](r *Registry, name string, fn func(ctx context.Context, exec *Execution, params T) error) {
	r.Register(name, func(ctx context.Context, exec *Execution, params []byte) error {
		var t T
		if len(params) > 0 {
			if err := json.Unmarshal(params, &t); err != nil {
				return fmt.Errorf("decode params for handler %q: %w", name, err)
			}
		}
		return fn(ctx, exec, t)
	})
}

// Get returns the handler for name.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Has reports whether a handler is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns all registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
