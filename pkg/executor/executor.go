package executor

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Executor performs the side effect of an approved action. Implementations
// must honor ctx cancellation and should use idempotencyKey to make the
// downstream effect safe to repeat.
type Executor interface {
	Execute(ctx context.Context, params map[string]any, idempotencyKey string) error
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, params map[string]any, idempotencyKey string) error

// Execute calls f.
func (f Func) Execute(ctx context.Context, params map[string]any, idempotencyKey string) error {
	return f(ctx, params, idempotencyKey)
}

// Registry maps action types to executors. It is built at startup and
// frozen before the first dispatch; reads after Freeze take no write lock.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	frozen    bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor for actionType.
func (r *Registry) Register(actionType string, e Executor) error {
	if actionType == "" {
		return fmt.Errorf("action type is required")
	}
	if e == nil {
		return fmt.Errorf("executor for %q is nil", actionType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %q: %w", actionType, ErrRegistryFrozen)
	}
	if _, exists := r.executors[actionType]; exists {
		return fmt.Errorf("executor for %q already registered", actionType)
	}
	r.executors[actionType] = e
	return nil
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Get returns the executor for actionType.
func (r *Registry) Get(actionType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[actionType]
	return e, ok
}

// Has reports whether an executor is registered for actionType.
func (r *Registry) Has(actionType string) bool {
	_, ok := r.Get(actionType)
	return ok
}

// Types returns the registered action types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
