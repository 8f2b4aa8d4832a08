// Package action defines the executor surface: handlers keyed by action
// type, resolved through a registry. The engine never knows what a handler
// does; it only sees Success or Failure with a reason.
package action

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vaultship/greenlight/internal/task"
)

// Result is the outcome of executing a handler.
type Result struct {
	Success bool
	Reason  string
	Output  string
}

// Success is the canonical successful result.
func Success(output string) Result {
	return Result{Success: true, Output: output}
}

// Failure builds a failed result with a human-readable reason.
func Failure(reason string) Result {
	return Result{Reason: reason}
}

// Handler executes one action type against a full task document. Handlers
// must be side-effect free on the vault: the document is owned by the
// worker, and only the worker mutates it based on the result.
type Handler interface {
	Execute(ctx context.Context, doc *task.Document) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, doc *task.Document) Result

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, doc *task.Document) Result {
	return f(ctx, doc)
}

// Config represents handler-specific configuration (opaque to the worker).
type Config map[string]any

// Factory constructs a handler with the provided configuration.
type Factory func(Config) (Handler, error)

// Registry maintains known handler factories keyed by action type.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs a handler factory. Returns an error if the action type
// is already taken.
func (r *Registry) Register(actionType string, factory Factory) error {
	if actionType == "" {
		return fmt.Errorf("action: action type is required")
	}
	if factory == nil {
		return fmt.Errorf("action: factory is required for %s", actionType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[actionType]; exists {
		return fmt.Errorf("action: %s already registered", actionType)
	}
	r.factories[actionType] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(actionType string, factory Factory) {
	if err := r.Register(actionType, factory); err != nil {
		panic(err)
	}
}

// Resolve constructs a handler for an action type.
func (r *Registry) Resolve(actionType string, cfg Config) (Handler, error) {
	r.mu.RLock()
	factory, ok := r.factories[actionType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("action: no handler for action type %s", actionType)
	}
	return factory(cfg)
}

// Types returns the registered action types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for actionType := range r.factories {
		types = append(types, actionType)
	}
	sort.Strings(types)
	return types
}
