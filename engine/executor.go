package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nstoddard17/chainreact-core/circuitbreaker"
	"github.com/nstoddard17/chainreact-core/internal/nilcheck"
)

// ErrUnknownAction is returned when no handler is registered for a step's
// action type.
var ErrUnknownAction = errors.New("engine: unknown action type")

// ErrDuplicateHandler is returned when two handlers claim the same action type.
var ErrDuplicateHandler = errors.New("engine: duplicate action handler")

// ActionResult is the output of one action invocation. Output keys become
// addressable by downstream steps through step-output tokens.
type ActionResult struct {
	Output map[string]any
}

// ActionExecutor invokes one action on behalf of the engine. The config map
// arrives fully resolved; no tokens remain in it. Implementations own all
// provider I/O.
type ActionExecutor interface {
	Execute(ctx context.Context, actionType string, config map[string]any) (*ActionResult, error)
}

// ActionHandler implements a single action type. Handlers are registered at
// startup; an unregistered action type is a step failure, not a crash.
type ActionHandler interface {
	ActionType() string
	Execute(ctx context.Context, config map[string]any) (*ActionResult, error)
}

// HandlerRegistry maps action types to their handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]ActionHandler)}
}

// Register adds a handler under its declared action type.
func (r *HandlerRegistry) Register(handler ActionHandler) error {
	if nilcheck.Interface(handler) {
		return errors.New("engine: nil action handler")
	}

	actionType := handler.ActionType()
	if actionType == "" {
		return errors.New("engine: action handler declares empty action type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[actionType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, actionType)
	}

	r.handlers[actionType] = handler

	return nil
}

// Resolve returns the handler for actionType, if registered.
func (r *HandlerRegistry) Resolve(actionType string) (ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[actionType]

	return handler, ok
}

// ActionTypes returns the registered action types in sorted order.
func (r *HandlerRegistry) ActionTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for actionType := range r.handlers {
		types = append(types, actionType)
	}

	sort.Strings(types)

	return types
}

// RegistryExecutor adapts a HandlerRegistry to the ActionExecutor port.
// When a breaker registry is attached, every call is routed through a
// circuit breaker keyed by action type, so a failing provider integration
// trips independently of healthy ones.
type RegistryExecutor struct {
	handlers *HandlerRegistry
	breakers *circuitbreaker.Registry
}

// RegistryExecutorOption customizes a RegistryExecutor.
type RegistryExecutorOption func(*RegistryExecutor)

// WithBreakerRegistry routes each action call through the given breaker
// registry, one breaker per action type.
func WithBreakerRegistry(registry *circuitbreaker.Registry) RegistryExecutorOption {
	return func(e *RegistryExecutor) {
		e.breakers = registry
	}
}

// NewRegistryExecutor creates an executor backed by the given handlers.
func NewRegistryExecutor(handlers *HandlerRegistry, opts ...RegistryExecutorOption) *RegistryExecutor {
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}

	executor := &RegistryExecutor{handlers: handlers}

	for _, opt := range opts {
		if opt != nil {
			opt(executor)
		}
	}

	return executor
}

// Execute resolves the handler for actionType and invokes it, through the
// action type's circuit breaker when one is configured.
func (e *RegistryExecutor) Execute(ctx context.Context, actionType string, config map[string]any) (*ActionResult, error) {
	handler, ok := e.handlers.Resolve(actionType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, actionType)
	}

	if e.breakers == nil {
		return handler.Execute(ctx, config)
	}

	out, err := e.breakers.Execute(ctx, actionType, func(ctx context.Context) (any, error) {
		return handler.Execute(ctx, config)
	})
	if err != nil {
		return nil, err
	}

	if out == nil {
		return nil, nil
	}

	result, ok := out.(*ActionResult)
	if !ok {
		// A misconfigured breaker fallback can hand back anything; surface
		// it as a step failure instead of silently dropping the value.
		return nil, fmt.Errorf("action %s: fallback returned %T, want *ActionResult", actionType, out)
	}

	return result, nil
}

// HandlerFunc adapts a function to the ActionHandler interface.
type HandlerFunc struct {
	Type string
	Fn   func(ctx context.Context, config map[string]any) (*ActionResult, error)
}

// ActionType returns the handler's declared action type.
func (h HandlerFunc) ActionType() string { return h.Type }

// Execute invokes the wrapped function.
func (h HandlerFunc) Execute(ctx context.Context, config map[string]any) (*ActionResult, error) {
	return h.Fn(ctx, config)
}
