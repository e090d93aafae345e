package kernel

import (
	"fmt"
)

// Handler is a pure state transition for one event type.
//
// Handlers MUST be pure: no I/O, no wall-clock reads, no randomness, no
// process state, no mutation of inputs. They receive the current state and
// the event, and return the aggregates for the next state. Version
// accounting is owned by Registry.Apply, so a handler's returned state
// carries whatever aggregate changes it made and nothing else matters.
type Handler func(state State, event Event) (State, error)

// Registry maps event type strings to handlers. It is a plain value passed
// explicitly to the replay runner - no global registry exists.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register binds a handler to an event type. Registering the same type
// twice is a programming error.
func (r *Registry) Register(eventType string, h Handler) error {
	if eventType == "" {
		return fmt.Errorf("register: empty event type")
	}
	if h == nil {
		return fmt.Errorf("register %q: nil handler", eventType)
	}
	if _, dup := r.handlers[eventType]; dup {
		return fmt.Errorf("register %q: handler already registered", eventType)
	}
	r.handlers[eventType] = h
	return nil
}

// MustRegister is like Register but panics on error. Use during registry
// construction where a duplicate is always a bug.
func (r *Registry) MustRegister(eventType string, h Handler) {
	if err := r.Register(eventType, h); err != nil {
		panic(err)
	}
}

// Types returns the registered event types in canonical order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	// Canonical order so diagnostics are stable.
	for i := 1; i < len(types); i++ {
		for j := i; j > 0 && types[j] < types[j-1]; j-- {
			types[j], types[j-1] = types[j-1], types[j]
		}
	}
	return types
}

// Apply folds one event into the state.
//
// An unknown event type is a no-op that still bumps the version, so logs
// written by newer engines replay on older registries without divergence in
// version accounting. A malformed event is fatal; Apply never attempts
// recovery.
//
// After Apply, the returned state's version is exactly state.Version()+1.
func (r *Registry) Apply(state State, event Event) (State, error) {
	if err := event.Validate(); err != nil {
		return State{}, fmt.Errorf("reducer: %w", err)
	}
	h, ok := r.handlers[event.Type]
	if !ok {
		return state.bumpVersion(), nil
	}
	next, err := h(state, event)
	if err != nil {
		return State{}, fmt.Errorf("reducer %q at seq %d: %w", event.Type, event.Seq, err)
	}
	// Version accounting is centralized here; handlers only shape aggregates.
	next.version = state.version
	return next.bumpVersion(), nil
}
