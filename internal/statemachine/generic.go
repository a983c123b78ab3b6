package statemachine

import (
	"fmt"
	"sync"

	"github.com/nimbus-actors/nimbus/internal/actor"
)

// TransitionFunc computes the next state and emitted events for one event
// applied to the current state, or an error if the transition is illegal.
// This is the deterministic "per-actor transition function" spec.md's
// external state-machine collaborator supplies.
type TransitionFunc[S any, E any] func(current S, event E) (S, []actor.DomainEvent, error)

// Generic is a Machine built from a TransitionFunc plus an initial state,
// keeping a bounded transition history in the style of
// review.ReviewFSM.Transitions. It is the default Machine implementation
// used by tests and simple machine-driven behaviours; production
// behaviours may supply any other Machine implementation.
type Generic[S any, E any] struct {
	mu sync.RWMutex

	state   S
	fn      TransitionFunc[S, E]
	emitted []actor.DomainEvent

	history    []Transition[S, E]
	maxHistory int
}

// NewGeneric constructs a Generic machine seeded with initial and driven by
// fn. maxHistory bounds the kept Transition history (0 disables history
// tracking).
func NewGeneric[S any, E any](initial S, fn TransitionFunc[S, E], maxHistory int) *Generic[S, E] {
	return &Generic[S, E]{state: initial, fn: fn, maxHistory: maxHistory}
}

// Snapshot returns the current state.
func (g *Generic[S, E]) Snapshot() S {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// ProcessEvent applies event via the configured TransitionFunc.
func (g *Generic[S, E]) ProcessEvent(event E) (S, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	from := g.state
	next, emitted, err := g.fn(from, event)
	if err != nil {
		var zero S
		return zero, fmt.Errorf("statemachine: illegal transition: %w", err)
	}

	g.state = next
	g.emitted = emitted

	if g.maxHistory > 0 {
		g.history = append(g.history, Transition[S, E]{From: from, Event: event, To: next})
		if len(g.history) > g.maxHistory {
			g.history = g.history[len(g.history)-g.maxHistory:]
		}
	}

	return next, nil
}

// Emitted returns the events produced by the most recent successful
// ProcessEvent.
func (g *Generic[S, E]) Emitted() []actor.DomainEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.emitted
}

// History returns a copy of the kept transition history, oldest first.
func (g *Generic[S, E]) History() []Transition[S, E] {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Transition[S, E], len(g.history))
	copy(out, g.history)
	return out
}

var _ Machine[any, any] = (*Generic[any, any])(nil)
