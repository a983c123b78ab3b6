package statemachine

import "github.com/nimbus-actors/nimbus/internal/actor"

// MachineBehavior adapts a Machine into an actor.Behavior: OnMessage
// decodes the incoming envelope into an event, drives the machine, and
// turns the resulting state and emitted events into a Plan. This is
// spec.md §4.4's "machine-driven" behaviour shape.
type MachineBehavior[S any, E any] struct {
	machine Machine[S, E]
	decode  Decoder[E]

	// OnIllegalTransition, if set, is called when decode or ProcessEvent
	// fails; it may return a Plan (e.g. an error response) instead of
	// letting the runtime treat the message as a handler failure. If
	// nil, a failed transition panics, which the actor's receive loop
	// catches and routes to the supervisor as ErrHandlerFailure.
	OnIllegalTransition func(env actor.Envelope, err error) actor.Plan
}

// NewMachineBehavior builds a MachineBehavior wrapping machine, using
// decode to turn inbound envelopes into machine events.
func NewMachineBehavior[S any, E any](machine Machine[S, E], decode Decoder[E]) *MachineBehavior[S, E] {
	return &MachineBehavior[S, E]{machine: machine, decode: decode}
}

// InitialContext returns the machine's starting snapshot. The actor's
// context thereafter tracks the machine's state by mirroring it after each
// transition.
func (b *MachineBehavior[S, E]) InitialContext() any {
	return b.machine.Snapshot()
}

// OnMessage decodes msg, drives the machine, and emits the new state plus
// any emitted domain events as a combined Plan.
func (b *MachineBehavior[S, E]) OnMessage(call actor.MessageCall) actor.Plan {
	event, err := b.decode(call.Msg)
	if err != nil {
		if b.OnIllegalTransition != nil {
			return b.OnIllegalTransition(call.Msg, err)
		}
		panic(err)
	}

	next, err := b.machine.ProcessEvent(event)
	if err != nil {
		if b.OnIllegalTransition != nil {
			return b.OnIllegalTransition(call.Msg, err)
		}
		panic(err)
	}

	plans := []actor.Plan{actor.NewContextPlan(next)}
	if emitted := b.machine.Emitted(); len(emitted) > 0 {
		plans = append(plans, actor.EmitPlan(emitted...))
	}
	return actor.Combine(plans...)
}

// Machine returns the wrapped Machine, for tests and introspection.
func (b *MachineBehavior[S, E]) Machine() Machine[S, E] { return b.machine }

var _ actor.Behavior = (*MachineBehavior[any, any])(nil)
