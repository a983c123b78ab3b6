// Package statemachine defines the contract a machine-driven actor
// behaviour delegates to. The runtime never implements a concrete state
// machine itself; it only depends on this interface, mirroring the
// review/thread FSMs the teacher's actors wrap around.
package statemachine

import "github.com/nimbus-actors/nimbus/internal/actor"

// Machine is a deterministic per-actor transition function. S is the
// snapshot type returned by Snapshot and held as the actor's context; E is
// the event type ProcessEvent consumes.
type Machine[S any, E any] interface {
	// Snapshot returns the machine's current state.
	Snapshot() S

	// ProcessEvent applies event to the machine, returning the resulting
	// state. An error indicates the event was not a legal transition from
	// the current state; the machine's state is unchanged in that case.
	ProcessEvent(event E) (S, error)

	// Emitted returns the domain events produced by the most recent
	// successful ProcessEvent call, in emission order. It is replaced by
	// the next successful call to ProcessEvent.
	Emitted() []actor.DomainEvent
}

// Transition records one state change, matching the history slices the
// teacher's FSMs keep for debugging/UI purposes.
type Transition[S any, E any] struct {
	From  S
	Event E
	To    S
}

// Decoder turns an inbound envelope into the event type a Machine
// understands. A machine-driven behaviour's OnMessage uses a Decoder to
// bridge the wire-level Envelope to Machine.ProcessEvent.
type Decoder[E any] func(env actor.Envelope) (E, error)
