// Package echoactor implements a minimal built-in behaviour used for
// operational smoke-testing: it replies to every PING with a PONG
// carrying the same payload back, and stamps an echo count into its
// context. It exists so the admin surface's spawn_actor tool and the
// daemon's own startup self-test have something harmless to spawn.
package echoactor

import "github.com/nimbus-actors/nimbus/internal/actor"

type state struct {
	count int
}

// Behavior is the echoactor behaviour. It is stateless to construct and
// safe to spawn under any number of addresses.
type Behavior struct{}

// New returns a fresh echoactor Behavior instance.
func New() actor.Behavior { return Behavior{} }

func (Behavior) InitialContext() any { return &state{} }

func (Behavior) OnMessage(call actor.MessageCall) actor.Plan {
	st, _ := call.Context.(*state)
	if st == nil {
		st = &state{}
	}
	st.count++

	if call.Msg.Type != "PING" {
		return actor.NewContextPlan(st)
	}

	reply := actor.NewEnvelope("PONG", map[string]any{
		"echo":  call.Msg.Fields,
		"count": st.count,
	})

	return actor.Combine(
		actor.NewContextPlan(st),
		actor.ResponsePlan(reply),
	)
}
