package transport

import (
	"context"
	"sync"

	"github.com/nimbus-actors/nimbus/internal/actor"
)

// Local is the default, no-network carrier: it hands validated envelopes
// straight to an in-process Teller (the guardian's System.Tell), per
// spec.md §4.14's "local: in-process direct dispatch into the target
// actor's mailbox via the directory". It never produces inbound deliveries
// of its own — locally addressed sends are already handled synchronously
// by Send — so Receive yields a channel that is immediately closed.
type Local struct {
	teller actor.Teller

	closeOnce sync.Once
	closed    chan InboundEnvelope
}

// NewLocal constructs a Local transport delegating to teller (typically
// the owning ActorSystem).
func NewLocal(teller actor.Teller) *Local {
	ch := make(chan InboundEnvelope)
	close(ch)
	return &Local{teller: teller, closed: ch}
}

// Send implements Transport.
func (l *Local) Send(ctx context.Context, addr actor.Address, env actor.Envelope) error {
	if err := actor.ValidateForTransport(env); err != nil {
		return err
	}
	return l.teller.Tell(ctx, addr, env)
}

// Receive implements Transport. Local delivery happens synchronously
// inside Send, so this channel never yields anything; it exists only to
// satisfy the Transport interface uniformly across carriers.
func (l *Local) Receive() <-chan InboundEnvelope { return l.closed }

// Close implements Transport. A no-op: Local holds no resources of its
// own beyond the Teller it was constructed with.
func (l *Local) Close() error { return nil }

var _ Transport = (*Local)(nil)
