package actorutil

import (
	"context"
	"sync/atomic"

	nimbusactor "github.com/nimbus-actors/nimbus/internal/actor"
)

// Router distributes messages across a fixed set of addresses using
// round-robin scheduling. It delegates actual delivery to an
// Asker/Teller (normally an ActorSystem), so it owns no actor lifecycle
// itself — spawning and stopping the pooled actors remains the caller's
// responsibility via the system, matching the guardian's exclusive
// ownership of actor lifetime.
type Router struct {
	id      string
	targets []nimbusactor.Address
	next    atomic.Uint64
	system  interface {
		nimbusactor.Asker
		nimbusactor.Teller
	}
}

// NewRouter builds a round-robin Router over targets, using system for
// delivery.
func NewRouter(id string, targets []nimbusactor.Address, system interface {
	nimbusactor.Asker
	nimbusactor.Teller
}) *Router {
	return &Router{id: id, targets: targets, system: system}
}

// ID returns the router's identifier.
func (r *Router) ID() string { return r.id }

// Size returns the number of pooled targets.
func (r *Router) Size() int { return len(r.targets) }

// Targets returns a copy of the pooled addresses.
func (r *Router) Targets() []nimbusactor.Address {
	out := make([]nimbusactor.Address, len(r.targets))
	copy(out, r.targets)
	return out
}

func (r *Router) next_() nimbusactor.Address {
	idx := r.next.Add(1) % uint64(len(r.targets))
	return r.targets[idx]
}

// Tell sends msg to the next target in round-robin order.
func (r *Router) Tell(ctx context.Context, msg nimbusactor.Envelope) error {
	return r.system.Tell(ctx, r.next_(), msg)
}

// Ask sends msg to the next target in round-robin order and returns its
// reply Future.
func (r *Router) Ask(ctx context.Context, msg nimbusactor.Envelope, opts nimbusactor.AskOptions) nimbusactor.Future[nimbusactor.Envelope] {
	return r.system.Ask(ctx, r.next_(), msg, opts)
}

// Broadcast sends msg to every target in the pool, fire-and-forget,
// collecting per-target errors in order.
func (r *Router) Broadcast(ctx context.Context, msg nimbusactor.Envelope) []error {
	errs := make([]error, len(r.targets))
	for i, t := range r.targets {
		errs[i] = r.system.Tell(ctx, t, msg)
	}
	return errs
}

// BroadcastAsk sends msg to every target and returns one Future per
// target, in order.
func (r *Router) BroadcastAsk(ctx context.Context, msg nimbusactor.Envelope, opts nimbusactor.AskOptions) []nimbusactor.Future[nimbusactor.Envelope] {
	futures := make([]nimbusactor.Future[nimbusactor.Envelope], len(r.targets))
	for i, t := range r.targets {
		futures[i] = r.system.Ask(ctx, t, msg, opts)
	}
	return futures
}
