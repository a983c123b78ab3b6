// Package transport implements spec.md §4.14's three opaque envelope
// carriers (local, worker, remote). Transports never interpret an
// envelope's payload; they only serialise/deserialise it and move it
// between a sender and the directory-resolved location of the receiver,
// exactly as spec.md §1 describes transports as "opaque carriers of
// serialised envelopes".
package transport

import (
	"context"

	"github.com/btcsuite/btclog/v2"

	"github.com/nimbus-actors/nimbus/internal/actor"
)

var log btclog.Logger = btclog.Disabled

// UseLogger sets the subsystem logger used by the transport package.
func UseLogger(logger btclog.Logger) { log = logger }

// InboundEnvelope pairs a materialised Envelope with the address it was
// addressed to, as delivered by a Transport's Receive channel.
type InboundEnvelope struct {
	To  actor.Address
	Env actor.Envelope
}

// Transport is an opaque carrier of serialised envelopes between
// directory-resolved locations. Send must validate the envelope with
// actor.ValidateForTransport before handing it to the wire, per spec.md
// §4.1: "Validation is applied at send ingress and again when
// materialising from any transport."
type Transport interface {
	// Send delivers env to addr over this carrier.
	Send(ctx context.Context, addr actor.Address, env actor.Envelope) error

	// Receive yields envelopes arriving over this carrier, addressed to
	// a locally-hosted actor. The channel is closed when the transport
	// is closed.
	Receive() <-chan InboundEnvelope

	// Close releases the transport's resources. Safe to call more than
	// once.
	Close() error
}

// Name identifiers match the Location.Transport values the directory (C8)
// stores alongside a resolved address.
const (
	NameLocal  = "local"
	NameWorker = "worker"
	NameRemote = "remote"
)
