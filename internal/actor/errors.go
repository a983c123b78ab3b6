package actor

import "errors"

// Error taxonomy for the runtime. Caller-facing errors are returned directly
// from send/ask; actor-internal errors never surface to an unrelated
// sender: ErrHandlerFailure is routed to the supervisor chain, and
// ErrInterceptorFailure is isolated to the failing hook and logged.
var (
	// ErrInvalidAddress indicates an address URI failed to parse.
	ErrInvalidAddress = errors.New("actor: invalid address")

	// ErrInvalidEnvelope indicates an envelope failed validation at
	// ingress (send or materialisation from a transport). Invalid
	// envelopes are never enqueued.
	ErrInvalidEnvelope = errors.New("actor: invalid envelope")

	// ErrMailboxFull indicates a FAIL-policy mailbox rejected a send
	// because it was at capacity.
	ErrMailboxFull = errors.New("actor: mailbox full")

	// ErrMailboxStopped indicates a send was attempted against a mailbox
	// that has already been stopped.
	ErrMailboxStopped = errors.New("actor: mailbox stopped")

	// ErrNoSuchActor indicates a directory lookup miss for the requested
	// address.
	ErrNoSuchActor = errors.New("actor: no such actor")

	// ErrAskTimeout indicates a correlated reply was not received within
	// the configured deadline (after exhausting retries).
	ErrAskTimeout = errors.New("actor: ask timed out")

	// ErrActorStopped indicates the ask target stopped before a reply
	// arrived; all outstanding asks for the actor are rejected with this
	// error.
	ErrActorStopped = errors.New("actor: actor stopped")

	// ErrHandlerFailure wraps a panic/error raised from within onMessage.
	// It never leaves the actor; it is routed to the supervisor.
	ErrHandlerFailure = errors.New("actor: handler failure")

	// ErrInterceptorFailure wraps a panic/error raised from within an
	// interceptor hook. It is isolated to that hook and logged.
	ErrInterceptorFailure = errors.New("actor: interceptor failure")

	// ErrSupervisionEscalated indicates escalation reached the guardian
	// with no policy able to recover the failing subtree.
	ErrSupervisionEscalated = errors.New("actor: supervision escalated to guardian")

	// ErrInvalidMessagePlan indicates a handler returned a MessagePlan
	// shape the interpreter could not recognise (e.g. nested arrays).
	ErrInvalidMessagePlan = errors.New("actor: invalid message plan")

	// ErrSystemStopped indicates an operation was attempted after the
	// owning ActorSystem had already been stopped.
	ErrSystemStopped = errors.New("actor: system stopped")
)
