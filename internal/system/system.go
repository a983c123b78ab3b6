// Package system implements spec.md's component C10: the guardian/actor
// system that wires together the mailbox/behavior runtime (internal/actor),
// the interceptor pipeline, the directory, the timer, and the supervisor
// into one location-transparent runtime, in the style of the teacher's
// internal/baselib/actor.ActorSystem.
package system

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btclog/v2"

	"github.com/nimbus-actors/nimbus/internal/actor"
	"github.com/nimbus-actors/nimbus/internal/directory"
	"github.com/nimbus-actors/nimbus/internal/supervisor"
	"github.com/nimbus-actors/nimbus/internal/timer"
)

var log btclog.Logger = btclog.Disabled

// UseLogger sets the subsystem logger used by the system package.
func UseLogger(logger btclog.Logger) { log = logger }

// Lifecycle system-event types, delivered on the guardian's event bus.
const (
	EventStarted        = "SYSTEM_STARTED"
	EventStopping       = "SYSTEM_STOPPING"
	EventStopped        = "SYSTEM_STOPPED"
	EventActorSpawned   = "ACTOR_SPAWNED"
	EventActorStopping  = "ACTOR_STOPPING"
	EventActorStopped   = "ACTOR_STOPPED"
	EventActorRestarted = "ACTOR_RESTARTED"
	EventActorFailed    = "ACTOR_FAILED"
	EventActorEscalated = "ACTOR_ESCALATED"
)

// Config bundles the parameters needed to construct a System.
type Config struct {
	// Node is this process's node name, recorded as the directory
	// location of every actor the system spawns and used in the system's
	// own asker address. Spawn does not rewrite the caller's address.
	Node string

	Directory directory.Config
	TimerMode timer.Mode
	Backoff   supervisor.BackoffPolicy

	DefaultMailboxCapacity int
	DefaultOverflowPolicy  actor.OverflowPolicy

	AskOptions   actor.AskOptions
	CleanupDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Node == "" {
		c.Node = "local"
	}
	if c.DefaultMailboxCapacity <= 0 {
		c.DefaultMailboxCapacity = 64
	}
	if c.AskOptions.Timeout <= 0 {
		c.AskOptions = actor.DefaultAskOptions()
	}
	if c.CleanupDelay <= 0 {
		c.CleanupDelay = 5 * time.Second
	}
	return c
}

// System is the guardian: spec.md's C10. It owns every locally-hosted
// actor, the shared interceptor registry, the directory, the timer, and
// the supervisor, and implements actor.Deps/actor.Asker/actor.Teller so
// that behaviors can depend on it directly.
type System struct {
	cfg Config

	registry *actor.Registry
	dir      *directory.Directory
	tm       *timer.Timer
	sup      *supervisor.Supervisor
	events   *actor.EventBus
	asks     *actor.AskTable

	mu     sync.RWMutex
	actors map[string]*actor.Actor

	wg      sync.WaitGroup
	stopped atomic.Bool
}

// New constructs and starts a System. The returned System is immediately
// usable for Spawn/Tell/Ask.
func New(cfg Config) *System {
	cfg = cfg.withDefaults()

	s := &System{
		cfg:      cfg,
		registry: actor.NewRegistry(),
		dir:      directory.New(cfg.Directory),
		sup:      supervisor.New(cfg.Backoff),
		events:   actor.NewEventBus(),
		asks:     actor.NewAskTable(),
		actors:   make(map[string]*actor.Actor),
	}
	s.tm = timer.New(cfg.TimerMode, s)

	s.emit(actor.NewDomainEvent(EventStarted, map[string]any{"node": cfg.Node}))
	return s
}

func (s *System) emit(ev actor.DomainEvent) {
	s.events.Emit(context.Background(), ev)
}

// Registry exposes the shared interceptor registry so callers can register
// global or actor-scoped interceptors before or after spawning actors.
func (s *System) Registry() *actor.Registry { return s.registry }

// Directory exposes the location directory.
func (s *System) Directory() *directory.Directory { return s.dir }

// Timer exposes the scheduling component.
func (s *System) Timer() *timer.Timer { return s.tm }

// Events returns the guardian's lifecycle event bus. Subscribers observe
// every ACTOR_*/SYSTEM_* event emitted after they subscribe; SYSTEM_STARTED
// is emitted inside New, before any subscriber can attach.
func (s *System) Events() *actor.EventBus { return s.events }

// Now implements actor.Deps, returning the timer's notion of current time
// in Unix milliseconds.
func (s *System) Now() int64 { return s.tm.Now().UnixMilli() }

// Spawn creates, registers, and starts a new actor hosting behavior at
// addr. It registers the actor's location with the directory and emits an
// ACTOR_SPAWNED system event.
func (s *System) Spawn(addr actor.Address, behavior actor.Behavior) (*actor.Actor, error) {
	if s.stopped.Load() {
		return nil, actor.ErrSystemStopped
	}

	key := addr.Path()

	s.mu.Lock()
	if _, exists := s.actors[key]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("system: actor %s already spawned", key)
	}
	s.mu.Unlock()

	var inst *actor.Actor
	onFailure := func(failed actor.Address, err error) {
		s.handleFailure(inst, err)
	}

	inst = actor.NewActor(actor.Config{
		Addr:         addr,
		Behavior:     behavior,
		Registry:     s.registry,
		Deps:         s,
		AskOptions:   s.cfg.AskOptions,
		OnFailure:    onFailure,
		DLO:          s.deadLetter,
		WaitGroup:    &s.wg,
		CleanupDelay: s.cfg.CleanupDelay,
	})

	s.mu.Lock()
	s.actors[key] = inst
	s.mu.Unlock()

	if err := s.dir.Register(context.Background(), addr, directory.Location{Node: s.cfg.Node, Transport: "local"}); err != nil {
		log.WarnS(context.Background(), "system: failed to register spawned actor", err, "actor", key)
	}

	inst.Start()

	s.emit(actor.NewDomainEvent(EventActorSpawned, map[string]any{"address": key}))
	return inst, nil
}

// deadLetter is the default dead-letter-office sink: it logs the
// undeliverable envelope. Behaviors never see this; it is reached only
// when an actor is stopped while messages remain queued.
func (s *System) deadLetter(env actor.Envelope) {
	log.WarnS(context.Background(), "system: dead letter", nil, "type", env.Type)
}

// handleFailure is the OnFailure callback wired into every spawned actor.
// It asks the supervisor for a directive and carries out the corresponding
// lifecycle action.
func (s *System) handleFailure(inst *actor.Actor, err error) {
	addr := inst.Address()
	policy := inst.SupervisionPolicy()
	handler, _ := inst.Behavior().(supervisor.FailureHandler)

	outcome := s.sup.Decide(s.tm.Now(), addr, err, policy, handler)

	switch outcome.Directive {
	case actor.DirectiveRestart:
		s.emit(actor.NewDomainEvent(EventActorFailed, map[string]any{
			"address": addr.Path(), "error": err.Error(), "attempt": outcome.Attempt,
		}))
		s.restart(inst, outcome.Delay)

	case actor.DirectiveStop:
		s.emit(actor.NewDomainEvent(EventActorFailed, map[string]any{
			"address": addr.Path(), "error": err.Error(),
		}))
		s.stopActor(addr, inst)

	case actor.DirectiveEscalate:
		s.emit(actor.NewDomainEvent(EventActorEscalated, map[string]any{
			"address": addr.Path(), "error": err.Error(), "attempt": outcome.Attempt,
		}))
		// The guardian is the root of the supervision tree: escalation
		// that reaches it is terminal for the failing subtree.
		s.stopActor(addr, inst)

	case actor.DirectiveResume:
		// No action: the actor's receive loop already continues past a
		// handled failure. Resume is a deliberate no-op.
	}
}

func (s *System) restart(inst *actor.Actor, delay time.Duration) {
	addr := inst.Address()
	apply := func() {
		inst.ResetContext()
		s.emit(actor.NewDomainEvent(EventActorRestarted, map[string]any{"address": addr.Path()}))
	}
	if delay <= 0 {
		apply()
		return
	}
	time.AfterFunc(delay, apply)
}

func (s *System) stopActor(addr actor.Address, inst *actor.Actor) {
	s.emit(actor.NewDomainEvent(EventActorStopping, map[string]any{"address": addr.Path()}))
	inst.Stop()
	s.sup.Forget(addr)

	s.mu.Lock()
	delete(s.actors, addr.Path())
	s.mu.Unlock()

	if err := s.dir.Unregister(context.Background(), addr); err != nil {
		log.WarnS(context.Background(), "system: failed to unregister stopped actor", err, "actor", addr.Path())
	}

	s.emit(actor.NewDomainEvent(EventActorStopped, map[string]any{"address": addr.Path()}))
}

// Stop stops and removes one actor by address. It is idempotent: stopping
// an unknown address is a no-op.
func (s *System) Stop(addr actor.Address) {
	s.mu.RLock()
	inst, ok := s.actors[addr.Path()]
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.sup.ResetChild(addr)
	s.stopActor(addr, inst)
}

// Lookup returns the locally-hosted actor instance at addr, if any.
func (s *System) Lookup(addr actor.Address) (*actor.Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.actors[addr.Path()]
	return inst, ok
}

// ListAddresses returns every address currently hosted by this system.
func (s *System) ListAddresses() []actor.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]actor.Address, 0, len(s.actors))
	for _, inst := range s.actors {
		out = append(out, inst.Address())
	}
	return out
}

// systemAskerAddress is the synthetic address stamped as the sender of a
// system-level Ask (one issued on the system's own behalf rather than from
// within a running actor's OnMessage). Replies addressed here are routed
// to the system's own AskTable instead of a mailbox, since the system
// hosts no actor of its own to receive them.
func (s *System) systemAskerAddress() actor.Address {
	return actor.NewAddress(s.cfg.Node, "system", "asker")
}

// Tell implements actor.Teller and timer.Deliverer: it resolves to, applies
// the beforeSend interceptor chain, and enqueues msg into the target
// actor's mailbox. A reply addressed to the system's own synthetic asker
// identity is routed to the system's AskTable instead.
func (s *System) Tell(ctx context.Context, to actor.Address, msg actor.Envelope) error {
	if s.stopped.Load() {
		return actor.ErrSystemStopped
	}
	if err := actor.IsEnvelope(msg); err != nil {
		return err
	}

	if to == s.systemAskerAddress() {
		if msg.CorrelationID != nil {
			s.asks.Resolve(*msg.CorrelationID, msg)
		}
		return nil
	}

	mc := actor.NewMessageContext()
	if msg.CorrelationID != nil {
		mc.CorrelationID = *msg.CorrelationID
	}

	sender := actor.Address{}
	if msg.Sender != nil {
		sender = *msg.Sender
	}

	out, ok := s.registry.RunBeforeSend(ctx, to.Type, msg, sender, mc)
	if !ok {
		return nil
	}

	inst, ok := s.Lookup(to)
	if !ok {
		if _, err := s.dir.Lookup(ctx, to); err != nil {
			return actor.ErrNoSuchActor
		}
		// A directory hit for a non-local actor means it lives on a
		// remote node; dispatching across a transport is out of this
		// package's scope (see internal/transport).
		return actor.ErrNoSuchActor
	}

	return inst.Deliver(ctx, out)
}

// Ask implements actor.Asker: a correlated request/response exchange
// issued on the system's own behalf (e.g. from an external caller such as
// a transport handler or the MCP admin surface), as opposed to the
// actor-internal AskInstruction plan step.
func (s *System) Ask(ctx context.Context, to actor.Address, msg actor.Envelope, opts actor.AskOptions) actor.Future[actor.Envelope] {
	if opts.Timeout <= 0 {
		opts = s.cfg.AskOptions
	}

	send := func(correlationID string) error {
		stamped := msg.WithCorrelationID(correlationID).WithSender(s.systemAskerAddress())
		return s.Tell(ctx, to, stamped)
	}

	return actor.NewAsk(s.asks, send, opts)
}

// Send is an alias for Tell, matching the actor.Deps interface name.
func (s *System) Send(ctx context.Context, to actor.Address, msg actor.Envelope) error {
	return s.Tell(ctx, to, msg)
}

// Shutdown stops the timer, every hosted actor (breadth-first: order is
// not significant since actors only share state through mailboxes/asks,
// both of which tolerate being torn down concurrently), and the
// directory's background cleanup, then waits up to ctx's deadline for
// every actor goroutine to exit.
func (s *System) Shutdown(ctx context.Context) error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	s.emit(actor.NewDomainEvent(EventStopping, map[string]any{"node": s.cfg.Node}))

	s.mu.Lock()
	toStop := make([]*actor.Actor, 0, len(s.actors))
	for _, inst := range s.actors {
		toStop = append(toStop, inst)
	}
	s.actors = make(map[string]*actor.Actor)
	s.mu.Unlock()

	for _, inst := range toStop {
		inst.Stop()
	}

	s.asks.RejectAll(actor.ErrSystemStopped)
	s.tm.Stop()
	s.dir.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.emit(actor.NewDomainEvent(EventStopped, map[string]any{"node": s.cfg.Node}))
		return nil
	case <-ctx.Done():
		log.ErrorS(ctx, "system: shutdown incomplete, actors may have leaked", ctx.Err())
		return ctx.Err()
	}
}

var (
	_ actor.Deps   = (*System)(nil)
	_ actor.Asker  = (*System)(nil)
	_ actor.Teller = (*System)(nil)
)
