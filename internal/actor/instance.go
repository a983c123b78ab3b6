package actor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ReplyHandlerProvider is an optional Behavior extension for actors that
// issue AskInstruction plans themselves: it maps an OnReply key to the
// function invoked when the correlated reply arrives.
type ReplyHandlerProvider interface {
	ReplyHandlers() map[string]func(MessageCall) Plan
}

// Config bundles the parameters needed to construct an Actor.
type Config struct {
	Addr         Address
	Behavior     Behavior
	Registry     *Registry
	Deps         Deps
	AskOptions   AskOptions
	OnFailure    func(Address, error)
	DLO          func(Envelope)
	WaitGroup    *sync.WaitGroup
	CleanupDelay time.Duration
}

// Actor hosts one Behavior and drives its single-goroutine receive loop.
// All context mutation happens inside that goroutine, so no locking is
// needed for the context value itself beyond the read path used by
// external introspection (Snapshot).
type Actor struct {
	addr     Address
	behavior Behavior

	mailbox  *Mailbox
	registry *Registry
	bus      *EventBus
	asks     *AskTable
	deps     Deps

	status atomic.Int32

	ctxMu sync.RWMutex
	ctx   any

	runCtx context.Context
	cancel context.CancelFunc

	onFailure func(Address, error)
	dlo       func(Envelope)

	wg           *sync.WaitGroup
	cleanupDelay time.Duration

	startOnce sync.Once
	stopOnce  sync.Once

	interp *planInterpreter
}

// NewActor constructs an Actor from cfg. The actor is not started; call
// Start to begin its receive loop.
func NewActor(cfg Config) *Actor {
	mboxCap, policy := 64, OverflowDrop
	if mcp, ok := cfg.Behavior.(MailboxConfigProvider); ok {
		mboxCap, policy = mcp.MailboxConfig()
	}

	runCtx, cancel := context.WithCancel(context.Background())

	a := &Actor{
		addr:         cfg.Addr,
		behavior:     cfg.Behavior,
		mailbox:      NewMailbox(mboxCap, policy),
		registry:     cfg.Registry,
		bus:          NewEventBus(),
		asks:         NewAskTable(),
		deps:         cfg.Deps,
		runCtx:       runCtx,
		cancel:       cancel,
		onFailure:    cfg.OnFailure,
		dlo:          cfg.DLO,
		wg:           cfg.WaitGroup,
		cleanupDelay: cfg.CleanupDelay,
		ctx:          cfg.Behavior.InitialContext(),
	}
	if a.cleanupDelay <= 0 {
		a.cleanupDelay = 5 * time.Second
	}

	askOpts := cfg.AskOptions
	if askOpts.Timeout <= 0 {
		askOpts = DefaultAskOptions()
	}

	a.interp = &planInterpreter{
		addr:    a.addr,
		bus:     a.bus,
		deps:    a.deps,
		asks:    a.asks,
		askOpts: askOpts,
		setContext: func(v any) {
			a.ctxMu.Lock()
			a.ctx = v
			a.ctxMu.Unlock()
		},
	}

	return a
}

// Address returns the actor's immutable address.
func (a *Actor) Address() Address { return a.addr }

// Status returns the actor's current lifecycle status.
func (a *Actor) Status() Status { return Status(a.status.Load()) }

// Snapshot returns the actor's current context value.
func (a *Actor) Snapshot() any {
	a.ctxMu.RLock()
	defer a.ctxMu.RUnlock()
	return a.ctx
}

// Bus returns the actor's per-instance event bus.
func (a *Actor) Bus() *EventBus { return a.bus }

// Behavior returns the actor's hosted Behavior, e.g. for a supervisor to
// probe optional extension interfaces such as a dynamic FailureHandler.
func (a *Actor) Behavior() Behavior { return a.behavior }

// SupervisionPolicy returns the behaviour's policy, or the default.
func (a *Actor) SupervisionPolicy() SupervisionPolicy {
	if pp, ok := a.behavior.(PolicyProvider); ok {
		return pp.SupervisionPolicy()
	}
	return DefaultSupervisionPolicy()
}

// Deliver enqueues env into the actor's mailbox, applying the mailbox's
// overflow policy.
func (a *Actor) Deliver(ctx context.Context, env Envelope) error {
	if a.Status() == StatusStopped || a.Status() == StatusStopping {
		return ErrActorStopped
	}
	return a.mailbox.Enqueue(ctx, env)
}

// MailboxStats exposes the actor's mailbox counters.
func (a *Actor) MailboxStats() MailboxStats { return a.mailbox.Stats() }

// Start begins the receive loop in its own goroutine. Safe to call more
// than once; only the first call has effect.
func (a *Actor) Start() {
	a.startOnce.Do(func() {
		a.status.Store(int32(StatusStarting))
		if a.wg != nil {
			a.wg.Add(1)
		}
		go a.run()
	})
}

func (a *Actor) run() {
	if a.wg != nil {
		defer a.wg.Done()
	}

	if starter, ok := a.behavior.(Starter); ok {
		plan := starter.OnStart(a.runCtx, a.Snapshot())
		if err := a.interp.interpret(a.runCtx, Envelope{}, plan); err != nil {
			log.WarnS(a.runCtx, "onStart plan interpretation failed", err,
				"actor", a.addr.Path())
		}
	}

	a.status.Store(int32(StatusRunning))

	for env := range a.mailbox.Receive(a.runCtx) {
		a.dispatch(env)
	}

	a.finalize()
}

func (a *Actor) dispatch(env Envelope) {
	mc := NewMessageContext()
	if env.CorrelationID != nil {
		mc.CorrelationID = *env.CorrelationID
	}

	senderAddr := Address{}
	if env.Sender != nil {
		senderAddr = *env.Sender
	}

	if env.CorrelationID != nil && a.tryResolveReply(env) {
		return
	}

	in, ok := a.registry.RunBeforeReceive(a.runCtx, a.addr.Type, env, senderAddr, mc)
	if !ok {
		return
	}

	plan, err := a.invokeHandler(in)
	if err != nil {
		a.registry.RunOnError(a.runCtx, a.addr.Type, err, in, a.addr, mc)
		if a.onFailure != nil {
			a.onFailure(a.addr, err)
		}
		return
	}

	a.registry.RunAfterProcess(a.runCtx, a.addr.Type, in, plan, a.addr, mc)

	if err := a.interp.interpret(a.runCtx, in, plan); err != nil {
		a.registry.RunOnError(a.runCtx, a.addr.Type, err, in, a.addr, mc)
	}
}

// tryResolveReply routes env to an outstanding ask's registered handler if
// its correlation id matches one this actor issued. It returns true when
// env was consumed this way (i.e. it must not also go to OnMessage).
func (a *Actor) tryResolveReply(env Envelope) bool {
	id := *env.CorrelationID

	key, handled := a.asks.Resolve(id, env)
	if !handled {
		return false
	}

	if key == "" {
		return true
	}

	provider, ok := a.behavior.(ReplyHandlerProvider)
	if !ok {
		return true
	}
	handler, ok := provider.ReplyHandlers()[key]
	if !ok {
		log.WarnS(a.runCtx, "no reply handler registered for key", nil,
			"actor", a.addr.Path(), "reply_key", key)
		return true
	}

	if err := a.interp.handleReply(a.runCtx, env, handler); err != nil {
		log.WarnS(a.runCtx, "reply plan interpretation failed", err,
			"actor", a.addr.Path(), "reply_key", key)
	}
	return true
}

func (a *Actor) invokeHandler(env Envelope) (plan Plan, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerFailure, rec)
		}
	}()

	call := MessageCall{Msg: env, Context: a.Snapshot(), Self: a.addr, Deps: a.deps}
	plan = a.behavior.OnMessage(call)
	return plan, nil
}

func (a *Actor) finalize() {
	a.mailbox.Stop()
	a.asks.RejectAll(ErrActorStopped)
	a.bus.Destroy()

	drained := 0
	for env := range a.mailbox.Receive(context.Background()) {
		drained++
		if a.dlo != nil {
			a.dlo(env)
		}
	}

	if stopper, ok := a.behavior.(Stopper); ok {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), a.cleanupDelay)
		stopper.OnStop(cleanupCtx, a.Snapshot())
		cancel()
	}

	a.status.Store(int32(StatusStopped))
	log.DebugS(context.Background(), "actor terminated", "actor", a.addr.Path(),
		"drained_messages", drained)
}

// Stop signals the receive loop to exit. Safe to call more than once.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() {
		a.status.Store(int32(StatusStopping))
		a.cancel()
	})
}

// ResetContext replaces the actor's context with its InitialContext value.
// Used by the supervisor on RESTART to fulfil the "resets context to
// initialContext" invariant.
func (a *Actor) ResetContext() {
	a.ctxMu.Lock()
	a.ctx = a.behavior.InitialContext()
	a.ctxMu.Unlock()
}
