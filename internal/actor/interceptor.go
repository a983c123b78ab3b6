package actor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// InterceptorScope selects whether an interceptor applies to every actor
// (global) or only actors of one type (actor-scoped).
type InterceptorScope int

const (
	ScopeGlobal InterceptorScope = iota
	ScopeActor
)

// BeforeSendFunc runs before an envelope is handed to the directory for
// delivery. Returning ok=false drops the message silently (counted as
// filtered).
type BeforeSendFunc func(ctx context.Context, env Envelope, sender Address, mc *MessageContext) (out Envelope, ok bool)

// BeforeReceiveFunc runs immediately before a dequeued envelope is passed
// to a behaviour's onMessage. Returning ok=false drops the message.
type BeforeReceiveFunc func(ctx context.Context, env Envelope, sender Address, mc *MessageContext) (out Envelope, ok bool)

// AfterProcessFunc runs after onMessage returns successfully.
type AfterProcessFunc func(ctx context.Context, env Envelope, result Plan, self Address, mc *MessageContext)

// OnErrorFunc runs when onMessage (or an earlier hook) fails.
type OnErrorFunc func(ctx context.Context, err error, env Envelope, self Address, mc *MessageContext)

// Interceptor is one registered entry in the pipeline. The four hook
// fields are optional; a nil hook is simply skipped for that phase.
type Interceptor struct {
	ID       string
	Priority int
	Scope    InterceptorScope

	// ActorType restricts a ScopeActor interceptor to one behaviour
	// type. Empty means it applies to every actor-scoped dispatch.
	ActorType string

	// Filter, if non-nil, is consulted before running this interceptor's
	// hooks; returning false skips it for that envelope.
	Filter func(env Envelope) bool

	Enabled bool

	BeforeSend    BeforeSendFunc
	BeforeReceive BeforeReceiveFunc
	AfterProcess  AfterProcessFunc
	OnError       OnErrorFunc

	errCount      atomic.Uint64
	filteredCount atomic.Uint64
}

// ErrorCount returns the number of times this interceptor's hooks panicked.
func (ic *Interceptor) ErrorCount() uint64 { return ic.errCount.Load() }

// FilteredCount returns the number of envelopes this interceptor's Filter
// excluded it from, plus the envelopes its BeforeSend hook dropped.
func (ic *Interceptor) FilteredCount() uint64 { return ic.filteredCount.Load() }

func (ic *Interceptor) applies(env Envelope) bool {
	if !ic.Enabled {
		return false
	}
	if ic.Filter != nil && !ic.Filter(env) {
		ic.filteredCount.Add(1)
		return false
	}
	return true
}

// composed is the pre-built, per-hook ordered chain of interceptors for one
// actor type (or the global-only pipeline when actorType is "").
type composed struct {
	beforeSend    []*Interceptor
	beforeReceive []*Interceptor
	afterProcess  []*Interceptor
	onError       []*Interceptor
}

// Registry holds every registered interceptor and lazily composes,
// per-actor-type, the ordered hook chains so that dispatch never pays the
// cost of re-sorting on the hot path.
type Registry struct {
	mu           sync.RWMutex
	interceptors map[string]*Interceptor
	composedByType map[string]*composed
}

// NewRegistry constructs an empty interceptor registry.
func NewRegistry() *Registry {
	return &Registry{
		interceptors:   make(map[string]*Interceptor),
		composedByType: make(map[string]*composed),
	}
}

// Register adds or replaces an interceptor and invalidates cached
// compositions.
func (r *Registry) Register(ic *Interceptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.interceptors[ic.ID] = ic
	r.composedByType = make(map[string]*composed)
}

// Unregister removes an interceptor by id.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.interceptors, id)
	r.composedByType = make(map[string]*composed)
}

// forActorType returns the ordered (global desc-priority, then
// actor-scope desc-priority) set of interceptors relevant to actorType,
// composing and caching it on first use.
func (r *Registry) forActorType(actorType string) *composed {
	r.mu.RLock()
	if c, ok := r.composedByType[actorType]; ok {
		r.mu.RUnlock()
		return c
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.composedByType[actorType]; ok {
		return c
	}

	var global, scoped []*Interceptor
	for _, ic := range r.interceptors {
		switch ic.Scope {
		case ScopeGlobal:
			global = append(global, ic)
		case ScopeActor:
			if ic.ActorType == "" || ic.ActorType == actorType {
				scoped = append(scoped, ic)
			}
		}
	}
	byPriorityDesc := func(s []*Interceptor) {
		sort.SliceStable(s, func(i, j int) bool {
			return s[i].Priority > s[j].Priority
		})
	}
	byPriorityDesc(global)
	byPriorityDesc(scoped)

	ordered := append(append([]*Interceptor{}, global...), scoped...)

	c := &composed{}
	for _, ic := range ordered {
		if ic.BeforeSend != nil {
			c.beforeSend = append(c.beforeSend, ic)
		}
		if ic.BeforeReceive != nil {
			c.beforeReceive = append(c.beforeReceive, ic)
		}
		if ic.AfterProcess != nil {
			c.afterProcess = append(c.afterProcess, ic)
		}
		if ic.OnError != nil {
			c.onError = append(c.onError, ic)
		}
	}

	r.composedByType[actorType] = c
	return c
}

// runHook invokes fn, recovering a panic, counting it against ic's own
// error counter and logging it, without aborting the remaining chain.
func runHook(ic *Interceptor, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			ic.errCount.Add(1)
			log.WarnS(context.Background(), "interceptor hook panicked",
				ErrInterceptorFailure, "interceptor", ic.ID, "panic", rec)
		}
	}()
	fn()
}

// RunBeforeSend applies the composed beforeSend chain for actorType in
// order, short-circuiting (dropping the message) as soon as any
// interceptor explicitly returns ok=false. A panicking hook is isolated to
// its own error counter and does not veto delivery.
func (r *Registry) RunBeforeSend(ctx context.Context, actorType string, env Envelope, sender Address, mc *MessageContext) (Envelope, bool) {
	c := r.forActorType(actorType)
	for _, ic := range c.beforeSend {
		if !ic.applies(env) {
			continue
		}
		// out/ok default to "unchanged, keep going" so a panic inside the
		// hook (which aborts fn before it assigns) isolates to this
		// interceptor's own error counter instead of vetoing delivery.
		out, ok := env, true
		runHook(ic, func() {
			out, ok = ic.BeforeSend(ctx, env, sender, mc)
		})
		if !ok {
			ic.filteredCount.Add(1)
			return Envelope{}, false
		}
		env = out
	}
	return env, true
}

// RunBeforeReceive applies the composed beforeReceive chain.
func (r *Registry) RunBeforeReceive(ctx context.Context, actorType string, env Envelope, sender Address, mc *MessageContext) (Envelope, bool) {
	c := r.forActorType(actorType)
	for _, ic := range c.beforeReceive {
		if !ic.applies(env) {
			continue
		}
		// See RunBeforeSend: defaults keep the message flowing through a
		// panicking hook instead of dropping it.
		out, ok := env, true
		runHook(ic, func() {
			out, ok = ic.BeforeReceive(ctx, env, sender, mc)
		})
		if !ok {
			return Envelope{}, false
		}
		env = out
	}
	return env, true
}

// RunAfterProcess applies the composed afterProcess chain. Hooks never
// abort one another.
func (r *Registry) RunAfterProcess(ctx context.Context, actorType string, env Envelope, result Plan, self Address, mc *MessageContext) {
	c := r.forActorType(actorType)
	for _, ic := range c.afterProcess {
		if !ic.applies(env) {
			continue
		}
		runHook(ic, func() {
			ic.AfterProcess(ctx, env, result, self, mc)
		})
	}
}

// RunOnError applies the composed onError chain.
func (r *Registry) RunOnError(ctx context.Context, actorType string, err error, env Envelope, self Address, mc *MessageContext) {
	c := r.forActorType(actorType)
	for _, ic := range c.onError {
		if !ic.applies(env) {
			continue
		}
		runHook(ic, func() {
			ic.OnError(ctx, err, env, self, mc)
		})
	}
}
