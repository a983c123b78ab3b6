package actor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterceptorOrderingGlobalBeforeScopedByPriorityDesc(t *testing.T) {
	r := NewRegistry()
	var order []string

	mk := func(id string, scope InterceptorScope, priority int) *Interceptor {
		return &Interceptor{
			ID: id, Scope: scope, Priority: priority, Enabled: true,
			BeforeReceive: func(ctx context.Context, env Envelope, sender Address, mc *MessageContext) (Envelope, bool) {
				order = append(order, id)
				return env, true
			},
		}
	}

	r.Register(mk("global-low", ScopeGlobal, 1))
	r.Register(mk("global-high", ScopeGlobal, 10))
	r.Register(mk("scoped-low", ScopeActor, 1))
	r.Register(mk("scoped-high", ScopeActor, 10))

	_, ok := r.RunBeforeReceive(context.Background(), "worker", NewEnvelope("X", nil), Address{}, NewMessageContext())
	require.True(t, ok)

	require.Equal(t, []string{"global-high", "global-low", "scoped-high", "scoped-low"}, order)
}

func TestInterceptorActorTypeScoping(t *testing.T) {
	r := NewRegistry()
	var hit bool

	r.Register(&Interceptor{
		ID: "room-only", Scope: ScopeActor, ActorType: "room", Enabled: true,
		BeforeReceive: func(ctx context.Context, env Envelope, sender Address, mc *MessageContext) (Envelope, bool) {
			hit = true
			return env, true
		},
	})

	r.RunBeforeReceive(context.Background(), "worker", NewEnvelope("X", nil), Address{}, NewMessageContext())
	require.False(t, hit)

	r.RunBeforeReceive(context.Background(), "room", NewEnvelope("X", nil), Address{}, NewMessageContext())
	require.True(t, hit)
}

func TestInterceptorFilterSkipsAndCountsFiltered(t *testing.T) {
	r := NewRegistry()
	ic := &Interceptor{
		ID: "filtered", Scope: ScopeGlobal, Enabled: true,
		Filter: func(env Envelope) bool { return env.Type == "MATCH" },
		BeforeReceive: func(ctx context.Context, env Envelope, sender Address, mc *MessageContext) (Envelope, bool) {
			return env, true
		},
	}
	r.Register(ic)

	r.RunBeforeReceive(context.Background(), "worker", NewEnvelope("NO_MATCH", nil), Address{}, NewMessageContext())
	require.Equal(t, uint64(1), ic.FilteredCount())

	r.RunBeforeReceive(context.Background(), "worker", NewEnvelope("MATCH", nil), Address{}, NewMessageContext())
	require.Equal(t, uint64(1), ic.FilteredCount())
}

func TestInterceptorShortCircuitsOnFalse(t *testing.T) {
	r := NewRegistry()
	var secondRan bool

	r.Register(&Interceptor{
		ID: "blocker", Scope: ScopeGlobal, Priority: 10, Enabled: true,
		BeforeReceive: func(ctx context.Context, env Envelope, sender Address, mc *MessageContext) (Envelope, bool) {
			return env, false
		},
	})
	r.Register(&Interceptor{
		ID: "after", Scope: ScopeGlobal, Priority: 1, Enabled: true,
		BeforeReceive: func(ctx context.Context, env Envelope, sender Address, mc *MessageContext) (Envelope, bool) {
			secondRan = true
			return env, true
		},
	})

	_, ok := r.RunBeforeReceive(context.Background(), "worker", NewEnvelope("X", nil), Address{}, NewMessageContext())
	require.False(t, ok)
	require.False(t, secondRan)
}

func TestInterceptorPanicIsolatedToErrorCount(t *testing.T) {
	r := NewRegistry()
	var laterRan bool

	panicky := &Interceptor{
		ID: "panicky", Scope: ScopeGlobal, Priority: 10, Enabled: true,
		BeforeReceive: func(ctx context.Context, env Envelope, sender Address, mc *MessageContext) (Envelope, bool) {
			panic("boom")
		},
	}
	r.Register(panicky)
	r.Register(&Interceptor{
		ID: "later", Scope: ScopeGlobal, Priority: 1, Enabled: true,
		BeforeReceive: func(ctx context.Context, env Envelope, sender Address, mc *MessageContext) (Envelope, bool) {
			laterRan = true
			return env, true
		},
	})

	var ok bool
	require.NotPanics(t, func() {
		_, ok = r.RunBeforeReceive(context.Background(), "worker", NewEnvelope("X", nil), Address{}, NewMessageContext())
	})
	require.Equal(t, uint64(1), panicky.ErrorCount())
	// A panicking hook is isolated to its own error counter; it does not
	// veto delivery, so the rest of the chain still runs.
	require.True(t, ok)
	require.True(t, laterRan)
}

func TestInterceptorDisabledIsSkipped(t *testing.T) {
	r := NewRegistry()
	var ran bool
	r.Register(&Interceptor{
		ID: "disabled", Scope: ScopeGlobal, Enabled: false,
		BeforeReceive: func(ctx context.Context, env Envelope, sender Address, mc *MessageContext) (Envelope, bool) {
			ran = true
			return env, true
		},
	})
	r.RunBeforeReceive(context.Background(), "worker", NewEnvelope("X", nil), Address{}, NewMessageContext())
	require.False(t, ran)
}

func TestRegisterInvalidatesComposedCache(t *testing.T) {
	r := NewRegistry()
	r.RunBeforeReceive(context.Background(), "worker", NewEnvelope("X", nil), Address{}, NewMessageContext())

	var ran bool
	r.Register(&Interceptor{
		ID: "late", Scope: ScopeGlobal, Enabled: true,
		BeforeReceive: func(ctx context.Context, env Envelope, sender Address, mc *MessageContext) (Envelope, bool) {
			ran = true
			return env, true
		},
	})

	r.RunBeforeReceive(context.Background(), "worker", NewEnvelope("X", nil), Address{}, NewMessageContext())
	require.True(t, ran)
}

func TestUnregisterRemovesInterceptor(t *testing.T) {
	r := NewRegistry()
	var ran bool
	r.Register(&Interceptor{
		ID: "temp", Scope: ScopeGlobal, Enabled: true,
		BeforeReceive: func(ctx context.Context, env Envelope, sender Address, mc *MessageContext) (Envelope, bool) {
			ran = true
			return env, true
		},
	})
	r.Unregister("temp")

	r.RunBeforeReceive(context.Background(), "worker", NewEnvelope("X", nil), Address{}, NewMessageContext())
	require.False(t, ran)
}

func TestOnErrorHookRuns(t *testing.T) {
	r := NewRegistry()
	var gotErr error
	r.Register(&Interceptor{
		ID: "err-tracker", Scope: ScopeGlobal, Enabled: true,
		OnError: func(ctx context.Context, err error, env Envelope, self Address, mc *MessageContext) {
			gotErr = err
		},
	})

	boom := ErrHandlerFailure
	r.RunOnError(context.Background(), "worker", boom, NewEnvelope("X", nil), Address{}, NewMessageContext())
	require.ErrorIs(t, gotErr, boom)
}
