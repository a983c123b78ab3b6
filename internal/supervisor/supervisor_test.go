package supervisor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbus-actors/nimbus/internal/actor"
)

func addr(id string) actor.Address {
	return actor.NewAddress("local", "worker", id)
}

var errBoom = errors.New("boom")

// TestRestartWithinBudget matches spec scenario S3: a failing child whose
// policy is RESTART, under its MaxRetries budget, is told to restart with
// an increasing attempt counter and a non-negative backoff.
func TestRestartWithinBudget(t *testing.T) {
	s := New(BackoffPolicy{
		Kind:         BackoffExponential,
		InitialDelay: 10 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     time.Second,
	})

	policy := actor.SupervisionPolicy{Directive: actor.DirectiveRestart, MaxRetries: 5, TimeWindow: 60_000}
	child := addr("one")
	now := time.Unix(0, 0)

	for attempt := 1; attempt <= 3; attempt++ {
		out := s.Decide(now, child, errBoom, policy, nil)
		require.Equal(t, actor.DirectiveRestart, out.Directive)
		require.Equal(t, attempt, out.Attempt)
		require.GreaterOrEqual(t, out.Delay, time.Duration(0))
		now = now.Add(time.Millisecond)
	}
}

// TestEscalateAfterMaxRetries matches spec scenario S4: once MaxRetries is
// exceeded within the time window, the supervisor escalates instead of
// continuing to restart.
func TestEscalateAfterMaxRetries(t *testing.T) {
	s := New(BackoffPolicy{Kind: BackoffLinear, InitialDelay: time.Millisecond})

	policy := actor.SupervisionPolicy{Directive: actor.DirectiveRestart, MaxRetries: 2, TimeWindow: 60_000}
	child := addr("two")
	now := time.Unix(0, 0)

	out := s.Decide(now, child, errBoom, policy, nil)
	require.Equal(t, actor.DirectiveRestart, out.Directive)
	out = s.Decide(now, child, errBoom, policy, nil)
	require.Equal(t, actor.DirectiveRestart, out.Directive)

	out = s.Decide(now, child, errBoom, policy, nil)
	require.Equal(t, actor.DirectiveEscalate, out.Directive)
}

func TestStopDirectivePassesThroughWithoutWindow(t *testing.T) {
	s := New(BackoffPolicy{})
	policy := actor.SupervisionPolicy{Directive: actor.DirectiveStop}

	out := s.Decide(time.Now(), addr("three"), errBoom, policy, nil)
	require.Equal(t, actor.DirectiveStop, out.Directive)
	require.Zero(t, out.Attempt)
}

type dynamicHandler struct {
	directive actor.SupervisionDirective
}

func (d dynamicHandler) OnFailure(error, actor.Address) actor.SupervisionDirective {
	return d.directive
}

func TestFailureHandlerOverridesStaticPolicy(t *testing.T) {
	s := New(BackoffPolicy{})
	policy := actor.SupervisionPolicy{Directive: actor.DirectiveRestart, MaxRetries: 10, TimeWindow: 60_000}

	out := s.Decide(time.Now(), addr("four"), errBoom, policy, dynamicHandler{directive: actor.DirectiveStop})
	require.Equal(t, actor.DirectiveStop, out.Directive)
}

type panickingHandler struct{}

func (panickingHandler) OnFailure(error, actor.Address) actor.SupervisionDirective {
	panic("handler exploded")
}

func TestPanickingHandlerDefaultsToRestart(t *testing.T) {
	s := New(BackoffPolicy{Kind: BackoffNone})
	policy := actor.SupervisionPolicy{Directive: actor.DirectiveStop, MaxRetries: 10, TimeWindow: 60_000}

	out := s.Decide(time.Now(), addr("five"), errBoom, policy, panickingHandler{})
	require.Equal(t, actor.DirectiveRestart, out.Directive)
}

func TestSlidingWindowDropsOldFailures(t *testing.T) {
	s := New(BackoffPolicy{})
	policy := actor.SupervisionPolicy{Directive: actor.DirectiveRestart, MaxRetries: 1, TimeWindow: 100}
	child := addr("six")

	base := time.Unix(0, 0)
	out := s.Decide(base, child, errBoom, policy, nil)
	require.Equal(t, actor.DirectiveRestart, out.Directive)
	require.Equal(t, 1, out.Attempt)

	// Second failure far outside the 100ms window should not count the
	// first against the budget.
	later := base.Add(time.Second)
	out = s.Decide(later, child, errBoom, policy, nil)
	require.Equal(t, actor.DirectiveRestart, out.Directive)
	require.Equal(t, 1, out.Attempt)
}

func TestResetChildClearsWindow(t *testing.T) {
	s := New(BackoffPolicy{})
	policy := actor.SupervisionPolicy{Directive: actor.DirectiveRestart, MaxRetries: 1, TimeWindow: 60_000}
	child := addr("seven")
	now := time.Unix(0, 0)

	out := s.Decide(now, child, errBoom, policy, nil)
	require.Equal(t, actor.DirectiveRestart, out.Directive)

	s.ResetChild(child)

	out = s.Decide(now, child, errBoom, policy, nil)
	require.Equal(t, actor.DirectiveRestart, out.Directive)
	require.Equal(t, 1, out.Attempt)
}

func TestBackoffDelayShapes(t *testing.T) {
	exp := BackoffPolicy{Kind: BackoffExponential, InitialDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second}
	require.Equal(t, time.Second, exp.Delay(1))
	require.Equal(t, 2*time.Second, exp.Delay(2))
	require.Equal(t, 4*time.Second, exp.Delay(3))
	require.Equal(t, 8*time.Second, exp.Delay(4))
	require.Equal(t, 10*time.Second, exp.Delay(5)) // capped

	lin := BackoffPolicy{Kind: BackoffLinear, InitialDelay: time.Second}
	require.Equal(t, time.Second, lin.Delay(1))
	require.Equal(t, 3*time.Second, lin.Delay(3))

	fib := BackoffPolicy{Kind: BackoffFibonacci, InitialDelay: time.Second}
	require.Equal(t, time.Second, fib.Delay(1))
	require.Equal(t, time.Second, fib.Delay(2))
	require.Equal(t, 2*time.Second, fib.Delay(3))
	require.Equal(t, 3*time.Second, fib.Delay(4))
	require.Equal(t, 5*time.Second, fib.Delay(5))

	none := BackoffPolicy{Kind: BackoffNone, InitialDelay: time.Second}
	require.Zero(t, none.Delay(3))
}

func TestBackoffJitterStaysWithinBounds(t *testing.T) {
	p := BackoffPolicy{Kind: BackoffExponential, InitialDelay: time.Second, Multiplier: 2, Jitter: true}
	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		require.GreaterOrEqual(t, d, 750*time.Millisecond)
		require.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}
