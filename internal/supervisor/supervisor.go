// Package supervisor implements spec.md's component C7: the
// restart/stop/escalate/resume decision for a failing child actor,
// including sliding-window retry counting and backoff. It decides; it does
// not itself touch actor lifecycle — internal/system applies the returned
// Outcome (recreating, stopping, or escalating the child), mirroring the
// "store addresses, not handles" re-architecture note in spec.md §9: a
// Supervisor only ever holds Addresses, never actor instances.
package supervisor

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/nimbus-actors/nimbus/internal/actor"
)

// FailureHandler is an optional extension a Behavior may implement to
// compute a dynamic directive for a given failure, overriding the static
// SupervisionPolicy.Directive. If it panics, the directive defaults to
// RESTART, per spec.md §4.7.
type FailureHandler interface {
	OnFailure(err error, child actor.Address) actor.SupervisionDirective
}

// BackoffKind selects the shape of the restart-delay curve.
type BackoffKind int

const (
	BackoffNone BackoffKind = iota
	BackoffExponential
	BackoffLinear
	BackoffFibonacci
)

// BackoffPolicy configures the restart delay applied before a RESTART
// directive is carried out.
type BackoffPolicy struct {
	Kind         BackoffKind
	InitialDelay time.Duration
	Multiplier   float64 // exponential only; defaults to 2 if <= 1
	MaxDelay     time.Duration
	Jitter       bool // +/-25%
}

// Delay computes the backoff for the given 1-indexed attempt.
func (b BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch b.Kind {
	case BackoffExponential:
		mult := b.Multiplier
		if mult <= 1 {
			mult = 2
		}
		d = time.Duration(float64(b.InitialDelay) * math.Pow(mult, float64(attempt-1)))

	case BackoffLinear:
		d = b.InitialDelay * time.Duration(attempt)

	case BackoffFibonacci:
		d = time.Duration(fibonacci(attempt)) * b.InitialDelay

	default:
		return 0
	}

	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}

	if b.Jitter {
		jitterRange := float64(d) * 0.25
		offset := (rand.Float64()*2 - 1) * jitterRange //nolint:gosec
		d += time.Duration(offset)
		if d < 0 {
			d = 0
		}
	}

	return d
}

func fibonacci(n int) int64 {
	if n <= 2 {
		return 1
	}
	var a, b int64 = 1, 1
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}

// Outcome is the decision a Supervisor reached for one failure.
type Outcome struct {
	Directive actor.SupervisionDirective
	// Delay is the backoff to wait before carrying out a RESTART.
	// Meaningless for other directives.
	Delay time.Duration
	// Attempt is the 1-indexed retry count within the current time
	// window, for RESTART outcomes.
	Attempt int
}

// childWindow tracks failure timestamps within the sliding retry window for
// one supervised child.
type childWindow struct {
	mu       sync.Mutex
	failures []time.Time
}

func (c *childWindow) recordAndCount(now time.Time, window time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures = append(c.failures, now)

	cutoff := now.Add(-window)
	kept := c.failures[:0]
	for _, t := range c.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.failures = kept

	return len(c.failures)
}

func (c *childWindow) reset() {
	c.mu.Lock()
	c.failures = nil
	c.mu.Unlock()
}

// Supervisor decides directives for its children's failures. One
// Supervisor instance is associated with one parent actor (including the
// Guardian, the root supervisor).
type Supervisor struct {
	backoff BackoffPolicy

	mu       sync.Mutex
	children map[string]*childWindow
}

// New constructs a Supervisor with the given default backoff policy,
// applied whenever a child's policy issues RESTART.
func New(backoff BackoffPolicy) *Supervisor {
	return &Supervisor{
		backoff:  backoff,
		children: make(map[string]*childWindow),
	}
}

func (s *Supervisor) windowFor(addr actor.Address) *childWindow {
	key := addr.Path()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.children[key]
	if !ok {
		w = &childWindow{}
		s.children[key] = w
	}
	return w
}

// ResetChild clears a child's retry window, e.g. after a clean stop or a
// supervision attach, per spec.md §4.7 ("Backoff state resets on a
// successful supervision attach or clean stop").
func (s *Supervisor) ResetChild(addr actor.Address) {
	s.windowFor(addr).reset()
}

// Forget removes all tracked state for a child, called when the child is
// permanently removed from this supervisor (stopped or escalated away).
func (s *Supervisor) Forget(addr actor.Address) {
	s.mu.Lock()
	delete(s.children, addr.Path())
	s.mu.Unlock()
}

// Decide computes the Outcome for err having occurred in child, given
// policy (the child's static SupervisionPolicy) and an optional dynamic
// handler. now is injectable for deterministic tests.
func (s *Supervisor) Decide(now time.Time, child actor.Address, err error,
	policy actor.SupervisionPolicy, handler FailureHandler) Outcome {

	directive := s.computeDirective(err, child, policy, handler)

	if directive != actor.DirectiveRestart {
		return Outcome{Directive: directive}
	}

	window := s.windowFor(child)
	timeWindow := time.Duration(policy.TimeWindow) * time.Millisecond
	attempt := window.recordAndCount(now, timeWindow)

	if policy.MaxRetries > 0 && attempt > policy.MaxRetries {
		return Outcome{Directive: actor.DirectiveEscalate, Attempt: attempt}
	}

	return Outcome{
		Directive: actor.DirectiveRestart,
		Delay:     s.backoff.Delay(attempt),
		Attempt:   attempt,
	}
}

// computeDirective resolves the static policy directive, overridden by a
// dynamic handler when present. A panicking handler defaults to RESTART.
func (s *Supervisor) computeDirective(err error, child actor.Address,
	policy actor.SupervisionPolicy, handler FailureHandler) (directive actor.SupervisionDirective) {

	directive = policy.Directive

	if handler == nil {
		return directive
	}

	defer func() {
		if rec := recover(); rec != nil {
			directive = actor.DirectiveRestart
		}
	}()

	return handler.OnFailure(err, child)
}
