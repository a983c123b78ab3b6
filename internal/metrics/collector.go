package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btclog/v2"

	"github.com/nimbus-actors/nimbus/internal/actor"
)

var log btclog.Logger = btclog.Disabled

// UseLogger sets the subsystem logger used by the metrics package.
func UseLogger(logger btclog.Logger) { log = logger }

// startTimeKey is the MessageContext.Metadata key the beforeReceive hook
// stashes the dequeue timestamp under. Keying off the per-exchange
// MessageContext (rather than the envelope's own identity) gives the same
// "don't retain the envelope" property spec.md §4.12 asks a weak map for,
// without Go's lack of a native weak-map primitive: the MessageContext
// already has exactly the lifetime of one send/receive exchange.
const startTimeKey = "metrics.start_time"

// QueueDepthFunc returns the current mailbox size for addr, e.g.
// System.Lookup(addr).MailboxStats().Size. It is optional; when nil, queue
// depth samples are never recorded.
type QueueDepthFunc func(actor.Address) (size int, ok bool)

// Config configures a Collector.
type Config struct {
	ProcessingSampleCap int
	QueueDepthSampleCap int

	// ExportInterval is how often Export is invoked automatically by Run.
	// Zero disables the background export loop; callers may still invoke
	// Export manually (e.g. from an HTTP handler).
	ExportInterval time.Duration

	QueueDepth QueueDepthFunc
}

func (c Config) withDefaults() Config {
	if c.ProcessingSampleCap <= 0 {
		c.ProcessingSampleCap = DefaultSampleCapacity
	}
	if c.QueueDepthSampleCap <= 0 {
		c.QueueDepthSampleCap = DefaultQueueDepthCapacity
	}
	return c
}

// ExportFunc receives a Snapshot for each actor type on every export tick.
type ExportFunc func(Snapshot)

// Collector accumulates bounded processing-time and queue-depth samples
// per actor type and periodically hands them to one or more ExportFuncs
// (e.g. the Prometheus exporter in promexport.go).
type Collector struct {
	cfg Config

	mu      sync.Mutex
	byType  map[string]*sampleSet
	exports []ExportFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector constructs a Collector. Call Run to start its periodic
// export loop (a no-op if cfg.ExportInterval is zero).
func NewCollector(cfg Config) *Collector {
	cfg = cfg.withDefaults()
	return &Collector{
		cfg:    cfg,
		byType: make(map[string]*sampleSet),
		stopCh: make(chan struct{}),
	}
}

// AddExporter registers fn to be called with every actor type's Snapshot
// on each export tick.
func (c *Collector) AddExporter(fn ExportFunc) {
	c.mu.Lock()
	c.exports = append(c.exports, fn)
	c.mu.Unlock()
}

func (c *Collector) setFor(actorType string) *sampleSet {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.byType[actorType]
	if !ok {
		s = newSampleSet(c.cfg.ProcessingSampleCap, c.cfg.QueueDepthSampleCap)
		c.byType[actorType] = s
	}
	return s
}

func (c *Collector) recordProcessing(actorType string, d time.Duration) {
	c.setFor(actorType).processing.add(float64(d.Microseconds()))
}

func (c *Collector) recordQueueDepth(actorType string, depth int) {
	c.setFor(actorType).queueDepth.add(float64(depth))
}

// Snapshot returns the current aggregate stats for one actor type.
func (c *Collector) Snapshot(actorType string) Snapshot {
	s := c.setFor(actorType)
	return Snapshot{
		ActorType:  actorType,
		Processing: computeStats(s.processing.snapshot()),
		QueueDepth: computeStats(s.queueDepth.snapshot()),
	}
}

// ActorTypes returns every actor type the collector has samples for.
func (c *Collector) ActorTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.byType))
	for t := range c.byType {
		out = append(out, t)
	}
	return out
}

// Export invokes every registered ExportFunc once per known actor type.
// Called automatically by Run on cfg.ExportInterval, and may also be
// invoked directly (e.g. by a /metrics scrape handler).
func (c *Collector) Export() {
	c.mu.Lock()
	exporters := append([]ExportFunc{}, c.exports...)
	c.mu.Unlock()

	for _, t := range c.ActorTypes() {
		snap := c.Snapshot(t)
		for _, fn := range exporters {
			fn(snap)
		}
	}
}

// Run starts the periodic export loop in its own goroutine; it returns
// immediately. A no-op if cfg.ExportInterval is zero.
func (c *Collector) Run() {
	if c.cfg.ExportInterval <= 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.ExportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Export()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts the periodic export loop. Safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Interceptor builds the actor.Interceptor that wires this Collector into
// the pipeline: beforeReceive stamps a start time, afterProcess/onError
// compute elapsed processing time and (if cfg.QueueDepth is set) sample
// the target's current mailbox depth.
func (c *Collector) Interceptor(id string, priority int) *actor.Interceptor {
	mark := func(_ context.Context, env actor.Envelope, _ actor.Address, mc *actor.MessageContext) (actor.Envelope, bool) {
		mc.Metadata[startTimeKey] = time.Now()
		return env, true
	}

	finish := func(actorType string, self actor.Address, mc *actor.MessageContext) {
		if start, ok := mc.Metadata[startTimeKey].(time.Time); ok {
			c.recordProcessing(actorType, time.Since(start))
		}
		if c.cfg.QueueDepth != nil {
			if depth, ok := c.cfg.QueueDepth(self); ok {
				c.recordQueueDepth(actorType, depth)
			}
		}
	}

	return &actor.Interceptor{
		ID:       id,
		Priority: priority,
		Scope:    actor.ScopeGlobal,
		Enabled:  true,

		BeforeReceive: mark,
		AfterProcess: func(ctx context.Context, env actor.Envelope, _ actor.Plan, self actor.Address, mc *actor.MessageContext) {
			finish(self.Type, self, mc)
		},
		OnError: func(ctx context.Context, err error, env actor.Envelope, self actor.Address, mc *actor.MessageContext) {
			finish(self.Type, self, mc)
		},
	}
}
