// Package directory implements spec.md's component C8: address-to-location
// resolution backed by an LRU, TTL-bounded cache in front of an optional
// authoritative store.
package directory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btclog/v2"

	"github.com/nimbus-actors/nimbus/internal/actor"
)

// log is this package's subsystem logger, wired in by the daemon the same
// way every other subsystem logger is.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the subsystem logger used by the directory package.
func UseLogger(logger btclog.Logger) { log = logger }

// Location describes where an actor lives: which node hosts it and, for
// non-local actors, which transport and endpoint reach it. Node "" means
// "this process" (the local transport resolves it directly).
type Location struct {
	Node      string
	Transport string
	Endpoint  string
}

// Entry is a read-only snapshot of one directory record, matching
// spec.md §3's Directory entry shape.
type Entry struct {
	Address  actor.Address
	Location Location
	TTL      time.Duration
	LastUsed time.Time
}

// ChangeKind distinguishes the two events SubscribeToChanges delivers.
type ChangeKind int

const (
	ChangeRegistered ChangeKind = iota
	ChangeUnregistered
)

// Change is delivered to change subscribers on register/unregister.
type Change struct {
	Kind     ChangeKind
	Address  actor.Address
	Location Location
}

// ChangeListener receives directory Change notifications.
type ChangeListener func(Change)

// Store is the authoritative backing store consulted on a cache miss. A
// Directory may run with Store == nil, in which case the cache itself is
// authoritative (suitable for single-node deployments and tests).
type Store interface {
	Get(ctx context.Context, addr actor.Address) (Location, bool, error)
	Put(ctx context.Context, addr actor.Address, loc Location) error
	Delete(ctx context.Context, addr actor.Address) error
}

// Config configures a Directory.
type Config struct {
	// DefaultTTL is used for entries registered without an explicit TTL.
	DefaultTTL time.Duration

	// MaxCacheSize bounds the LRU cache; the least-recently-used entry
	// is evicted once a new key would exceed it.
	MaxCacheSize int

	// CleanupInterval is how often the background tick scans for and
	// expires entries past their TTL. Zero disables the background tick;
	// expiry is then only enforced lazily on Lookup.
	CleanupInterval time.Duration

	// Store is the optional authoritative backing store.
	Store Store
}

func (c Config) withDefaults() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 5 * time.Minute
	}
	if c.MaxCacheSize <= 0 {
		c.MaxCacheSize = 10_000
	}
	return c
}

type cacheEntry struct {
	loc      Location
	expires  time.Time
	lastUsed time.Time
}

// Directory resolves Addresses to Locations through an LRU, TTL-bounded
// cache backed by an optional authoritative Store.
type Directory struct {
	cfg Config

	mu    sync.Mutex
	cache *lruCache

	subsMu sync.RWMutex
	subs   map[uint64]ChangeListener
	nextID atomic.Uint64

	hits   atomic.Uint64
	misses atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Directory from cfg and starts its background cleanup
// tick, if configured.
func New(cfg Config) *Directory {
	cfg = cfg.withDefaults()
	d := &Directory{
		cfg:    cfg,
		cache:  newLRUCache(cfg.MaxCacheSize),
		subs:   make(map[uint64]ChangeListener),
		stopCh: make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		d.wg.Add(1)
		go d.cleanupLoop()
	}

	return d
}

// Close stops the background cleanup tick. Safe to call more than once.
func (d *Directory) Close() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

func (d *Directory) cleanupLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.evictExpired()
		case <-d.stopCh:
			return
		}
	}
}

func (d *Directory) evictExpired() {
	now := time.Now()

	d.mu.Lock()
	var expired []string
	for _, e := range d.cache.all() {
		if now.After(e.value.expires) {
			expired = append(expired, e.key)
		}
	}
	for _, key := range expired {
		d.cache.remove(key)
	}
	d.mu.Unlock()
}

// Register records loc as addr's location, using the directory's default
// TTL, overwriting any existing entry (last-write-wins), and emits a
// ChangeRegistered notification.
func (d *Directory) Register(ctx context.Context, addr actor.Address, loc Location) error {
	return d.RegisterWithTTL(ctx, addr, loc, d.cfg.DefaultTTL)
}

// RegisterWithTTL is Register with an explicit per-entry TTL.
func (d *Directory) RegisterWithTTL(ctx context.Context, addr actor.Address, loc Location, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = d.cfg.DefaultTTL
	}

	now := time.Now()
	d.mu.Lock()
	d.cache.put(addr.Path(), cacheEntry{loc: loc, expires: now.Add(ttl), lastUsed: now})
	d.mu.Unlock()

	if d.cfg.Store != nil {
		if err := d.cfg.Store.Put(ctx, addr, loc); err != nil {
			log.WarnS(ctx, "directory: failed to persist registration", err,
				"address", addr.Path())
		}
	}

	d.notify(Change{Kind: ChangeRegistered, Address: addr, Location: loc})
	return nil
}

// Unregister removes addr from the cache and the authoritative store, and
// emits a ChangeUnregistered notification.
func (d *Directory) Unregister(ctx context.Context, addr actor.Address) error {
	d.mu.Lock()
	d.cache.remove(addr.Path())
	d.mu.Unlock()

	if d.cfg.Store != nil {
		if err := d.cfg.Store.Delete(ctx, addr); err != nil {
			log.WarnS(ctx, "directory: failed to delete registration", err,
				"address", addr.Path())
		}
	}

	d.notify(Change{Kind: ChangeUnregistered, Address: addr})
	return nil
}

// Lookup resolves addr's Location. It hits the local cache when a
// non-expired entry exists; otherwise it falls through to the authoritative
// Store (if configured) and repopulates the cache on a store hit.
func (d *Directory) Lookup(ctx context.Context, addr actor.Address) (Location, error) {
	key := addr.Path()
	now := time.Now()

	d.mu.Lock()
	if entry, ok := d.cache.get(key); ok && now.Before(entry.expires) {
		entry.lastUsed = now
		d.cache.put(key, entry)
		d.mu.Unlock()
		d.hits.Add(1)
		return entry.loc, nil
	}
	// A present-but-expired or corrupt entry is silently discarded; the
	// store is re-consulted as if it were a plain miss.
	d.cache.remove(key)
	d.mu.Unlock()

	d.misses.Add(1)

	if d.cfg.Store == nil {
		return Location{}, actor.ErrNoSuchActor
	}

	loc, found, err := d.cfg.Store.Get(ctx, addr)
	if err != nil {
		log.WarnS(ctx, "directory: store lookup failed", err, "address", key)
		return Location{}, actor.ErrNoSuchActor
	}
	if !found {
		return Location{}, actor.ErrNoSuchActor
	}

	d.mu.Lock()
	d.cache.put(key, cacheEntry{loc: loc, expires: now.Add(d.cfg.DefaultTTL), lastUsed: now})
	d.mu.Unlock()

	return loc, nil
}

// ListByType returns every cached address of the given type.
func (d *Directory) ListByType(typ string) []actor.Address {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []actor.Address
	for _, e := range d.cache.all() {
		addr, err := actor.ParseAddress(e.key)
		if err == nil && addr.Type == typ {
			out = append(out, addr)
		}
	}
	return out
}

// GetAll returns every cached Entry.
func (d *Directory) GetAll() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Entry, 0, d.cache.len())
	for _, e := range d.cache.all() {
		addr, err := actor.ParseAddress(e.key)
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Address:  addr,
			Location: e.value.loc,
			TTL:      e.value.expires.Sub(e.value.lastUsed),
			LastUsed: e.value.lastUsed,
		})
	}
	return out
}

// SubscribeToChanges registers listener for register/unregister
// notifications and returns an idempotent unsubscribe function.
func (d *Directory) SubscribeToChanges(listener ChangeListener) (unsubscribe func()) {
	id := d.nextID.Add(1)

	d.subsMu.Lock()
	d.subs[id] = listener
	d.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.subsMu.Lock()
			delete(d.subs, id)
			d.subsMu.Unlock()
		})
	}
}

func (d *Directory) notify(change Change) {
	d.subsMu.RLock()
	snapshot := make([]ChangeListener, 0, len(d.subs))
	for _, l := range d.subs {
		snapshot = append(snapshot, l)
	}
	d.subsMu.RUnlock()

	for _, l := range snapshot {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.WarnS(context.Background(),
						"directory: change listener panicked", nil,
						"panic", rec)
				}
			}()
			l(change)
		}()
	}
}

// Stats is a read-only snapshot of cache performance counters.
type Stats struct {
	Hits     uint64
	Misses   uint64
	Size     int
	Capacity int
}

// HitRate returns Hits / (Hits + Misses), or 0 if there have been no
// lookups yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns a snapshot of the directory's cache counters.
func (d *Directory) Stats() Stats {
	d.mu.Lock()
	size := d.cache.len()
	d.mu.Unlock()

	return Stats{
		Hits:     d.hits.Load(),
		Misses:   d.misses.Load(),
		Size:     size,
		Capacity: d.cfg.MaxCacheSize,
	}
}
