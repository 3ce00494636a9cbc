package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
)

var (
	// ErrInvalidWindow is returned for freshness windows or timeouts <= 0.
	ErrInvalidWindow = errors.New("freshness window must be positive")
	// ErrUnknownKind is returned when no collector is registered for a kind.
	ErrUnknownKind = errors.New("no collector registered for kind")
	// ErrCollectorTimeout is returned when a collector exceeds its deadline.
	// It is treated like an unavailable source.
	ErrCollectorTimeout = fmt.Errorf("collector timed out: %w", firewall.ErrUnavailable)
	// ErrCollectorPanic is returned when a collector panics.
	ErrCollectorPanic = errors.New("collector panicked")
)

const (
	DefaultTimeout       = 3 * time.Second
	DefaultPersistMaxAge = time.Hour
)

// Collector produces a fresh snapshot. Implementations must honor ctx.
type Collector interface {
	Collect(ctx context.Context) (*Snapshot, error)
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc func(ctx context.Context) (*Snapshot, error)

// Collect calls f(ctx).
func (f CollectorFunc) Collect(ctx context.Context) (*Snapshot, error) {
	return f(ctx)
}

// SnapshotStore persists the last good snapshot of each kind.
type SnapshotStore interface {
	SaveSnapshot(kind string, takenAt time.Time, data []byte) error
	LoadSnapshot(kind string) (time.Time, []byte, error)
}

type entry struct {
	mu        sync.RWMutex
	collector Collector
	window    time.Duration
	snapshot  *Snapshot
	lastErr   error
	// invalidated forces the next lookup to refresh regardless of age.
	invalidated bool
	generation  uint64
	applied     uint64
}

// Cache serves snapshots per kind, refreshing through the registered
// collector only when the cached value is older than the window.
type Cache struct {
	mu      sync.RWMutex
	entries map[Kind]*entry
	group   singleflight.Group

	clock         clock.Clock
	timeout       time.Duration
	store         SnapshotStore
	persistMaxAge time.Duration
	metrics       *metrics.Registry
	log           *logging.Logger

	pending []registration
}

type registration struct {
	kind      Kind
	collector Collector
	window    time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithCollector registers the collector and default window for kind.
func WithCollector(kind Kind, c Collector, window time.Duration) Option {
	return func(cache *Cache) {
		cache.pending = append(cache.pending, registration{kind, c, window})
	}
}

// WithClock sets the time source used for freshness.
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// WithTimeout bounds each collector call.
func WithTimeout(d time.Duration) Option {
	return func(cache *Cache) { cache.timeout = d }
}

// WithStore persists last-good snapshots and restores them in Warm.
func WithStore(s SnapshotStore, maxAge time.Duration) Option {
	return func(cache *Cache) {
		cache.store = s
		if maxAge > 0 {
			cache.persistMaxAge = maxAge
		}
	}
}

// WithMetrics records cache behaviour in r.
func WithMetrics(r *metrics.Registry) Option {
	return func(cache *Cache) { cache.metrics = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(cache *Cache) { cache.log = l }
}

// NewCache builds a cache. Misconfigured windows or timeouts are rejected here
// so that lookups never fail for configuration reasons.
func NewCache(opts ...Option) (*Cache, error) {
	c := &Cache{
		entries:       make(map[Kind]*entry),
		clock:         clock.RealClock{},
		timeout:       DefaultTimeout,
		persistMaxAge: DefaultPersistMaxAge,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = clock.OrReal(c.clock)
	if c.log == nil {
		c.log = logging.WithComponent("stats")
	}
	if c.timeout <= 0 {
		return nil, fmt.Errorf("collector timeout %s: %w", c.timeout, ErrInvalidWindow)
	}
	for _, r := range c.pending {
		if r.collector == nil {
			return nil, fmt.Errorf("kind %s: nil collector", r.kind)
		}
		if r.window <= 0 {
			return nil, fmt.Errorf("kind %s window %s: %w", r.kind, r.window, ErrInvalidWindow)
		}
		c.entries[r.kind] = &entry{collector: r.collector, window: r.window}
	}
	c.pending = nil
	return c, nil
}

// Kinds returns the registered kinds, sorted.
func (c *Cache) Kinds() []Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]Kind, 0, len(c.entries))
	for k := range c.entries {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Window returns the configured window for kind.
func (c *Cache) Window(kind Kind) (time.Duration, bool) {
	e, ok := c.lookup(kind)
	if !ok {
		return 0, false
	}
	return e.window, true
}

func (c *Cache) lookup(kind Kind) (*entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[kind]
	return e, ok
}

// Get is GetOrRefresh with the kind's configured window.
func (c *Cache) Get(ctx context.Context, kind Kind) (Result, error) {
	e, ok := c.lookup(kind)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", kind, ErrUnknownKind)
	}
	return c.GetOrRefresh(ctx, kind, e.window)
}

// GetOrRefresh returns the cached snapshot if it is younger than window,
// otherwise refreshes it. Concurrent callers for the same kind share one
// collector call. A failed refresh keeps the previous snapshot and reports
// StateStaleWithError. An error is returned only when there is nothing to
// serve or the request itself is invalid.
func (c *Cache) GetOrRefresh(ctx context.Context, kind Kind, window time.Duration) (Result, error) {
	if window <= 0 {
		return Result{}, fmt.Errorf("kind %s window %s: %w", kind, window, ErrInvalidWindow)
	}
	e, ok := c.lookup(kind)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", kind, ErrUnknownKind)
	}

	if res, fresh := c.result(e, window); fresh {
		c.metrics.RecordCacheRequest(string(kind), "hit")
		c.metrics.SetSnapshotAge(string(kind), res.Age)
		return res, nil
	}

	ch := c.group.DoChan(string(kind), func() (any, error) {
		c.refresh(kind, e, window)
		return nil, nil
	})

	select {
	case <-ch:
		c.metrics.RecordCacheRequest(string(kind), "refresh")
	case <-ctx.Done():
		// The flight keeps running and stores its result; this caller
		// settles for whatever is cached now.
		c.metrics.RecordCacheRequest(string(kind), "stale")
		res, _ := c.result(e, window)
		if res.Snapshot == nil {
			return res, ctx.Err()
		}
		if res.Err == nil {
			res.Err = ctx.Err()
		}
		return res, nil
	}

	res, _ := c.result(e, window)
	c.metrics.SetSnapshotAge(string(kind), res.Age)
	if res.Snapshot == nil {
		err := res.Err
		if err == nil {
			err = fmt.Errorf("%s: no snapshot collected", kind)
		}
		return res, err
	}
	return res, nil
}

// Peek returns the cached state without refreshing.
func (c *Cache) Peek(kind Kind) (Result, bool) {
	e, ok := c.lookup(kind)
	if !ok {
		return Result{}, false
	}
	res, _ := c.result(e, e.window)
	return res, true
}

// Invalidate forces the next lookup of kind to refresh. A refresh already in
// flight still stores its result, but does not count as fresh.
func (c *Cache) Invalidate(kind Kind) {
	e, ok := c.lookup(kind)
	if !ok {
		return
	}
	e.mu.Lock()
	e.invalidated = true
	e.generation++
	e.mu.Unlock()
	c.group.Forget(string(kind))
}

// InvalidateAll invalidates every registered kind.
func (c *Cache) InvalidateAll() {
	for _, k := range c.Kinds() {
		c.Invalidate(k)
	}
}

func (c *Cache) result(e *entry, window time.Duration) (Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	res := Result{Snapshot: e.snapshot, Err: e.lastErr}
	if e.snapshot == nil {
		res.State = StateEmpty
		return res, false
	}
	res.Age = clock.Age(c.clock, e.snapshot.Timestamp)
	fresh := !e.invalidated && res.Age < window
	switch {
	case e.lastErr != nil:
		res.State = StateStaleWithError
	case fresh:
		res.State = StateFresh
	default:
		res.State = StateStale
	}
	return res, fresh && e.lastErr == nil
}

// refresh runs inside the flight. Freshness is checked again because a
// flight that finished just before this one started may have stored a
// snapshot the caller never saw.
func (c *Cache) refresh(kind Kind, e *entry, window time.Duration) {
	if _, fresh := c.result(e, window); fresh {
		return
	}
	e.mu.RLock()
	gen := e.generation
	e.mu.RUnlock()

	start := time.Now()
	snap, err := c.collect(e.collector)
	elapsed := time.Since(start)

	e.mu.Lock()
	if gen < e.applied {
		// A newer flight already stored its result.
		e.mu.Unlock()
		return
	}
	e.applied = gen
	if err != nil {
		e.lastErr = err
		e.mu.Unlock()
		c.metrics.RecordRefresh(string(kind), outcome(err), elapsed)
		c.log.Warn("stats refresh failed, serving last good snapshot", "kind", kind, "error", err)
		return
	}
	snap.Kind = kind
	if snap.Timestamp.IsZero() {
		snap.Timestamp = c.clock.Now()
	}
	e.snapshot = snap
	e.lastErr = nil
	if gen == e.generation {
		e.invalidated = false
	}
	e.mu.Unlock()

	c.metrics.RecordRefresh(string(kind), "success", elapsed)
	c.log.Debug("stats refreshed", "kind", kind, "duration", elapsed)
	c.persist(kind, snap)
}

// collect runs the collector under the cache's own deadline, detached from
// any caller context, and converts panics into errors.
func (c *Cache) collect(col Collector) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	type collected struct {
		snap *Snapshot
		err  error
	}
	done := make(chan collected, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- collected{err: fmt.Errorf("%w: %v", ErrCollectorPanic, r)}
			}
		}()
		snap, err := col.Collect(ctx)
		done <- collected{snap, err}
	}()

	select {
	case o := <-done:
		if o.err == nil && o.snap == nil {
			return nil, errors.New("collector returned no snapshot")
		}
		if errors.Is(o.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrCollectorTimeout, c.timeout)
		}
		return o.snap, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w after %s", ErrCollectorTimeout, c.timeout)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrCollectorTimeout):
		return "timeout"
	case errors.Is(err, ErrCollectorPanic):
		return "panic"
	default:
		return "failure"
	}
}

func (c *Cache) persist(kind Kind, snap *Snapshot) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		c.log.Warn("failed to encode snapshot", "kind", kind, "error", err)
		return
	}
	if err := c.store.SaveSnapshot(string(kind), snap.Timestamp, data); err != nil {
		c.log.Warn("failed to persist snapshot", "kind", kind, "error", err)
	}
}

// Warm loads persisted snapshots younger than the store's max age. They are
// served as stale until the first successful refresh.
func (c *Cache) Warm() int {
	if c.store == nil {
		return 0
	}
	loaded := 0
	for _, kind := range c.Kinds() {
		takenAt, data, err := c.store.LoadSnapshot(string(kind))
		if err != nil {
			continue
		}
		if clock.Age(c.clock, takenAt) >= c.persistMaxAge {
			c.log.Debug("persisted snapshot too old", "kind", kind, "taken_at", takenAt)
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			c.log.Warn("discarding unreadable persisted snapshot", "kind", kind, "error", err)
			continue
		}
		snap.Kind = kind
		snap.Timestamp = takenAt

		e, _ := c.lookup(kind)
		e.mu.Lock()
		if e.snapshot == nil {
			e.snapshot = &snap
			e.invalidated = true
			loaded++
		}
		e.mu.Unlock()
	}
	return loaded
}
