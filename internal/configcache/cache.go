// Package configcache is the multi-tier, versioned cache of remote project
// configuration. Lookups walk the hot (in-process LRU), distributed
// (Redis), and persistent (SQLite) tiers before fetching from the remote
// tracker; a successful fetch is written through to every tier.
//
// Versions per (organization, project) only ever increase: every tier
// rejects an equal-or-lower write, and the cache never returns a snapshot
// older than one it has already returned for the same key.
package configcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/steveyegge/foundry/internal/clock"
	"github.com/steveyegge/foundry/internal/config"
	"github.com/steveyegge/foundry/internal/telemetry"
	"github.com/steveyegge/foundry/internal/types"
)

// ErrClosed is returned by operations on a closed Cache.
var ErrClosed = errors.New("configuration cache is closed")

// DefaultTTL is used when no TTL option is given.
const DefaultTTL = time.Hour

// maxVersionRetries bounds how often a fetched snapshot is re-versioned
// after losing a write race to another process.
const maxVersionRetries = 3

// Lookup is the result of a cache read.
type Lookup struct {
	Snapshot *types.Snapshot
	// Stale is set when the snapshot is past its TTL or invalidated and
	// could not be refreshed before returning.
	Stale bool
	// Source is the tier that supplied the snapshot, or TierRemote.
	Source string
}

// Option configures a Cache.
type Option func(*Cache)

// WithDistributed adds a shared tier between hot and persistent.
func WithDistributed(t Tier) Option { return func(c *Cache) { c.distributed = t } }

// WithPersistent adds the durable tier.
func WithPersistent(t Tier) Option { return func(c *Cache) { c.persistent = t } }

// WithHotSize bounds the in-process tier.
func WithHotSize(n int) Option { return func(c *Cache) { c.hotSize = n } }

// WithTTL sets the TTL stamped on fetched snapshots. Zero means every
// snapshot is born stale.
func WithTTL(d time.Duration) Option { return func(c *Cache) { c.ttl = d } }

// WithPolicy selects soft- or hard-stale behavior.
func WithPolicy(p config.StalePolicy) Option { return func(c *Cache) { c.policy = p } }

// WithTimeouts sets per-tier deadlines.
func WithTimeouts(t config.TierTimeouts) Option { return func(c *Cache) { c.timeouts = t } }

// WithClock injects the time source.
func WithClock(clk clock.Clock) Option { return func(c *Cache) { c.clock = clk } }

// WithLogger sets the logger. Nil discards.
func WithLogger(l *slog.Logger) Option { return func(c *Cache) { c.logger = l } }

// WithMetrics sets the OTel instruments.
func WithMetrics(m *telemetry.CacheMetrics) Option { return func(c *Cache) { c.metrics = m } }

// Cache is an explicitly constructed, explicitly closed configuration
// cache. It is safe for concurrent use.
type Cache struct {
	source      StructureSource
	def         *types.WorkflowDefinition
	hot         *HotTier
	hotSize     int
	distributed Tier
	persistent  Tier
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *telemetry.CacheMetrics
	timeouts    config.TierTimeouts

	settingsMu sync.RWMutex
	ttl        time.Duration
	policy     config.StalePolicy

	group singleflight.Group

	mu       sync.Mutex
	versions map[types.SnapshotKey]int64 // highest version observed per key

	stats counters

	baseCtx context.Context
	cancel  context.CancelFunc
	lifeMu  sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New builds a cache that fetches from source and maps structures
// through def.
func New(source StructureSource, def *types.WorkflowDefinition, opts ...Option) (*Cache, error) {
	if source == nil {
		return nil, fmt.Errorf("configcache: nil structure source")
	}
	if def == nil {
		return nil, fmt.Errorf("configcache: nil workflow definition")
	}
	c := &Cache{
		source:   source,
		def:      def,
		hotSize:  DefaultHotSize,
		clock:    clock.Real(),
		ttl:      DefaultTTL,
		policy:   config.PolicySoft,
		versions: make(map[types.SnapshotKey]int64),
		stats:    newCounters(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	hot, err := NewHotTier(c.hotSize)
	if err != nil {
		return nil, err
	}
	c.hot = hot
	c.baseCtx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Definition returns the workflow definition snapshots are built from.
func (c *Cache) Definition() *types.WorkflowDefinition { return c.def }

// TTL returns the TTL applied to newly fetched snapshots.
func (c *Cache) TTL() time.Duration {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	return c.ttl
}

// SetTTL changes the TTL for future fetches.
func (c *Cache) SetTTL(d time.Duration) {
	c.settingsMu.Lock()
	c.ttl = d
	c.settingsMu.Unlock()
}

// Policy returns the current stale policy.
func (c *Cache) Policy() config.StalePolicy {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	return c.policy
}

// SetPolicy switches between soft- and hard-stale behavior.
func (c *Cache) SetPolicy(p config.StalePolicy) {
	c.settingsMu.Lock()
	c.policy = p
	c.settingsMu.Unlock()
}

// Get returns the freshest available snapshot for key.
func (c *Cache) Get(ctx context.Context, key types.SnapshotKey) (*types.Snapshot, error) {
	l, err := c.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	return l.Snapshot, nil
}

type candidate struct {
	snap        *types.Snapshot
	tier        string
	invalidated bool
}

// Lookup walks the tiers and, when nothing fresh is found, either serves
// the best stale entry while refreshing in the background (soft policy)
// or blocks on a single-flight fetch (hard policy, invalidated entries,
// or nothing cached).
func (c *Cache) Lookup(ctx context.Context, key types.SnapshotKey) (Lookup, error) {
	if err := key.Validate(); err != nil {
		return Lookup{}, err
	}
	if c.isClosing() {
		return Lookup{}, ErrClosed
	}
	c.stats.requests.Add(1)
	now := c.clock.Now()
	floor := c.highwater(key)

	var best *candidate
	for _, t := range c.tiers() {
		e, err := c.tierGet(ctx, t, key)
		if err != nil {
			continue
		}
		if e.Snapshot.Version < floor {
			c.metrics.Lookup(ctx, t.Name(), "behind")
			continue
		}
		if !e.Invalidated && e.Snapshot.FreshAt(now) {
			c.stats.hit(t.Name())
			c.metrics.Lookup(ctx, t.Name(), "hit")
			c.backfill(ctx, t, e.Snapshot)
			c.observe(key, e.Snapshot.Version)
			return Lookup{Snapshot: e.Snapshot, Source: t.Name()}, nil
		}
		c.metrics.Lookup(ctx, t.Name(), "stale")
		switch {
		case best == nil || e.Snapshot.Version > best.snap.Version:
			best = &candidate{snap: e.Snapshot, tier: t.Name(), invalidated: e.Invalidated}
		case e.Snapshot.Version == best.snap.Version && e.Invalidated:
			best.invalidated = true
		}
	}
	c.stats.misses.Add(1)

	if best != nil && !best.invalidated && c.Policy() == config.PolicySoft {
		c.refreshAsync(key)
		return c.serveStale(ctx, key, best, "soft"), nil
	}

	snap, err := c.fetchShared(ctx, key, false)
	if err == nil {
		return Lookup{Snapshot: snap, Source: TierRemote}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Lookup{}, ctxErr
	}
	if best != nil {
		c.logger.Warn("configuration fetch failed, serving stale snapshot",
			"org", key.Organization, "project", key.Project,
			"version", best.snap.Version, "err", err)
		return c.serveStale(ctx, key, best, "fetch_failed"), nil
	}
	return Lookup{}, fmt.Errorf("%w: %s: %v", types.ErrConfigUnavailable, key, err)
}

func (c *Cache) serveStale(ctx context.Context, key types.SnapshotKey, best *candidate, reason string) Lookup {
	c.stats.staleServed.Add(1)
	c.metrics.StaleServed(ctx, reason)
	if !best.invalidated && best.tier != TierHot {
		_ = c.hot.Put(ctx, best.snap)
	}
	c.observe(key, best.snap.Version)
	return Lookup{Snapshot: best.snap, Stale: true, Source: best.tier}
}

// Put stores s in every tier. It fails with *types.StaleWriteError when
// s.Version is not greater than the newest version known for its key.
func (c *Cache) Put(ctx context.Context, s *types.Snapshot) error {
	if s == nil {
		return fmt.Errorf("configcache: nil snapshot")
	}
	key := s.Key()
	if err := key.Validate(); err != nil {
		return err
	}
	if c.isClosing() {
		return ErrClosed
	}
	if cur := c.seededHighwater(ctx, key); s.Version <= cur {
		return &types.StaleWriteError{Key: key, Current: cur, Attempted: s.Version}
	}
	return c.writeThrough(ctx, s)
}

// Invalidate makes the next Lookup for key treat every tier's entry as
// hard-stale. Tier failures are joined; the remaining tiers are still
// invalidated.
func (c *Cache) Invalidate(ctx context.Context, key types.SnapshotKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	var errs []error
	for _, t := range c.tiers() {
		tctx, cancel := c.tierContext(ctx, t.Name())
		if err := t.Invalidate(tctx, key); err != nil {
			errs = append(errs, fmt.Errorf("%s tier: %w", t.Name(), err))
		}
		cancel()
	}
	c.stats.invalidations.Add(1)
	c.logger.Info("configuration invalidated", "org", key.Organization, "project", key.Project)
	return errors.Join(errs...)
}

// Refresh forces a fetch for key, bypassing every tier.
func (c *Cache) Refresh(ctx context.Context, key types.SnapshotKey) (*types.Snapshot, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return c.fetchShared(ctx, key, true)
}

// Close stops background refreshes and waits for in-flight fetches. It
// does not close the tiers.
func (c *Cache) Close() error {
	c.lifeMu.Lock()
	if c.closing {
		c.lifeMu.Unlock()
		return nil
	}
	c.closing = true
	c.lifeMu.Unlock()
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Cache) isClosing() bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.closing
}

// track registers a background goroutine unless the cache is closing.
func (c *Cache) track() bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.closing {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *Cache) tiers() []Tier {
	tiers := []Tier{c.hot}
	if c.distributed != nil {
		tiers = append(tiers, c.distributed)
	}
	if c.persistent != nil {
		tiers = append(tiers, c.persistent)
	}
	return tiers
}

func (c *Cache) tierContext(ctx context.Context, tier string) (context.Context, context.CancelFunc) {
	var d time.Duration
	switch tier {
	case TierHot:
		d = c.timeouts.Hot
	case TierDistributed:
		d = c.timeouts.Distributed
	case TierPersistent:
		d = c.timeouts.Persistent
	case TierRemote:
		d = c.timeouts.Remote
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (c *Cache) tierGet(ctx context.Context, t Tier, key types.SnapshotKey) (Entry, error) {
	tctx, cancel := c.tierContext(ctx, t.Name())
	defer cancel()
	e, err := t.Get(tctx, key)
	if err == nil && e.Snapshot == nil {
		err = ErrMiss
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrMiss):
		c.metrics.Lookup(ctx, t.Name(), "miss")
	default:
		c.stats.tierErrors.Add(1)
		c.metrics.Lookup(ctx, t.Name(), "error")
		c.logger.Debug("cache tier lookup failed", "tier", t.Name(), "key", key.String(), "err", err)
	}
	return e, err
}

// backfill copies a hit from a slower tier into the faster ones.
func (c *Cache) backfill(ctx context.Context, from Tier, s *types.Snapshot) {
	for _, t := range c.tiers() {
		if t.Name() == from.Name() {
			return
		}
		tctx, cancel := c.tierContext(ctx, t.Name())
		if err := t.Put(tctx, s); err != nil && !errors.Is(err, types.ErrStaleWriteRejected) {
			c.logger.Debug("cache backfill failed", "tier", t.Name(), "key", s.Key().String(), "err", err)
		}
		cancel()
	}
}

// writeThrough stores s slowest tier first so the durable version check
// runs before faster tiers see the snapshot. Stale writes abort; other
// distributed or persistent failures are logged and skipped.
func (c *Cache) writeThrough(ctx context.Context, s *types.Snapshot) error {
	ordered := []Tier{}
	if c.persistent != nil {
		ordered = append(ordered, c.persistent)
	}
	if c.distributed != nil {
		ordered = append(ordered, c.distributed)
	}
	ordered = append(ordered, c.hot)

	for _, t := range ordered {
		tctx, cancel := c.tierContext(ctx, t.Name())
		err := t.Put(tctx, s)
		cancel()
		if err == nil {
			continue
		}
		var swe *types.StaleWriteError
		if errors.As(err, &swe) {
			c.observe(s.Key(), swe.Current)
			return err
		}
		c.stats.tierErrors.Add(1)
		c.logger.Warn("cache tier write failed", "tier", t.Name(), "key", s.Key().String(), "version", s.Version, "err", err)
	}
	c.observe(s.Key(), s.Version)
	return nil
}

func (c *Cache) refreshAsync(key types.SnapshotKey) {
	if !c.track() {
		return
	}
	go func() {
		defer c.wg.Done()
		if _, err := c.fetchShared(c.baseCtx, key, false); err != nil && c.baseCtx.Err() == nil {
			c.logger.Warn("background configuration refresh failed",
				"org", key.Organization, "project", key.Project, "err", err)
		}
	}()
}

// fetchShared coalesces concurrent fetches of one key. The fetch itself
// runs under the cache's lifetime context and the remote timeout, so a
// cancelled caller stops waiting without aborting the shared fetch.
// Forced fetches coalesce only with each other and never reuse a fresh
// hot entry.
func (c *Cache) fetchShared(ctx context.Context, key types.SnapshotKey, force bool) (*types.Snapshot, error) {
	flight := key.String()
	if force {
		flight += "#refresh"
	}
	ch := c.group.DoChan(flight, func() (interface{}, error) {
		return c.fetchAndStore(key, force)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*types.Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) fetchAndStore(key types.SnapshotKey, force bool) (*types.Snapshot, error) {
	if !c.track() {
		return nil, ErrClosed
	}
	defer c.wg.Done()

	// A flight that starts just after another one finished finds its
	// result in the hot tier.
	if e, err := c.hot.Get(c.baseCtx, key); !force && err == nil && !e.Invalidated &&
		e.Snapshot.FreshAt(c.clock.Now()) && e.Snapshot.Version >= c.highwater(key) {
		return e.Snapshot, nil
	}

	ctx, cancel := c.tierContext(c.baseCtx, TierRemote)
	defer cancel()

	c.stats.fetches.Add(1)
	raw, err := c.source.FetchStructure(ctx, key)
	c.metrics.Fetch(ctx, err)
	if err != nil {
		c.stats.fetchErrors.Add(1)
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	s, err := c.storeStructure(ctx, key, raw)
	if err != nil {
		c.stats.fetchErrors.Add(1)
		return nil, err
	}
	c.stats.hit(TierRemote)
	c.logger.Debug("configuration fetched", "org", key.Organization, "project", key.Project, "version", s.Version, "hash", s.Hash)
	return s, nil
}

// storeStructure builds a snapshot from raw at the next version and
// writes it through every tier, re-versioning if another writer got
// there first.
func (c *Cache) storeStructure(ctx context.Context, key types.SnapshotKey, raw *types.RawStructure) (*types.Snapshot, error) {
	built, err := BuildSnapshot(raw, c.def, c.clock.Now(), c.TTL())
	if err != nil {
		return nil, err
	}
	built.Organization, built.Project = key.Organization, key.Project

	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		s := *built
		s.Version = c.seededHighwater(ctx, key) + 1
		err = c.writeThrough(ctx, &s)
		if err == nil {
			return &s, nil
		}
		if !errors.Is(err, types.ErrStaleWriteRejected) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("store %s: %w", key, err)
}

// latestStored returns the newest snapshot any tier holds for key,
// regardless of TTL or invalidation. It never fetches.
func (c *Cache) latestStored(ctx context.Context, key types.SnapshotKey) (*types.Snapshot, bool) {
	var best *types.Snapshot
	for _, t := range c.tiers() {
		e, err := c.tierGet(ctx, t, key)
		if err != nil {
			continue
		}
		if best == nil || e.Snapshot.Version > best.Version {
			best = e.Snapshot
		}
	}
	return best, best != nil
}

func (c *Cache) highwater(key types.SnapshotKey) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[key]
}

// seededHighwater returns the highest known version, consulting the
// shared tiers the first time a key is seen by this process.
func (c *Cache) seededHighwater(ctx context.Context, key types.SnapshotKey) int64 {
	c.mu.Lock()
	hw, known := c.versions[key]
	c.mu.Unlock()
	if known {
		return hw
	}
	for _, t := range []Tier{c.distributed, c.persistent} {
		if t == nil {
			continue
		}
		if e, err := c.tierGet(ctx, t, key); err == nil && e.Snapshot.Version > hw {
			hw = e.Snapshot.Version
		}
	}
	c.observe(key, hw)
	return hw
}

func (c *Cache) observe(key types.SnapshotKey, version int64) {
	c.mu.Lock()
	if cur, ok := c.versions[key]; !ok || version > cur {
		c.versions[key] = version
	}
	c.mu.Unlock()
}
