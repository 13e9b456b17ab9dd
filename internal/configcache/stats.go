package configcache

import (
	"context"
	"sync/atomic"
)

type counters struct {
	requests      atomic.Int64
	misses        atomic.Int64
	staleServed   atomic.Int64
	fetches       atomic.Int64
	fetchErrors   atomic.Int64
	tierErrors    atomic.Int64
	invalidations atomic.Int64
	tierHits      map[string]*atomic.Int64
}

func newCounters() counters {
	return counters{tierHits: map[string]*atomic.Int64{
		TierHot:         new(atomic.Int64),
		TierDistributed: new(atomic.Int64),
		TierPersistent:  new(atomic.Int64),
		TierRemote:      new(atomic.Int64),
	}}
}

func (c *counters) hit(tier string) {
	if n, ok := c.tierHits[tier]; ok {
		n.Add(1)
	}
}

// Stats is a point-in-time view of cache activity. Hits counts lookups
// answered fresh by a tier; TierHits additionally records, under
// "remote", how many fetches produced a stored snapshot.
type Stats struct {
	Requests      int64            `json:"requests"`
	Hits          int64            `json:"hits"`
	Misses        int64            `json:"misses"`
	HitRate       float64          `json:"hit_rate"`
	StaleServed   int64            `json:"stale_served"`
	Fetches       int64            `json:"fetches"`
	FetchErrors   int64            `json:"fetch_errors"`
	TierErrors    int64            `json:"tier_errors"`
	Invalidations int64            `json:"invalidations"`
	TierHits      map[string]int64 `json:"tier_hits"`
	HotSize       int              `json:"hot_size"`
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Requests:      c.stats.requests.Load(),
		Misses:        c.stats.misses.Load(),
		StaleServed:   c.stats.staleServed.Load(),
		Fetches:       c.stats.fetches.Load(),
		FetchErrors:   c.stats.fetchErrors.Load(),
		TierErrors:    c.stats.tierErrors.Load(),
		Invalidations: c.stats.invalidations.Load(),
		TierHits:      make(map[string]int64, len(c.stats.tierHits)),
		HotSize:       c.hot.Len(),
	}
	for tier, n := range c.stats.tierHits {
		v := n.Load()
		s.TierHits[tier] = v
		if tier != TierRemote {
			s.Hits += v
		}
	}
	if s.Requests > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Requests)
	}
	return s
}

// TierHealth reports each configured tier's availability. A nil error
// means the tier answered its ping (the hot tier always does).
func (c *Cache) TierHealth(ctx context.Context) map[string]error {
	out := make(map[string]error, 3)
	for _, t := range c.tiers() {
		var err error
		if p, ok := t.(Pinger); ok {
			tctx, cancel := c.tierContext(ctx, t.Name())
			err = p.Ping(tctx)
			cancel()
		}
		out[t.Name()] = err
	}
	return out
}
