package manufacturing

import (
	"context"
	"sort"

	"github.com/steveyegge/foundry/internal/configcache"
	"github.com/steveyegge/foundry/internal/types"
)

// HealthStatus summarizes the availability of the orchestrator's
// dependencies.
type HealthStatus struct {
	Healthy bool               `json:"healthy"`
	Tracker string             `json:"tracker"`
	Tiers   map[string]string  `json:"tiers,omitempty"` // tier name -> "ok" or the ping error
	Cache   *configcache.Stats `json:"cache,omitempty"`
}

// Health pings every cache tier and reports cache statistics. An
// unreachable distributed or persistent tier makes the status unhealthy
// but is not an error: the cache keeps serving from the other tiers.
func (o *Orchestrator) Health(ctx context.Context) HealthStatus {
	hs := HealthStatus{Healthy: true, Tracker: o.remote.Name()}
	if o.cache == nil {
		return hs
	}
	hs.Tiers = make(map[string]string)
	for tier, err := range o.cache.TierHealth(ctx) {
		if err != nil {
			hs.Healthy = false
			hs.Tiers[tier] = err.Error()
			continue
		}
		hs.Tiers[tier] = "ok"
	}
	stats := o.cache.Stats()
	hs.Cache = &stats
	return hs
}

// PhaseCount is the number of items sitting in one phase.
type PhaseCount struct {
	Phase types.Phase `json:"phase"`
	Count int         `json:"count"`
}

// Dashboard aggregates the manufacturing state of one project.
type Dashboard struct {
	Organization    string       `json:"organization"`
	Project         string       `json:"project"`
	Total           int          `json:"total"`
	Active          int          `json:"active"`
	Completed       int          `json:"completed"`
	ByPhase         []PhaseCount `json:"by_phase"`
	AverageProgress float64      `json:"average_progress"`
	Transitions     int          `json:"transitions"`
	Rollbacks       int          `json:"rollbacks"`
}

// Dashboard counts the project's items per phase. Phases are listed in
// workflow order; an item is completed when it sits in a terminal phase
// (one with no outgoing edges).
func (o *Orchestrator) Dashboard(ctx context.Context, key types.SnapshotKey) (*Dashboard, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	snap, err := o.snapshots.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	items, err := o.store.ListWorkItems(ctx, key)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{Organization: key.Organization, Project: key.Project, Total: len(items)}
	counts := make(map[types.Phase]int)
	var progress int
	for _, it := range items {
		counts[it.CurrentPhase]++
		progress += it.Metadata.ProgressPercentage
		if len(snap.NextPhases(it.CurrentPhase)) == 0 {
			d.Completed++
		} else {
			d.Active++
		}
		for _, rec := range it.History {
			if rec.Kind == types.KindRollback {
				d.Rollbacks++
			} else {
				d.Transitions++
			}
		}
	}
	if len(items) > 0 {
		d.AverageProgress = float64(progress) / float64(len(items))
	}

	for _, p := range snap.Phases {
		d.ByPhase = append(d.ByPhase, PhaseCount{Phase: p, Count: counts[p]})
		delete(counts, p)
	}
	// phases no longer in the workflow go last, by name
	var extra []PhaseCount
	for p, n := range counts {
		extra = append(extra, PhaseCount{Phase: p, Count: n})
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Phase < extra[j].Phase })
	d.ByPhase = append(d.ByPhase, extra...)
	return d, nil
}
