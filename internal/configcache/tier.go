package configcache

import (
	"context"
	"errors"

	"github.com/steveyegge/foundry/internal/types"
)

// ErrMiss is returned by a Tier that holds nothing for a key.
var ErrMiss = errors.New("cache miss")

// Tier names, used in stats, metrics, and logs.
const (
	TierHot         = "hot"
	TierDistributed = "distributed"
	TierPersistent  = "persistent"
	TierRemote      = "remote"
)

// Entry is a tier's view of a snapshot. Invalidated entries are hard-stale
// regardless of TTL.
type Entry struct {
	Snapshot    *types.Snapshot
	Invalidated bool
}

// Tier is one level of the cache. Put must reject a snapshot whose
// version is not greater than the tier's current version for that key
// with a *types.StaleWriteError.
type Tier interface {
	Name() string
	Get(ctx context.Context, key types.SnapshotKey) (Entry, error)
	Put(ctx context.Context, s *types.Snapshot) error
	Invalidate(ctx context.Context, key types.SnapshotKey) error
}

// Pinger is implemented by tiers that can report their availability.
type Pinger interface {
	Ping(ctx context.Context) error
}
