package configcache

import (
	"context"
	"errors"

	"github.com/steveyegge/foundry/internal/storage"
	"github.com/steveyegge/foundry/internal/types"
)

// PersistentTier adapts a storage.SnapshotStore to the Tier interface.
// A stale mark in the store surfaces as an invalidated entry.
type PersistentTier struct {
	store storage.SnapshotStore
}

// NewPersistentTier wraps store.
func NewPersistentTier(store storage.SnapshotStore) *PersistentTier {
	return &PersistentTier{store: store}
}

func (p *PersistentTier) Name() string { return TierPersistent }

func (p *PersistentTier) Get(ctx context.Context, key types.SnapshotKey) (Entry, error) {
	s, stale, err := p.store.GetSnapshot(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, err
	}
	return Entry{Snapshot: s, Invalidated: stale}, nil
}

func (p *PersistentTier) Put(ctx context.Context, s *types.Snapshot) error {
	return p.store.PutSnapshot(ctx, s)
}

func (p *PersistentTier) Invalidate(ctx context.Context, key types.SnapshotKey) error {
	return p.store.MarkStale(ctx, key)
}

// Ping checks the store when it supports it.
func (p *PersistentTier) Ping(ctx context.Context) error {
	if pinger, ok := p.store.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}
