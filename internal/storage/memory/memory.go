// Package memory implements the storage interfaces in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/steveyegge/foundry/internal/storage"
	"github.com/steveyegge/foundry/internal/types"
)

var _ storage.Store = (*MemoryStorage)(nil)

type snapshotEntry struct {
	snap  *types.Snapshot
	stale bool
}

// MemoryStorage keeps everything in maps guarded by one RWMutex. Work
// items are deep-copied on the way in and out; snapshots are immutable
// and shared.
type MemoryStorage struct {
	mu        sync.RWMutex
	snapshots map[types.SnapshotKey]snapshotEntry
	changes   map[types.SnapshotKey][]types.ChangeEntry
	items     map[string]*types.WorkItem
	intents   map[string]types.Intent
	closed    bool
}

// New creates an empty store.
func New() *MemoryStorage {
	return &MemoryStorage{
		snapshots: make(map[types.SnapshotKey]snapshotEntry),
		changes:   make(map[types.SnapshotKey][]types.ChangeEntry),
		items:     make(map[string]*types.WorkItem),
		intents:   make(map[string]types.Intent),
	}
}

func (m *MemoryStorage) GetSnapshot(ctx context.Context, key types.SnapshotKey) (*types.Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.snapshots[key]
	if !ok {
		return nil, false, fmt.Errorf("snapshot %s: %w", key, storage.ErrNotFound)
	}
	return e.snap, e.stale, nil
}

func (m *MemoryStorage) PutSnapshot(ctx context.Context, s *types.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := s.Key()
	if e, ok := m.snapshots[key]; ok && s.Version <= e.snap.Version {
		return &types.StaleWriteError{Key: key, Current: e.snap.Version, Attempted: s.Version}
	}
	m.snapshots[key] = snapshotEntry{snap: s}
	return nil
}

func (m *MemoryStorage) MarkStale(ctx context.Context, key types.SnapshotKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.snapshots[key]; ok {
		e.stale = true
		m.snapshots[key] = e
	}
	return nil
}

func (m *MemoryStorage) AppendChange(ctx context.Context, entry types.ChangeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := types.SnapshotKey{Organization: entry.Organization, Project: entry.Project}
	m.changes[key] = append(m.changes[key], entry)
	return nil
}

func (m *MemoryStorage) ListChanges(ctx context.Context, key types.SnapshotKey, limit int) ([]types.ChangeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.changes[key]
	out := make([]types.ChangeEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (m *MemoryStorage) CreateWorkItem(ctx context.Context, item *types.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; ok {
		return fmt.Errorf("work item %s: %w", item.ID, storage.ErrAlreadyExists)
	}
	m.items[item.ID] = item.Clone()
	return nil
}

func (m *MemoryStorage) GetWorkItem(ctx context.Context, id string) (*types.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("work item %s: %w", id, storage.ErrNotFound)
	}
	return item.Clone(), nil
}

func (m *MemoryStorage) ListWorkItems(ctx context.Context, key types.SnapshotKey) ([]*types.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.WorkItem
	for _, item := range m.items {
		if item.Key() == key {
			out = append(out, item.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStorage) UpdateMetadata(ctx context.Context, id string, md types.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("work item %s: %w", id, storage.ErrNotFound)
	}
	item.Metadata = md.Clone()
	return nil
}

func (m *MemoryStorage) CommitTransition(ctx context.Context, id string, rec types.PhaseTransitionRecord) (types.PhaseTransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return types.PhaseTransitionRecord{}, fmt.Errorf("work item %s: %w", id, storage.ErrNotFound)
	}
	if item.CurrentPhase != rec.FromPhase {
		return types.PhaseTransitionRecord{}, fmt.Errorf("work item %s is in %s, not %s: %w", id, item.CurrentPhase, rec.FromPhase, storage.ErrConflict)
	}
	rec.Seq = int64(len(item.History)) + 1
	rec.GateResults = append([]types.QualityGateResult(nil), rec.GateResults...)
	item.History = append(item.History, rec)
	item.CurrentPhase = rec.ToPhase
	item.UpdatedAt = rec.Timestamp
	return rec, nil
}

func (m *MemoryStorage) SaveIntent(ctx context.Context, intent types.Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent.GateResults = append([]types.QualityGateResult(nil), intent.GateResults...)
	m.intents[intent.WorkItemID] = intent
	return nil
}

func (m *MemoryStorage) GetIntent(ctx context.Context, workItemID string) (*types.Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	intent, ok := m.intents[workItemID]
	if !ok {
		return nil, fmt.Errorf("intent for %s: %w", workItemID, storage.ErrNotFound)
	}
	return &intent, nil
}

func (m *MemoryStorage) ClearIntent(ctx context.Context, workItemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.intents, workItemID)
	return nil
}

// Close marks the store closed. Data stays readable.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
