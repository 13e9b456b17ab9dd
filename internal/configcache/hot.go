package configcache

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/steveyegge/foundry/internal/types"
)

// DefaultHotSize bounds the in-process tier.
const DefaultHotSize = 1000

// HotTier is the in-process LRU tier. It never blocks on I/O.
type HotTier struct {
	mu  sync.Mutex // serializes version-checked updates; lru has its own lock for reads
	lru *lru.Cache[types.SnapshotKey, Entry]
}

// NewHotTier returns a tier holding at most size keys.
func NewHotTier(size int) (*HotTier, error) {
	if size <= 0 {
		size = DefaultHotSize
	}
	c, err := lru.New[types.SnapshotKey, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("hot tier: %w", err)
	}
	return &HotTier{lru: c}, nil
}

func (h *HotTier) Name() string { return TierHot }

func (h *HotTier) Get(_ context.Context, key types.SnapshotKey) (Entry, error) {
	e, ok := h.lru.Get(key)
	if !ok {
		return Entry{}, ErrMiss
	}
	return e, nil
}

func (h *HotTier) Put(_ context.Context, s *types.Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := s.Key()
	if cur, ok := h.lru.Peek(key); ok && s.Version <= cur.Snapshot.Version {
		return &types.StaleWriteError{Key: key, Current: cur.Snapshot.Version, Attempted: s.Version}
	}
	h.lru.Add(key, Entry{Snapshot: s})
	return nil
}

func (h *HotTier) Invalidate(_ context.Context, key types.SnapshotKey) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.lru.Peek(key); ok {
		cur.Invalidated = true
		h.lru.Add(key, cur)
	}
	return nil
}

// Len returns the number of cached keys.
func (h *HotTier) Len() int { return h.lru.Len() }

// Keys returns cached keys, oldest first.
func (h *HotTier) Keys() []types.SnapshotKey { return h.lru.Keys() }
