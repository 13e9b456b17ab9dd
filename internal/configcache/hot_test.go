package configcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/steveyegge/foundry/internal/types"
)

func snapshotAt(key types.SnapshotKey, version int64) *types.Snapshot {
	return &types.Snapshot{
		Organization: key.Organization,
		Project:      key.Project,
		Version:      version,
		FetchedAt:    testEpoch,
		TTL:          time.Hour,
	}
}

func TestHotTierVersionCheck(t *testing.T) {
	ctx := context.Background()
	h, err := NewHotTier(4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Get(ctx, testKey); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get on empty tier = %v, want ErrMiss", err)
	}
	if err := h.Put(ctx, snapshotAt(testKey, 2)); err != nil {
		t.Fatal(err)
	}
	for _, v := range []int64{1, 2} {
		if err := h.Put(ctx, snapshotAt(testKey, v)); !errors.Is(err, types.ErrStaleWriteRejected) {
			t.Errorf("Put(v%d) = %v, want stale write", v, err)
		}
	}
	if err := h.Put(ctx, snapshotAt(testKey, 3)); err != nil {
		t.Fatal(err)
	}
	e, err := h.Get(ctx, testKey)
	if err != nil || e.Snapshot.Version != 3 {
		t.Fatalf("Get = (%+v, %v), want v3", e, err)
	}
}

func TestHotTierInvalidateKeepsVersion(t *testing.T) {
	ctx := context.Background()
	h, _ := NewHotTier(4)
	_ = h.Put(ctx, snapshotAt(testKey, 7))
	if err := h.Invalidate(ctx, testKey); err != nil {
		t.Fatal(err)
	}
	e, err := h.Get(ctx, testKey)
	if err != nil || !e.Invalidated {
		t.Fatalf("Get after invalidate = (%+v, %v)", e, err)
	}
	if err := h.Put(ctx, snapshotAt(testKey, 7)); !errors.Is(err, types.ErrStaleWriteRejected) {
		t.Errorf("re-put of invalidated version = %v, want stale write", err)
	}
	if err := h.Invalidate(ctx, types.NewSnapshotKey("x", "y")); err != nil {
		t.Errorf("invalidate of missing key = %v", err)
	}
}

func TestHotTierEvictsOldest(t *testing.T) {
	ctx := context.Background()
	h, _ := NewHotTier(2)
	a, b, c := types.NewSnapshotKey("o", "a"), types.NewSnapshotKey("o", "b"), types.NewSnapshotKey("o", "c")
	for _, k := range []types.SnapshotKey{a, b, c} {
		_ = h.Put(ctx, snapshotAt(k, 1))
	}
	if h.Len() != 2 {
		t.Fatalf("Len = %d, want 2", h.Len())
	}
	if _, err := h.Get(ctx, a); !errors.Is(err, ErrMiss) {
		t.Error("oldest key should have been evicted")
	}
	keys := h.Keys()
	if len(keys) != 2 || keys[0] != b || keys[1] != c {
		t.Errorf("Keys = %v", keys)
	}
}
