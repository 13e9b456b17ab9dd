package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/foundry/internal/storage"
	"github.com/steveyegge/foundry/internal/storage/storagetest"
	"github.com/steveyegge/foundry/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "foundry.db"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func TestSQLiteStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return newTestStore(t) })
}

func TestInMemoryStoresAreIsolated(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, ":memory:")
	require.NoError(t, err)
	defer a.Close()
	b, err := New(ctx, ":memory:")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.CreateWorkItem(ctx, &types.WorkItem{ID: "wi-1", Organization: "o", Project: "p", Title: "t", CurrentPhase: "analysis"}))
	_, err = b.GetWorkItem(ctx, "wi-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "foundry.db")

	s, err := New(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.PutSnapshot(ctx, &types.Snapshot{Organization: "o", Project: "p", Version: 3}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second close is a no-op")

	s, err = New(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	got, _, err := s.GetSnapshot(ctx, types.SnapshotKey{Organization: "o", Project: "p"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, path, s.Path())
}

func TestOpenAddsMissingColumns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "foundry.db")

	s, err := New(ctx, path)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, "ALTER TABLE transition_intents DROP COLUMN from_state")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.SaveIntent(ctx, types.Intent{
		WorkItemID: "wi-1", FromPhase: "planning", ToPhase: "code_generation",
		Kind: types.KindForward, State: "Active", FromState: "Active",
	}))
	got, err := s.GetIntent(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, "Active", got.FromState)

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, migrate(ctx, s.db))
}
