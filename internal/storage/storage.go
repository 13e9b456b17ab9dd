// Package storage defines the persistence interfaces behind foundry's
// cold cache tier and the work item history log.
//
// Two implementations exist: memory (ephemeral, used in tests and for
// dry runs) and sqlite (the durable default).
package storage

import (
	"context"
	"errors"

	"github.com/steveyegge/foundry/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when creating an entity whose id is taken.
var ErrAlreadyExists = errors.New("already exists")

// ErrConflict is returned when a commit's expected prior phase does not
// match the stored current phase.
var ErrConflict = errors.New("conflict")

// SnapshotStore is a versioned key-value store for configuration snapshots.
type SnapshotStore interface {
	// GetSnapshot returns the stored snapshot and whether it has been
	// marked stale. Returns ErrNotFound when nothing is stored for key.
	GetSnapshot(ctx context.Context, key types.SnapshotKey) (*types.Snapshot, bool, error)

	// PutSnapshot stores s if its version is greater than the stored
	// version, clearing any stale mark. Otherwise it returns a
	// *types.StaleWriteError.
	PutSnapshot(ctx context.Context, s *types.Snapshot) error

	// MarkStale flags the stored snapshot so readers treat it as expired.
	// Missing keys are not an error.
	MarkStale(ctx context.Context, key types.SnapshotKey) error

	// AppendChange records a structural change detected by validation.
	AppendChange(ctx context.Context, entry types.ChangeEntry) error

	// ListChanges returns the newest limit change entries for key, newest first.
	ListChanges(ctx context.Context, key types.SnapshotKey, limit int) ([]types.ChangeEntry, error)
}

// WorkItemStore persists work items and their append-only history.
type WorkItemStore interface {
	CreateWorkItem(ctx context.Context, item *types.WorkItem) error

	// GetWorkItem returns the item with its full history, oldest first.
	GetWorkItem(ctx context.Context, id string) (*types.WorkItem, error)

	// ListWorkItems returns every item of the given project.
	ListWorkItems(ctx context.Context, key types.SnapshotKey) ([]*types.WorkItem, error)

	// UpdateMetadata replaces the item's metadata. Phase and history are
	// not touched.
	UpdateMetadata(ctx context.Context, id string, md types.Metadata) error

	// CommitTransition appends rec to the item's history and sets the
	// current phase to rec.ToPhase in one atomic step. It returns
	// ErrConflict if the current phase is not rec.FromPhase. The stored
	// record, with its sequence number, is returned.
	CommitTransition(ctx context.Context, id string, rec types.PhaseTransitionRecord) (types.PhaseTransitionRecord, error)
}

// IntentStore holds at most one pending remote update per work item.
type IntentStore interface {
	SaveIntent(ctx context.Context, intent types.Intent) error

	// GetIntent returns ErrNotFound when no intent is pending.
	GetIntent(ctx context.Context, workItemID string) (*types.Intent, error)

	ClearIntent(ctx context.Context, workItemID string) error
}

// Store bundles every persistence concern.
type Store interface {
	SnapshotStore
	WorkItemStore
	IntentStore
	Close() error
}
