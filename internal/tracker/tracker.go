// Package tracker defines the remote tracking client that the
// configuration cache reads project structure from and the workflow
// engine drives state changes through. Each remote system provides an
// adapter implementing RemoteClient and registers it by name.
package tracker

import (
	"context"

	"github.com/steveyegge/foundry/internal/types"
)

// RemoteClient is the plugin interface every tracker integration implements.
type RemoteClient interface {
	// Name returns the lowercase identifier for this tracker (e.g., "azuredevops").
	Name() string

	// FetchStructure returns the raw project structure: work item types
	// and their states, board columns, and custom fields.
	FetchStructure(ctx context.Context, key types.SnapshotKey) (*types.RawStructure, error)

	// UpdateState moves a remote work item to the board state and records
	// the phase marker with it in the same write. Calling it again with
	// what the item already has must succeed.
	UpdateState(ctx context.Context, externalID string, to RemoteState) error

	// GetState returns the remote item's current state and phase marker.
	// It returns ErrNotFound when the item does not exist.
	GetState(ctx context.Context, externalID string) (RemoteState, error)

	// CreateWorkItem creates a remote work item and returns its identity.
	CreateWorkItem(ctx context.Context, req CreateRequest) (*RemoteWorkItem, error)

	// Close releases any resources held by the client.
	Close() error
}

// ArtifactLinker is implemented by clients that can attach development
// artifacts (commits, pull requests, builds) to remote work items.
type ArtifactLinker interface {
	LinkArtifact(ctx context.Context, externalID string, link types.ArtifactLink) error
}

// RemoteState is a remote item's board state and the manufacturing phase
// last written alongside it. Several phases may share one board state, so
// only Phase tells them apart. Phase is empty when the remote item carries
// no marker, e.g. it was moved by hand.
type RemoteState struct {
	State string
	Phase types.Phase
}

// CreateRequest describes a remote work item to create.
type CreateRequest struct {
	WorkItemType string
	Title        string
	Description  string
	State        string      // initial state; empty uses the remote default
	Phase        types.Phase // initial phase marker; empty writes none
	Tags         []string
}

// RemoteWorkItem is the remote identity of a created work item.
type RemoteWorkItem struct {
	ExternalID   string
	URL          string
	State        string
	WorkItemType string
}
