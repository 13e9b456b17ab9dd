// Package manufacturing is the public entry point for AI manufacturing
// work. The Orchestrator composes the configuration cache, the workflow
// engine, the remote tracker and the artifact sources into create,
// progress, attach and status operations.
//
// Expected domain outcomes (gate failures, unmapped phases, busy items)
// come back as a Result with a nil error. Only infrastructure failures
// are returned as errors.
package manufacturing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/steveyegge/foundry/internal/artifact"
	"github.com/steveyegge/foundry/internal/clock"
	"github.com/steveyegge/foundry/internal/configcache"
	"github.com/steveyegge/foundry/internal/storage"
	"github.com/steveyegge/foundry/internal/tracker"
	"github.com/steveyegge/foundry/internal/types"
	"github.com/steveyegge/foundry/internal/workflow"
)

// DefaultBulkConcurrency bounds TransitionMany when no option is given.
const DefaultBulkConcurrency = 8

// Engine is the subset of *workflow.Engine the orchestrator drives.
type Engine interface {
	Transition(ctx context.Context, id, target string) (*workflow.Result, error)
	Rollback(ctx context.Context, id string) (*workflow.Result, error)
	Reconcile(ctx context.Context, id string) (*types.WorkItem, error)
}

// ArtifactResolver fetches commits and pull requests. *artifact.Resolver
// satisfies it.
type ArtifactResolver interface {
	Commit(ctx context.Context, repoURL, hash string) (*artifact.CommitRef, error)
	PullRequest(ctx context.Context, prURL string) (*artifact.PullRequestRef, error)
}

// CacheInspector exposes cache health. *configcache.Cache satisfies it.
type CacheInspector interface {
	Stats() configcache.Stats
	TierHealth(ctx context.Context) map[string]error
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	store     storage.WorkItemStore
	snapshots workflow.SnapshotSource
	engine    Engine
	remote    tracker.RemoteClient
	artifacts ArtifactResolver
	cache     CacheInspector

	// metadata read-modify-write is serialized per item
	mdLocks *workflow.LockPool

	clock     clock.Clock
	logger    *slog.Logger
	newID     func() string
	bulkLimit int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArtifacts sets the source used to resolve commits and pull requests.
func WithArtifacts(r ArtifactResolver) Option { return func(o *Orchestrator) { o.artifacts = r } }

// WithCache enables cache statistics and tier health in Health.
func WithCache(c CacheInspector) Option { return func(o *Orchestrator) { o.cache = c } }

// WithClock sets the time source for timestamps.
func WithClock(c clock.Clock) Option { return func(o *Orchestrator) { o.clock = c } }

// WithLogger sets the logger. Nil discards.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithIDGenerator replaces the uuid-based local id generator. Nil keeps
// the default.
func WithIDGenerator(fn func() string) Option { return func(o *Orchestrator) { o.newID = fn } }

// WithBulkConcurrency bounds how many items TransitionMany moves at once.
func WithBulkConcurrency(n int) Option { return func(o *Orchestrator) { o.bulkLimit = n } }

// New builds an orchestrator.
func New(store storage.WorkItemStore, snapshots workflow.SnapshotSource, engine Engine, remote tracker.RemoteClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		snapshots: snapshots,
		engine:    engine,
		remote:    remote,
		mdLocks:   workflow.NewLockPool(workflow.DefaultLockShards),
		clock:     clock.Real(),
		bulkLimit: DefaultBulkConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.newID == nil {
		o.newID = func() string { return "wi-" + uuid.NewString() }
	}
	if o.bulkLimit <= 0 {
		o.bulkLimit = DefaultBulkConcurrency
	}
	return o
}

// CreateRequest describes a new manufacturing work item.
type CreateRequest struct {
	Organization string
	Project      string
	Title        string
	Description  string
	// WorkItemType defaults to the workflow definition's type.
	WorkItemType string
	Tags         []string
	Metadata     types.Metadata
}

// CreateWorkItem creates the item remotely in the state of the
// workflow's initial phase, then records it locally in that phase.
func (o *Orchestrator) CreateWorkItem(ctx context.Context, req CreateRequest) (*types.WorkItem, error) {
	key := types.NewSnapshotKey(req.Organization, req.Project)
	if err := key.Validate(); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("work item title is required")
	}

	snap, err := o.snapshots.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	initial, ok := snap.InitialPhase()
	if !ok {
		return nil, &types.UnmappedPhaseError{Reason: fmt.Sprintf("workflow for %s declares no phases", key)}
	}
	state, _, _ := snap.StateFor(initial)

	witName := req.WorkItemType
	if witName == "" {
		witName = snap.WorkItemType
	}

	remote, err := o.remote.CreateWorkItem(ctx, tracker.CreateRequest{
		WorkItemType: witName,
		Title:        title,
		Description:  req.Description,
		State:        state,
		Phase:        initial,
		Tags:         req.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("create remote work item: %w", err)
	}

	now := o.clock.Now()
	item := &types.WorkItem{
		ID:           o.newID(),
		ExternalID:   remote.ExternalID,
		Organization: key.Organization,
		Project:      key.Project,
		Title:        title,
		Description:  req.Description,
		WorkItemType: witName,
		CurrentPhase: initial,
		Metadata:     req.Metadata.Clone(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.store.CreateWorkItem(ctx, item); err != nil {
		// The remote item exists without a local record; log it so an
		// operator can link or remove it.
		o.logger.Error("work item created remotely but not stored",
			"external_id", remote.ExternalID, "url", remote.URL, "err", err)
		return nil, fmt.Errorf("store work item: %w", err)
	}
	o.logger.Info("work item created",
		"id", item.ID, "external_id", item.ExternalID, "org", key.Organization, "project", key.Project, "phase", initial)
	return item.Clone(), nil
}

// Status is a point-in-time view of one work item.
type Status struct {
	WorkItem   *types.WorkItem `json:"work_item"`
	NextPhases []types.Phase   `json:"next_phases,omitempty"`
	// Reconciled is set when the read settled a pending remote update.
	Reconciled bool `json:"reconciled,omitempty"`
	// ConfigError is set when the project snapshot could not be loaded;
	// NextPhases is empty in that case.
	ConfigError string `json:"config_error,omitempty"`
}

// GetStatus returns the item's current state. A pending remote update
// left by an interrupted transition is reconciled first when possible.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (*Status, error) {
	before, err := o.store.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}

	item, err := o.engine.Reconcile(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || ctx.Err() != nil {
			return nil, err
		}
		o.logger.Warn("reconcile skipped", "id", id, "err", err)
		item = before
	}

	st := &Status{
		WorkItem:   item,
		Reconciled: len(item.History) > len(before.History),
	}
	snap, err := o.snapshots.Get(ctx, item.Key())
	if err != nil {
		st.ConfigError = err.Error()
		return st, nil
	}
	st.NextPhases = snap.NextPhases(item.CurrentPhase)
	return st, nil
}
