package testutil

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/steveyegge/foundry/internal/tracker"
	"github.com/steveyegge/foundry/internal/types"
)

// FakeClient is an in-memory tracker.RemoteClient and tracker.ArtifactLinker.
// Failures are programmed per operation and consumed in order.
type FakeClient struct {
	mu        sync.Mutex
	structure map[types.SnapshotKey]*types.RawStructure
	states    map[string]tracker.RemoteState
	links     map[string][]types.ArtifactLink
	nextID    int

	updateErrs []error
	fetchErrs  []error

	// OnUpdate, when set, runs before each UpdateState, outside the lock.
	OnUpdate func(ctx context.Context, externalID string, to tracker.RemoteState)

	updateCalls int
	fetchCalls  int
	createCalls int
}

var (
	_ tracker.RemoteClient   = (*FakeClient)(nil)
	_ tracker.ArtifactLinker = (*FakeClient)(nil)
)

// NewFakeClient returns an empty fake.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		structure: make(map[types.SnapshotKey]*types.RawStructure),
		states:    make(map[string]tracker.RemoteState),
		links:     make(map[string][]types.ArtifactLink),
		nextID:    100,
	}
}

// Name returns "fake".
func (f *FakeClient) Name() string { return "fake" }

// Close is a no-op.
func (f *FakeClient) Close() error { return nil }

// SetStructure sets the structure returned for key.
func (f *FakeClient) SetStructure(key types.SnapshotKey, raw *types.RawStructure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.structure[key] = raw
}

// FailUpdates makes the next len(errs) UpdateState calls return errs in order.
func (f *FakeClient) FailUpdates(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateErrs = append(f.updateErrs, errs...)
}

// FailFetches makes the next len(errs) FetchStructure calls return errs in order.
func (f *FakeClient) FailFetches(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErrs = append(f.fetchErrs, errs...)
}

// SetRemoteState sets an item's remote state and phase marker directly,
// as a write that bypassed UpdateState would.
func (f *FakeClient) SetRemoteState(externalID string, st tracker.RemoteState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[externalID] = st
}

// FetchStructure returns the configured structure.
func (f *FakeClient) FetchStructure(ctx context.Context, key types.SnapshotKey) (*types.RawStructure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	raw, ok := f.structure[key]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", key, tracker.ErrNotFound)
	}
	return raw, nil
}

// UpdateState records the state and marker unless a programmed failure
// is pending.
func (f *FakeClient) UpdateState(ctx context.Context, externalID string, to tracker.RemoteState) error {
	if f.OnUpdate != nil {
		f.OnUpdate(ctx, externalID, to)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if len(f.updateErrs) > 0 {
		err := f.updateErrs[0]
		f.updateErrs = f.updateErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := f.states[externalID]; !ok {
		return tracker.ErrNotFound
	}
	f.states[externalID] = to
	return nil
}

// GetState returns the recorded state and marker.
func (f *FakeClient) GetState(ctx context.Context, externalID string) (tracker.RemoteState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[externalID]
	if !ok {
		return tracker.RemoteState{}, tracker.ErrNotFound
	}
	return st, nil
}

// CreateWorkItem allocates a sequential numeric ID.
func (f *FakeClient) CreateWorkItem(ctx context.Context, req tracker.CreateRequest) (*tracker.RemoteWorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.nextID++
	id := strconv.Itoa(f.nextID)
	state := req.State
	if state == "" {
		state = "New"
	}
	f.states[id] = tracker.RemoteState{State: state, Phase: req.Phase}
	return &tracker.RemoteWorkItem{
		ExternalID:   id,
		URL:          "https://tracker.example/items/" + id,
		State:        state,
		WorkItemType: req.WorkItemType,
	}, nil
}

// LinkArtifact records the link.
func (f *FakeClient) LinkArtifact(ctx context.Context, externalID string, link types.ArtifactLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.states[externalID]; !ok {
		return tracker.ErrNotFound
	}
	f.links[externalID] = append(f.links[externalID], link)
	return nil
}

// State returns the recorded remote board state of an item.
func (f *FakeClient) State(externalID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[externalID].State
}

// Phase returns the recorded phase marker of an item.
func (f *FakeClient) Phase(externalID string) types.Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[externalID].Phase
}

// Links returns the artifacts linked to an item.
func (f *FakeClient) Links(externalID string) []types.ArtifactLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.ArtifactLink(nil), f.links[externalID]...)
}

// UpdateCalls returns how many times UpdateState reached the fake.
func (f *FakeClient) UpdateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateCalls
}

// FetchCalls returns how many times FetchStructure was called.
func (f *FakeClient) FetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

// CreateCalls returns how many times CreateWorkItem was called.
func (f *FakeClient) CreateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}
