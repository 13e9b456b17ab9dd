// Package storagetest is a conformance suite run against every
// storage.Store implementation.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/foundry/internal/storage"
	"github.com/steveyegge/foundry/internal/types"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

var testKey = types.SnapshotKey{Organization: "contoso", Project: "widgets"}

func snapshot(version int64) *types.Snapshot {
	return &types.Snapshot{
		Organization: testKey.Organization,
		Project:      testKey.Project,
		Version:      version,
		FetchedAt:    time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		TTL:          time.Hour,
		Hash:         "h",
		WorkItemType: "User Story",
		Phases:       []types.Phase{"analysis", "testing"},
		Rules: map[types.Phase]types.PhaseRule{
			"analysis": {Phase: "analysis", State: "New", Next: []types.Phase{"testing"}},
			"testing":  {Phase: "testing", State: "Resolved"},
		},
	}
}

func workItem(id string) *types.WorkItem {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &types.WorkItem{
		ID:           id,
		ExternalID:   "42",
		Organization: testKey.Organization,
		Project:      testKey.Project,
		Title:        "Generate login form",
		WorkItemType: "User Story",
		CurrentPhase: "analysis",
		Metadata: types.Metadata{
			AIGenerator:    "codegen",
			QualityMetrics: map[string]float64{"code_coverage": 50},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Run executes the full suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("Snapshots", func(t *testing.T) { testSnapshots(t, newStore(t)) })
	t.Run("Changes", func(t *testing.T) { testChanges(t, newStore(t)) })
	t.Run("WorkItems", func(t *testing.T) { testWorkItems(t, newStore(t)) })
	t.Run("CommitTransition", func(t *testing.T) { testCommitTransition(t, newStore(t)) })
	t.Run("Intents", func(t *testing.T) { testIntents(t, newStore(t)) })
}

func testSnapshots(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	_, _, err := s.GetSnapshot(ctx, testKey)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.PutSnapshot(ctx, snapshot(1)))
	got, stale, err := s.GetSnapshot(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "New", got.Rules["analysis"].State)
	assert.True(t, got.FetchedAt.Equal(snapshot(1).FetchedAt))

	for _, v := range []int64{1, 0} {
		err = s.PutSnapshot(ctx, snapshot(v))
		require.ErrorIs(t, err, types.ErrStaleWriteRejected, "version %d", v)
		var swe *types.StaleWriteError
		require.True(t, errors.As(err, &swe))
		assert.Equal(t, int64(1), swe.Current)
	}

	require.NoError(t, s.MarkStale(ctx, testKey))
	_, stale, err = s.GetSnapshot(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, stale)

	require.NoError(t, s.PutSnapshot(ctx, snapshot(2)))
	got, stale, err = s.GetSnapshot(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, stale, "a newer put clears the stale mark")
	assert.Equal(t, int64(2), got.Version)

	require.NoError(t, s.MarkStale(ctx, types.SnapshotKey{Organization: "x", Project: "y"}))
}

func testChanges(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.AppendChange(ctx, types.ChangeEntry{
			Organization: testKey.Organization,
			Project:      testKey.Project,
			OldVersion:   i,
			NewVersion:   i + 1,
			OldHash:      "a",
			NewHash:      "b",
			DetectedAt:   base.Add(time.Duration(i) * time.Hour),
		}))
	}
	changes, err := s.ListChanges(ctx, testKey, 2)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, int64(4), changes[0].NewVersion)
	assert.Equal(t, int64(3), changes[1].NewVersion)

	all, err := s.ListChanges(ctx, testKey, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testWorkItems(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CreateWorkItem(ctx, workItem("wi-1")))
	require.ErrorIs(t, s.CreateWorkItem(ctx, workItem("wi-1")), storage.ErrAlreadyExists)

	got, err := s.GetWorkItem(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, types.Phase("analysis"), got.CurrentPhase)
	assert.Equal(t, 50.0, got.Metadata.QualityMetrics["code_coverage"])
	assert.Empty(t, got.History)

	got.Metadata.QualityMetrics["code_coverage"] = 99
	again, err := s.GetWorkItem(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, again.Metadata.QualityMetrics["code_coverage"], "returned items must not alias stored state")

	md := again.Metadata.Clone()
	md.ProgressPercentage = 40
	md.Requirements = map[string]bool{"code_generated": true}
	require.NoError(t, s.UpdateMetadata(ctx, "wi-1", md))
	got, err = s.GetWorkItem(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.Metadata.ProgressPercentage)
	assert.True(t, got.Metadata.Requirements["code_generated"])

	_, err = s.GetWorkItem(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, s.UpdateMetadata(ctx, "missing", md), storage.ErrNotFound)

	require.NoError(t, s.CreateWorkItem(ctx, workItem("wi-2")))
	other := workItem("wi-3")
	other.Project = "gadgets"
	require.NoError(t, s.CreateWorkItem(ctx, other))
	items, err := s.ListWorkItems(ctx, testKey)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "wi-1", items[0].ID)
}

func testCommitTransition(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.CreateWorkItem(ctx, workItem("wi-1")))

	ts := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	rec, err := s.CommitTransition(ctx, "wi-1", types.PhaseTransitionRecord{
		FromPhase: "analysis",
		ToPhase:   "testing",
		Kind:      types.KindForward,
		State:     "Resolved",
		Timestamp: ts,
		Outcome:   types.OutcomeCommitted,
		Attempts:  2,
		GateResults: []types.QualityGateResult{
			{GateID: "unit_tests_passed", Status: types.GatePass, Mandatory: true, EvaluatedAt: ts},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Seq)

	_, err = s.CommitTransition(ctx, "wi-1", types.PhaseTransitionRecord{
		FromPhase: "analysis", ToPhase: "testing", Kind: types.KindForward, Timestamp: ts,
	})
	require.ErrorIs(t, err, storage.ErrConflict)

	rec, err = s.CommitTransition(ctx, "wi-1", types.PhaseTransitionRecord{
		FromPhase: "testing", ToPhase: "analysis", Kind: types.KindRollback, State: "New",
		Timestamp: ts.Add(time.Minute), Outcome: types.OutcomeCommitted, Attempts: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Seq)

	got, err := s.GetWorkItem(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, types.Phase("analysis"), got.CurrentPhase)
	require.Len(t, got.History, 2)
	assert.Equal(t, types.KindForward, got.History[0].Kind)
	assert.Equal(t, 2, got.History[0].Attempts)
	require.Len(t, got.History[0].GateResults, 1)
	assert.Equal(t, "unit_tests_passed", got.History[0].GateResults[0].GateID)
	assert.Equal(t, types.KindRollback, got.History[1].Kind)

	_, err = s.CommitTransition(ctx, "missing", types.PhaseTransitionRecord{FromPhase: "analysis", ToPhase: "testing"})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testIntents(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	_, err := s.GetIntent(ctx, "wi-1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	intent := types.Intent{
		WorkItemID: "wi-1",
		FromPhase:  "analysis",
		ToPhase:    "testing",
		Kind:       types.KindForward,
		State:      "Resolved",
		FromState:  "New",
		CreatedAt:  time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveIntent(ctx, intent))
	got, err := s.GetIntent(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, types.Phase("testing"), got.ToPhase)
	assert.Equal(t, "Resolved", got.State)
	assert.Equal(t, "New", got.FromState)

	intent.ToPhase = "analysis"
	require.NoError(t, s.SaveIntent(ctx, intent), "saving replaces the pending intent")
	got, err = s.GetIntent(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, types.Phase("analysis"), got.ToPhase)

	require.NoError(t, s.ClearIntent(ctx, "wi-1"))
	_, err = s.GetIntent(ctx, "wi-1")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, s.ClearIntent(ctx, "wi-1"))
}
