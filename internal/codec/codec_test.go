package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/foundry/internal/types"
)

func sampleStructure() *types.RawStructure {
	return &types.RawStructure{
		Organization: "contoso",
		Project:      "widgets",
		WorkItemTypes: []types.WorkItemTypeDef{
			{Name: "User Story", States: []string{"New", "Active", "Resolved", "Closed"}},
			{Name: "Bug", States: []string{"New", "Active", "Closed"}},
		},
		BoardColumns: []types.BoardColumnDef{
			{Name: "New", ColumnType: "incoming", StateMappings: map[string]string{"User Story": "New", "Bug": "New"}},
			{Name: "Active", ColumnType: "inProgress", ItemLimit: 5, StateMappings: map[string]string{"User Story": "Active"}},
		},
		CustomFields: []types.FieldDef{
			{ReferenceName: "Custom.Confidence", Name: "Confidence", Type: "double"},
			{ReferenceName: "Custom.Generator", Name: "Generator", Type: "string"},
		},
	}
}

func TestFingerprintStable(t *testing.T) {
	a, err := Fingerprint(sampleStructure())
	require.NoError(t, err)
	b, err := Fingerprint(sampleStructure())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprintIgnoresUnorderedCollections(t *testing.T) {
	base, err := Fingerprint(sampleStructure())
	require.NoError(t, err)

	shuffled := sampleStructure()
	shuffled.WorkItemTypes[0], shuffled.WorkItemTypes[1] = shuffled.WorkItemTypes[1], shuffled.WorkItemTypes[0]
	shuffled.CustomFields[0], shuffled.CustomFields[1] = shuffled.CustomFields[1], shuffled.CustomFields[0]
	got, err := Fingerprint(shuffled)
	require.NoError(t, err)
	assert.Equal(t, base, got)
}

func TestFingerprintDetectsChanges(t *testing.T) {
	base, err := Fingerprint(sampleStructure())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*types.RawStructure)
	}{
		{"new state", func(r *types.RawStructure) {
			r.WorkItemTypes[0].States = append(r.WorkItemTypes[0].States, "Removed")
		}},
		{"column order", func(r *types.RawStructure) {
			r.BoardColumns[0], r.BoardColumns[1] = r.BoardColumns[1], r.BoardColumns[0]
		}},
		{"mapping change", func(r *types.RawStructure) {
			r.BoardColumns[1].StateMappings["Bug"] = "Active"
		}},
		{"new field", func(r *types.RawStructure) {
			r.CustomFields = append(r.CustomFields, types.FieldDef{ReferenceName: "Custom.Risk", Name: "Risk"})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := sampleStructure()
			tt.mutate(raw)
			got, err := Fingerprint(raw)
			require.NoError(t, err)
			assert.NotEqual(t, base, got)
		})
	}
}

func TestFingerprintNil(t *testing.T) {
	_, err := Fingerprint(nil)
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	fetched := time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC)
	in := &types.Snapshot{
		Organization: "contoso",
		Project:      "widgets",
		Version:      7,
		FetchedAt:    fetched,
		TTL:          time.Hour,
		Hash:         "abc",
		WorkItemType: "User Story",
		Phases:       []types.Phase{"analysis", "testing"},
		Rules: map[types.Phase]types.PhaseRule{
			"analysis": {Phase: "analysis", State: "New", Next: []types.Phase{"testing"}},
			"testing":  {Phase: "testing", State: "Resolved"},
		},
	}
	data, err := EncodeSnapshot(in)
	require.NoError(t, err)

	out, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, in.Version, out.Version)
	assert.True(t, in.FetchedAt.Equal(out.FetchedAt))
	assert.Equal(t, in.TTL, out.TTL)
	assert.Equal(t, in.Rules, out.Rules)
	assert.Equal(t, in.Phases, out.Phases)
}
