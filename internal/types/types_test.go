package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Organization: "contoso",
		Project:      "mfg",
		Phases:       []Phase{"analysis", "planning", "deployment"},
		Rules: map[Phase]PhaseRule{
			"analysis":   {Phase: "analysis", State: "New", Column: "New", Next: []Phase{"planning"}},
			"planning":   {Phase: "planning", State: "New", Column: "New", Next: []Phase{"deployment", "analysis"}},
			"deployment": {Phase: "deployment"},
		},
	}
}

func TestSnapshotKey(t *testing.T) {
	k := NewSnapshotKey("  contoso ", "mfg\t")
	assert.Equal(t, "contoso/mfg", k.String())
	assert.NoError(t, k.Validate())

	for _, bad := range []SnapshotKey{{}, {Organization: "contoso"}, {Project: "mfg"}} {
		assert.Error(t, bad.Validate(), "key %q", bad)
	}
}

func TestParsePhase(t *testing.T) {
	s := testSnapshot()
	tests := []struct {
		in      string
		want    Phase
		wantErr bool
	}{
		{"analysis", "analysis", false},
		{" Planning ", "planning", false},
		{"DEPLOYMENT", "deployment", false},
		{"code_generation", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := s.ParsePhase(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnmappedPhase, "ParsePhase(%q)", tt.in)
			continue
		}
		require.NoError(t, err, "ParsePhase(%q)", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSnapshotNavigation(t *testing.T) {
	s := testSnapshot()

	first, ok := s.InitialPhase()
	require.True(t, ok)
	assert.Equal(t, Phase("analysis"), first)

	assert.True(t, s.CanTransition("analysis", "planning"))
	assert.True(t, s.CanTransition("planning", "analysis"))
	assert.False(t, s.CanTransition("analysis", "deployment"), "no skip edge")
	assert.False(t, s.CanTransition("unknown", "analysis"))

	next := s.NextPhases("planning")
	assert.Equal(t, []Phase{"deployment", "analysis"}, next)
	next[0] = "mutated"
	assert.Equal(t, Phase("deployment"), s.Rules["planning"].Next[0], "NextPhases returns a copy")

	state, column, ok := s.StateFor("planning")
	assert.True(t, ok)
	assert.Equal(t, "New", state)
	assert.Equal(t, "New", column)

	_, _, ok = s.StateFor("deployment")
	assert.False(t, ok, "declared phase without a board state")

	_, ok = (&Snapshot{}).InitialPhase()
	assert.False(t, ok)
}

func TestSnapshotFreshness(t *testing.T) {
	fetched := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Snapshot{FetchedAt: fetched, TTL: time.Hour}

	assert.Equal(t, fetched.Add(time.Hour), s.ExpiresAt())
	assert.True(t, s.FreshAt(fetched.Add(59*time.Minute)))
	assert.False(t, s.FreshAt(fetched.Add(time.Hour)))

	s.TTL = 0
	assert.False(t, s.FreshAt(fetched), "zero TTL is never fresh")
}

func TestRawStructureNormalized(t *testing.T) {
	raw := &RawStructure{
		Organization: "contoso",
		Project:      "mfg",
		WorkItemTypes: []WorkItemTypeDef{
			{Name: "User Story", States: []string{"New", "Active"}},
			{Name: "Bug", States: []string{"New"}},
		},
		BoardColumns: []BoardColumnDef{
			{Name: "New", StateMappings: map[string]string{"User Story": "New"}},
			{Name: "Active"},
		},
		CustomFields: []FieldDef{{ReferenceName: "Custom.Z"}, {ReferenceName: "Custom.A"}},
	}
	n := raw.Normalized()

	assert.Equal(t, "Bug", n.WorkItemTypes[0].Name)
	assert.Equal(t, "Custom.A", n.CustomFields[0].ReferenceName)
	assert.Equal(t, "New", n.BoardColumns[0].Name, "column order is kept")

	n.BoardColumns[0].StateMappings["User Story"] = "Changed"
	n.WorkItemTypes[1].States[0] = "Changed"
	assert.Equal(t, "New", raw.BoardColumns[0].StateMappings["User Story"])
	assert.Equal(t, "New", raw.WorkItemTypes[0].States[0])

	wit, ok := raw.WorkItemType("user story")
	require.True(t, ok)
	assert.True(t, wit.HasState("active"))
	assert.False(t, wit.HasState("Closed"))
	_, ok = raw.WorkItemType("Epic")
	assert.False(t, ok)
}

func TestWorkflowValidate(t *testing.T) {
	tests := []struct {
		name    string
		def     WorkflowDefinition
		wantErr string
	}{
		{
			name:    "no phases",
			def:     WorkflowDefinition{},
			wantErr: "declares no phases",
		},
		{
			name:    "empty name",
			def:     WorkflowDefinition{Phases: []PhaseDefinition{{Name: " "}}},
			wantErr: "has no name",
		},
		{
			name:    "duplicate after normalization",
			def:     WorkflowDefinition{Phases: []PhaseDefinition{{Name: "Testing"}, {Name: "testing"}}},
			wantErr: "declared twice",
		},
		{
			name:    "edge to undeclared phase",
			def:     WorkflowDefinition{Phases: []PhaseDefinition{{Name: "analysis", Next: []Phase{"planning"}}}},
			wantErr: "undeclared phase",
		},
		{
			name: "duplicate gate",
			def: WorkflowDefinition{Phases: []PhaseDefinition{{
				Name:  "analysis",
				Gates: []GateSpec{{ID: "g"}, {ID: "g"}},
			}}},
			wantErr: `gate "g" declared twice`,
		},
		{
			name: "empty gate id",
			def: WorkflowDefinition{Phases: []PhaseDefinition{{
				Name:  "analysis",
				Gates: []GateSpec{{Kind: GateKindRequirement}},
			}}},
			wantErr: "empty id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWorkflowValidateNormalizes(t *testing.T) {
	def := WorkflowDefinition{Phases: []PhaseDefinition{
		{Name: " Analysis ", Next: []Phase{"PLANNING"}},
		{Name: "Planning"},
	}}
	require.NoError(t, def.Validate())
	assert.Equal(t, Phase("analysis"), def.Phases[0].Name)
	assert.Equal(t, []Phase{"planning"}, def.Phases[0].Next)

	p, ok := def.Phase("planning")
	assert.True(t, ok)
	assert.Equal(t, Phase("planning"), p.Name)
	_, ok = def.Phase("Planning")
	assert.False(t, ok)
}

func TestDefaultWorkflow(t *testing.T) {
	def := DefaultWorkflow()
	require.NoError(t, def.Validate())
	require.Len(t, def.Phases, 8)
	assert.Equal(t, Phase("analysis"), def.Phases[0].Name)
	assert.Equal(t, Phase("completion"), def.Phases[7].Name)
	assert.Empty(t, def.Phases[7].Next, "completion is terminal")

	for _, p := range def.Phases {
		assert.NotEmpty(t, p.State, "phase %s has a board state", p.Name)
		assert.Len(t, p.Gates, 3, "phase %s", p.Name)
	}

	tp, _ := def.Phase("testing")
	var coverage GateSpec
	for _, g := range tp.Gates {
		if g.ID == "code_coverage_threshold" {
			coverage = g
		}
	}
	assert.Equal(t, GateKindMinMetric, coverage.Kind)
	assert.Equal(t, 80.0, coverage.Threshold)

	// Each call returns an independent copy.
	def.Phases[0].Name = "changed"
	assert.Equal(t, Phase("analysis"), DefaultWorkflow().Phases[0].Name)
}

func TestErrorTaxonomy(t *testing.T) {
	failed := []QualityGateResult{{GateID: "unit_tests_passed", Status: GateFail, Mandatory: true}}
	gateErr := error(&GateFailureError{Phase: "testing", Failed: failed, Results: failed})
	assert.ErrorIs(t, gateErr, ErrGateFailure)
	assert.Equal(t, "quality gates failed for testing: unit_tests_passed", gateErr.Error())

	var ge *GateFailureError
	require.ErrorAs(t, fmt.Errorf("transition: %w", gateErr), &ge)
	assert.Equal(t, []string{"unit_tests_passed"}, ge.FailedGateIDs())

	unmapped := &UnmappedPhaseError{From: "analysis", To: "deployment", Reason: "no transition edge"}
	assert.ErrorIs(t, unmapped, ErrUnmappedPhase)
	assert.Equal(t, "unmapped phase analysis -> deployment: no transition edge", unmapped.Error())

	remote := errors.New("503 Service Unavailable")
	tf := &TransitionFailedError{WorkItemID: "wi-1", Target: "testing", Attempts: 3, Err: remote}
	assert.ErrorIs(t, tf, ErrTransitionFailed)
	assert.ErrorIs(t, tf, remote)

	assert.ErrorIs(t, &StaleWriteError{Current: 4, Attempted: 3}, ErrStaleWriteRejected)

	assert.True(t, IsDomainOutcome(gateErr))
	assert.True(t, IsDomainOutcome(unmapped))
	assert.True(t, IsDomainOutcome(&BusyError{WorkItemID: "wi-1"}))
	assert.False(t, IsDomainOutcome(tf))
	assert.False(t, IsDomainOutcome(ErrConfigUnavailable))
}

func TestQualityGateResultBlocking(t *testing.T) {
	assert.True(t, QualityGateResult{Mandatory: true, Status: GateFail}.Blocking())
	assert.True(t, QualityGateResult{Mandatory: true, Status: GateSkipped}.Blocking())
	assert.False(t, QualityGateResult{Mandatory: true, Status: GatePass}.Blocking())
	assert.False(t, QualityGateResult{Mandatory: false, Status: GateFail}.Blocking())
}

func TestWorkItemClone(t *testing.T) {
	item := &WorkItem{
		ID: "wi-1",
		History: []PhaseTransitionRecord{{
			Seq: 1, FromPhase: "analysis", ToPhase: "planning",
			GateResults: []QualityGateResult{{GateID: "g", Status: GatePass}},
		}},
		Metadata: Metadata{
			QualityMetrics: map[string]float64{"code_coverage": 81},
			Requirements:   map[string]bool{"code_generated": true},
			Labels:         map[string]string{"team": "a"},
			Artifacts:      []ArtifactLink{{Kind: "commit", Attributes: map[string]string{"hash": "abc"}}},
		},
	}
	c := item.Clone()
	c.History[0].GateResults[0].Status = GateFail
	c.Metadata.QualityMetrics["code_coverage"] = 10
	c.Metadata.Requirements["code_generated"] = false
	c.Metadata.Labels["team"] = "b"
	c.Metadata.Artifacts[0].Attributes["hash"] = "def"

	assert.Equal(t, GatePass, item.History[0].GateResults[0].Status)
	assert.Equal(t, 81.0, item.Metadata.QualityMetrics["code_coverage"])
	assert.True(t, item.Metadata.Requirements["code_generated"])
	assert.Equal(t, "a", item.Metadata.Labels["team"])
	assert.Equal(t, "abc", item.Metadata.Artifacts[0].Attributes["hash"])

	last, ok := item.LastRecord()
	assert.True(t, ok)
	assert.Equal(t, int64(1), last.Seq)
	_, ok = (&WorkItem{}).LastRecord()
	assert.False(t, ok)

	var nilItem *WorkItem
	assert.Nil(t, nilItem.Clone())
	assert.Equal(t, SnapshotKey{Organization: "o", Project: "p"}, (&WorkItem{Organization: "o", Project: "p"}).Key())
}
