package gate

import (
	"testing"

	"github.com/steveyegge/foundry/internal/types"
)

func TestFromDefinitionDefaultWorkflow(t *testing.T) {
	reg, err := FromDefinition(types.DefaultWorkflow())
	if err != nil {
		t.Fatalf("FromDefinition: %v", err)
	}
	if got := len(reg.GatesFor("testing")); got != 3 {
		t.Errorf("expected 3 testing gates, got %d", got)
	}
	g, ok := reg.Get("analysis", "technical_approach_approved")
	if !ok {
		t.Fatal("expected optional analysis gate")
	}
	if g.Mode != GateModeSoft {
		t.Errorf("technical_approach_approved mode = %q, want soft", g.Mode)
	}
	if g, _ := reg.Get("code_generation", "ai_confidence_threshold"); g.Mode != GateModeStrict {
		t.Errorf("ai_confidence_threshold mode = %q, want strict", g.Mode)
	}
}

func TestFromSpecUnknownKind(t *testing.T) {
	if _, err := FromSpec(types.GateSpec{ID: "x", Kind: "telepathy"}); err == nil {
		t.Error("expected error for unknown gate kind")
	}
}

func TestBuiltinChecks(t *testing.T) {
	item := &types.WorkItem{
		Metadata: types.Metadata{
			ConfidenceScore:    0.82,
			ProgressPercentage: 40,
			QualityMetrics:     map[string]float64{"code_coverage": 79.5},
			Requirements:       map[string]bool{"code_generated": true, "basic_syntax_check": false},
			Artifacts:          []types.ArtifactLink{{Kind: "pull_request", URL: "https://github.com/o/r/pull/7"}},
		},
	}
	tests := []struct {
		name string
		spec types.GateSpec
		want bool
	}{
		{"requirement met", types.GateSpec{ID: "code_generated", Kind: types.GateKindRequirement}, true},
		{"requirement false", types.GateSpec{ID: "basic_syntax_check", Kind: types.GateKindRequirement}, false},
		{"requirement absent", types.GateSpec{ID: "peer_review_complete"}, false},
		{"requirement custom key", types.GateSpec{ID: "gen", Kind: types.GateKindRequirement, Key: "code_generated"}, true},
		{"coverage below", types.GateSpec{ID: "cov", Kind: types.GateKindMinMetric, Key: "code_coverage", Threshold: 80}, false},
		{"coverage met", types.GateSpec{ID: "cov", Kind: types.GateKindMinMetric, Key: "code_coverage", Threshold: 75}, true},
		{"metric missing", types.GateSpec{ID: "lint", Kind: types.GateKindMinMetric, Key: "lint_score", Threshold: 1}, false},
		{"confidence met", types.GateSpec{ID: "conf", Kind: types.GateKindConfidence, Threshold: 0.7}, true},
		{"confidence below", types.GateSpec{ID: "conf", Kind: types.GateKindConfidence, Threshold: 0.9}, false},
		{"progress below", types.GateSpec{ID: "prog", Kind: types.GateKindProgress, Threshold: 50}, false},
		{"progress met", types.GateSpec{ID: "prog", Kind: types.GateKindProgress, Threshold: 40}, true},
		{"artifact attached", types.GateSpec{ID: "pr", Kind: types.GateKindArtifact, Key: "pull_request"}, true},
		{"artifact missing", types.GateSpec{ID: "build", Kind: types.GateKindArtifact, Key: "build"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := FromSpec(tt.spec)
			if err != nil {
				t.Fatalf("FromSpec: %v", err)
			}
			got, details := g.Check(GateContext{Item: item})
			if got != tt.want {
				t.Errorf("check = %v (%s), want %v", got, details, tt.want)
			}
		})
	}
}

func TestBuiltinChecksNilItem(t *testing.T) {
	for _, kind := range []string{types.GateKindRequirement, types.GateKindMinMetric, types.GateKindConfidence, types.GateKindProgress, types.GateKindArtifact} {
		g, err := FromSpec(types.GateSpec{ID: "g", Kind: kind, Key: "k"})
		if err != nil {
			t.Fatal(err)
		}
		if pass, _ := g.Check(GateContext{}); pass {
			t.Errorf("%s gate passed with no work item", kind)
		}
	}
}
