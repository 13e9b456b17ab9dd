package gate

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/foundry/internal/types"
)

var evalTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseGateMode(t *testing.T) {
	tests := []struct {
		input   string
		want    GateMode
		wantErr bool
	}{
		{"strict", GateModeStrict, false},
		{"SOFT", GateModeSoft, false},
		{" soft ", GateModeSoft, false},
		{"warn", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseGateMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseGateMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseGateMode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEvaluateRunsAllGates(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	fail := func(GateContext) (bool, string) { calls++; return false, "nope" }
	pass := func(GateContext) (bool, string) { calls++; return true, "" }
	if err := reg.Register("testing",
		Gate{ID: "first", Mode: GateModeStrict, Check: fail},
		Gate{ID: "second", Mode: GateModeStrict, Check: fail},
		Gate{ID: "third", Mode: GateModeSoft, Check: pass},
		Gate{ID: "unchecked", Mode: GateModeSoft},
	); err != nil {
		t.Fatal(err)
	}

	item := &types.WorkItem{ID: "wi-1", CurrentPhase: "code_review"}
	results := reg.Evaluate(item, "testing", evalTime)
	if calls != 3 {
		t.Errorf("expected every check to run, got %d calls", calls)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	wantStatus := []types.GateStatus{types.GateFail, types.GateFail, types.GatePass, types.GateSkipped}
	for i, r := range results {
		if r.Status != wantStatus[i] {
			t.Errorf("results[%d] (%s) status = %s, want %s", i, r.GateID, r.Status, wantStatus[i])
		}
		if !r.EvaluatedAt.Equal(evalTime) {
			t.Errorf("results[%d] evaluated_at = %v", i, r.EvaluatedAt)
		}
	}

	d := Decide(results)
	if d.Allowed {
		t.Fatal("expected decision to block")
	}
	if len(d.Blocking) != 2 {
		t.Errorf("expected 2 blocking results, got %d", len(d.Blocking))
	}
	if len(d.Warnings) != 1 || !strings.HasPrefix(d.Warnings[0], "unchecked:") {
		t.Errorf("warnings = %v", d.Warnings)
	}

	err := d.Err("testing")
	var gfe *types.GateFailureError
	if !errors.As(err, &gfe) {
		t.Fatalf("Err() = %v, want GateFailureError", err)
	}
	if got := gfe.FailedGateIDs(); len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("FailedGateIDs = %v", got)
	}
	if len(gfe.Results) != 4 {
		t.Errorf("expected full results on the error, got %d", len(gfe.Results))
	}
}

func TestEvaluateDoesNotMutateItem(t *testing.T) {
	reg, err := FromDefinition(types.DefaultWorkflow())
	if err != nil {
		t.Fatal(err)
	}
	item := &types.WorkItem{
		ID:           "wi-1",
		CurrentPhase: "code_review",
		Metadata: types.Metadata{
			QualityMetrics: map[string]float64{"code_coverage": 91},
			Requirements:   map[string]bool{"unit_tests_passed": true},
		},
	}
	before := item.Clone()
	_ = reg.Evaluate(item, "testing", evalTime)
	if item.Metadata.QualityMetrics["code_coverage"] != before.Metadata.QualityMetrics["code_coverage"] ||
		len(item.Metadata.Requirements) != len(before.Metadata.Requirements) ||
		item.CurrentPhase != before.CurrentPhase {
		t.Error("evaluation mutated the work item")
	}
}

func TestOptionalFailureDoesNotBlock(t *testing.T) {
	results := []types.QualityGateResult{
		{GateID: "a", Status: types.GatePass, Mandatory: true},
		{GateID: "b", Status: types.GateFail, Mandatory: false, Details: "missing"},
	}
	d := Decide(results)
	if !d.Allowed {
		t.Fatal("optional failure must not block")
	}
	if d.Err("analysis") != nil {
		t.Error("Err() should be nil for an allowed decision")
	}
	if len(d.Warnings) != 1 || d.Warnings[0] != "b: missing" {
		t.Errorf("warnings = %v", d.Warnings)
	}
}

func TestFailureDetailsFallBackToDescription(t *testing.T) {
	g := Gate{
		ID:          "g",
		Description: "the thing is missing",
		Hint:        "add the thing",
		Mode:        GateModeStrict,
		Check:       func(GateContext) (bool, string) { return false, "" },
	}
	r := g.evaluate(GateContext{}, evalTime)
	if r.Details != "the thing is missing (hint: add the thing)" {
		t.Errorf("details = %q", r.Details)
	}
	if !r.Mandatory || !r.Blocking() {
		t.Error("strict gate failure should block")
	}
}
