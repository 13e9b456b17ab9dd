package types

import (
	"fmt"
	"strings"
)

// Gate kinds understood by the builtin gate factory.
const (
	GateKindRequirement = "requirement" // Metadata.Requirements[key] must be true
	GateKindMinMetric   = "min_metric"  // Metadata.QualityMetrics[key] >= threshold
	GateKindConfidence  = "confidence"  // Metadata.ConfidenceScore >= threshold
	GateKindArtifact    = "artifact"    // an artifact of kind key must be attached
	GateKindProgress    = "progress"    // Metadata.ProgressPercentage >= threshold
)

// GateSpec declares a quality gate in a workflow definition.
type GateSpec struct {
	ID          string  `json:"id" yaml:"id" toml:"id"`
	Kind        string  `json:"kind" yaml:"kind" toml:"kind"`
	Key         string  `json:"key,omitempty" yaml:"key,omitempty" toml:"key,omitempty"`
	Threshold   float64 `json:"threshold,omitempty" yaml:"threshold,omitempty" toml:"threshold,omitempty"`
	Optional    bool    `json:"optional,omitempty" yaml:"optional,omitempty" toml:"optional,omitempty"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
}

// PhaseDefinition declares a phase, the board state it maps to, and the
// phases reachable from it.
type PhaseDefinition struct {
	Name   Phase      `json:"name" yaml:"name" toml:"name"`
	State  string     `json:"state" yaml:"state" toml:"state"`
	Column string     `json:"column,omitempty" yaml:"column,omitempty" toml:"column,omitempty"`
	Next   []Phase    `json:"next,omitempty" yaml:"next,omitempty" toml:"next,omitempty"`
	Gates  []GateSpec `json:"gates,omitempty" yaml:"gates,omitempty" toml:"gates,omitempty"`
}

// WorkflowDefinition is the locally configured manufacturing workflow,
// combined with the remote structure to build a Snapshot.
type WorkflowDefinition struct {
	WorkItemType string            `json:"work_item_type" yaml:"work_item_type" toml:"work_item_type"`
	Phases       []PhaseDefinition `json:"phases" yaml:"phases" toml:"phases"`
}

// Validate checks the definition once at load time: phase names must be
// unique and non-empty, and every edge must point at a declared phase.
// Names are normalized to lower case in place.
func (d *WorkflowDefinition) Validate() error {
	if len(d.Phases) == 0 {
		return fmt.Errorf("workflow definition declares no phases")
	}
	seen := make(map[Phase]bool, len(d.Phases))
	for i := range d.Phases {
		p := &d.Phases[i]
		p.Name = Phase(strings.ToLower(strings.TrimSpace(string(p.Name))))
		if p.Name == "" {
			return fmt.Errorf("phase %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("phase %q declared twice", p.Name)
		}
		seen[p.Name] = true
	}
	for i := range d.Phases {
		p := &d.Phases[i]
		gateIDs := make(map[string]bool, len(p.Gates))
		for j, next := range p.Next {
			next = Phase(strings.ToLower(strings.TrimSpace(string(next))))
			if !seen[next] {
				return fmt.Errorf("phase %q: transition to undeclared phase %q", p.Name, next)
			}
			p.Next[j] = next
		}
		for _, g := range p.Gates {
			if g.ID == "" {
				return fmt.Errorf("phase %q: gate with empty id", p.Name)
			}
			if gateIDs[g.ID] {
				return fmt.Errorf("phase %q: gate %q declared twice", p.Name, g.ID)
			}
			gateIDs[g.ID] = true
		}
	}
	return nil
}

// Phase returns the named phase definition.
func (d *WorkflowDefinition) Phase(name Phase) (PhaseDefinition, bool) {
	for _, p := range d.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseDefinition{}, false
}

// DefaultWorkflow returns the built-in AI manufacturing workflow: eight
// phases, forward-linear with skip-ahead and back edges.
func DefaultWorkflow() *WorkflowDefinition {
	req := func(id string) GateSpec {
		return GateSpec{ID: id, Kind: GateKindRequirement, Key: id}
	}
	opt := func(id string) GateSpec {
		g := req(id)
		g.Optional = true
		return g
	}
	return &WorkflowDefinition{
		WorkItemType: "User Story",
		Phases: []PhaseDefinition{
			{
				Name: "analysis", State: "New", Column: "New",
				Next:  []Phase{"planning", "code_generation"},
				Gates: []GateSpec{req("requirements_documented"), req("acceptance_criteria_defined"), opt("technical_approach_approved")},
			},
			{
				Name: "planning", State: "New", Column: "New",
				Next:  []Phase{"code_generation", "analysis"},
				Gates: []GateSpec{req("technical_design_complete"), req("effort_estimated"), req("dependencies_identified")},
			},
			{
				Name: "code_generation", State: "Active", Column: "Active",
				Next: []Phase{"code_review", "testing"},
				Gates: []GateSpec{
					req("code_generated"), req("basic_syntax_check"),
					{ID: "ai_confidence_threshold", Kind: GateKindConfidence, Threshold: 0.7},
				},
			},
			{
				Name: "code_review", State: "Active", Column: "Active",
				Next:  []Phase{"testing", "code_generation"},
				Gates: []GateSpec{req("peer_review_complete"), req("code_standards_compliant"), req("security_review_passed")},
			},
			{
				Name: "testing", State: "Resolved", Column: "Resolved",
				Next: []Phase{"integration", "code_generation"},
				Gates: []GateSpec{
					req("unit_tests_passed"),
					{ID: "code_coverage_threshold", Kind: GateKindMinMetric, Key: "code_coverage", Threshold: 80},
					req("integration_tests_passed"),
				},
			},
			{
				Name: "integration", State: "Resolved", Column: "Resolved",
				Next:  []Phase{"deployment", "testing"},
				Gates: []GateSpec{req("build_successful"), req("deployment_package_created"), req("integration_tests_passed")},
			},
			{
				Name: "deployment", State: "Resolved", Column: "Resolved",
				Next:  []Phase{"completion", "integration"},
				Gates: []GateSpec{req("deployment_successful"), req("smoke_tests_passed"), req("monitoring_configured")},
			},
			{
				Name: "completion", State: "Closed", Column: "Closed",
				Gates: []GateSpec{req("user_acceptance_complete"), req("documentation_updated"), opt("knowledge_transfer_complete")},
			},
		},
	}
}
