// Package gate implements the quality gates that guard entry into a
// manufacturing phase.
//
// Gates are registered per target phase. Evaluation runs every gate for
// the phase (run-all, not fail-fast) so that every failure is reported at
// once. A strict gate that does not pass blocks the transition; a soft
// gate is recorded but only warns.
//
// Gate checks are pure functions of the work item. The evaluator never
// mutates the item and performs no I/O.
package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/foundry/internal/types"
)

// GateMode determines whether a gate blocks or warns.
type GateMode string

const (
	GateModeStrict GateMode = "strict" // Block the transition
	GateModeSoft   GateMode = "soft"   // Record and warn, but allow
)

// ParseGateMode parses "strict" or "soft", case-insensitive.
func ParseGateMode(s string) (GateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(GateModeStrict):
		return GateModeStrict, nil
	case string(GateModeSoft):
		return GateModeSoft, nil
	}
	return "", fmt.Errorf("unknown gate mode %q (valid: strict, soft)", s)
}

// GateContext is what a gate check sees.
type GateContext struct {
	Item   *types.WorkItem
	From   types.Phase
	Target types.Phase
}

// CheckFunc reports whether the gate passes and, optionally, why.
type CheckFunc func(ctx GateContext) (pass bool, details string)

// Gate defines a named predicate that must pass before Phase is entered.
type Gate struct {
	ID          string      // e.g. "code_coverage_threshold"
	Phase       types.Phase // the target phase this gate guards
	Description string
	Mode        GateMode
	Check       CheckFunc // nil means the gate is reported as skipped
	Hint        string    // how to satisfy this gate
}

// Mandatory reports whether a failure of g blocks the transition.
func (g Gate) Mandatory() bool { return g.Mode != GateModeSoft }

func (g Gate) evaluate(gc GateContext, now time.Time) types.QualityGateResult {
	res := types.QualityGateResult{
		GateID:      g.ID,
		Mandatory:   g.Mandatory(),
		EvaluatedAt: now,
	}
	if g.Check == nil {
		res.Status = types.GateSkipped
		res.Details = "no check configured"
		return res
	}
	pass, details := g.Check(gc)
	if pass {
		res.Status = types.GatePass
		res.Details = details
		return res
	}
	res.Status = types.GateFail
	if details == "" {
		details = g.Description
	}
	if g.Hint != "" {
		details += fmt.Sprintf(" (hint: %s)", g.Hint)
	}
	res.Details = details
	return res
}

// Decision summarizes an evaluation.
type Decision struct {
	Allowed  bool                      `json:"allowed"`
	Results  []types.QualityGateResult `json:"results,omitempty"`
	Blocking []types.QualityGateResult `json:"blocking,omitempty"`
	Warnings []string                  `json:"warnings,omitempty"` // soft gate failures
}

// Decide splits results into blocking failures and warnings. A
// transition is allowed only if no mandatory result is anything but pass.
func Decide(results []types.QualityGateResult) Decision {
	d := Decision{Allowed: true, Results: results}
	for _, r := range results {
		if r.Status == types.GatePass {
			continue
		}
		if r.Blocking() {
			d.Blocking = append(d.Blocking, r)
			continue
		}
		d.Warnings = append(d.Warnings, fmt.Sprintf("%s: %s", r.GateID, r.Details))
	}
	d.Allowed = len(d.Blocking) == 0
	return d
}

// Err returns a *types.GateFailureError for a disallowed decision, or nil.
func (d Decision) Err(phase types.Phase) error {
	if d.Allowed {
		return nil
	}
	return &types.GateFailureError{Phase: phase, Failed: d.Blocking, Results: d.Results}
}
