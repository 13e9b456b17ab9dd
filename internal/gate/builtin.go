package gate

import (
	"fmt"
	"strings"

	"github.com/steveyegge/foundry/internal/types"
)

// FromDefinition builds a registry holding the gates declared by every
// phase of def.
func FromDefinition(def *types.WorkflowDefinition) (*Registry, error) {
	reg := NewRegistry()
	for _, pd := range def.Phases {
		gates := make([]Gate, 0, len(pd.Gates))
		for _, spec := range pd.Gates {
			g, err := FromSpec(spec)
			if err != nil {
				return nil, fmt.Errorf("phase %q: %w", pd.Name, err)
			}
			gates = append(gates, g)
		}
		if err := reg.Register(pd.Name, gates...); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// FromSpec turns a declarative gate spec into a Gate with a builtin check.
func FromSpec(spec types.GateSpec) (Gate, error) {
	g := Gate{
		ID:          spec.ID,
		Description: spec.Description,
		Mode:        GateModeStrict,
	}
	if spec.Optional {
		g.Mode = GateModeSoft
	}
	key := spec.Key
	if key == "" {
		key = spec.ID
	}

	switch strings.ToLower(spec.Kind) {
	case types.GateKindRequirement, "":
		g.Check = RequirementCheck(key)
		if g.Description == "" {
			g.Description = fmt.Sprintf("requirement %s not met", key)
		}
	case types.GateKindMinMetric:
		g.Check = MinMetricCheck(key, spec.Threshold)
		if g.Description == "" {
			g.Description = fmt.Sprintf("%s below %g", key, spec.Threshold)
		}
	case types.GateKindConfidence:
		g.Check = ConfidenceCheck(spec.Threshold)
		if g.Description == "" {
			g.Description = fmt.Sprintf("AI confidence below %g", spec.Threshold)
		}
	case types.GateKindProgress:
		g.Check = ProgressCheck(int(spec.Threshold))
		if g.Description == "" {
			g.Description = fmt.Sprintf("progress below %d%%", int(spec.Threshold))
		}
	case types.GateKindArtifact:
		g.Check = ArtifactCheck(key)
		if g.Description == "" {
			g.Description = fmt.Sprintf("no %s artifact attached", key)
		}
		g.Hint = "attach the artifact before transitioning"
	default:
		return Gate{}, fmt.Errorf("gate %q: unknown kind %q", spec.ID, spec.Kind)
	}
	return g, nil
}

// RequirementCheck passes when Metadata.Requirements[key] is true.
func RequirementCheck(key string) CheckFunc {
	return func(gc GateContext) (bool, string) {
		if gc.Item == nil || !gc.Item.Metadata.Requirements[key] {
			return false, ""
		}
		return true, ""
	}
}

// MinMetricCheck passes when Metadata.QualityMetrics[key] >= min.
func MinMetricCheck(key string, min float64) CheckFunc {
	return func(gc GateContext) (bool, string) {
		if gc.Item == nil {
			return false, ""
		}
		v, ok := gc.Item.Metadata.QualityMetrics[key]
		if !ok {
			return false, fmt.Sprintf("%s not reported", key)
		}
		if v < min {
			return false, fmt.Sprintf("%s %g < %g", key, v, min)
		}
		return true, fmt.Sprintf("%s %g >= %g", key, v, min)
	}
}

// ConfidenceCheck passes when Metadata.ConfidenceScore >= min.
func ConfidenceCheck(min float64) CheckFunc {
	return func(gc GateContext) (bool, string) {
		if gc.Item == nil {
			return false, ""
		}
		score := gc.Item.Metadata.ConfidenceScore
		if score < min {
			return false, fmt.Sprintf("confidence %.2f < %.2f", score, min)
		}
		return true, fmt.Sprintf("confidence %.2f", score)
	}
}

// ProgressCheck passes when Metadata.ProgressPercentage >= min.
func ProgressCheck(min int) CheckFunc {
	return func(gc GateContext) (bool, string) {
		if gc.Item == nil {
			return false, ""
		}
		p := gc.Item.Metadata.ProgressPercentage
		if p < min {
			return false, fmt.Sprintf("progress %d%% < %d%%", p, min)
		}
		return true, ""
	}
}

// ArtifactCheck passes when an artifact of the given kind is attached.
func ArtifactCheck(kind string) CheckFunc {
	return func(gc GateContext) (bool, string) {
		if gc.Item == nil {
			return false, ""
		}
		for _, a := range gc.Item.Metadata.Artifacts {
			if strings.EqualFold(a.Kind, kind) {
				return true, a.URL
			}
		}
		return false, ""
	}
}
