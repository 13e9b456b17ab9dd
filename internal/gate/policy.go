package gate

import (
	"strings"

	"github.com/steveyegge/foundry/internal/types"
)

// Policy overrides gate modes per phase. It is decoded from the "gates"
// config section; phase names are matched case-insensitively:
//
//	gates:
//	  phases:
//	    testing:
//	      gates:
//	        code_coverage_threshold: {mode: soft}
type Policy struct {
	Phases map[types.Phase]PhasePolicy `json:"phases" mapstructure:"phases"`
}

// PhasePolicy configures gates for one phase.
type PhasePolicy struct {
	Gates map[string]GatePolicy `json:"gates" mapstructure:"gates"`
}

// GatePolicy configures a single gate's mode.
type GatePolicy struct {
	Mode string `json:"mode" mapstructure:"mode"` // "strict" or "soft"
}

// ApplyPolicy overrides gate modes in reg. Gates named by the policy but
// not registered are ignored, as are unknown modes; the number of gates
// changed is returned.
func ApplyPolicy(reg *Registry, policy *Policy) int {
	if policy == nil {
		return 0
	}
	n := 0
	for phase, pp := range policy.Phases {
		phase = types.Phase(strings.ToLower(string(phase)))
		for id, gp := range pp.Gates {
			mode, err := ParseGateMode(gp.Mode)
			if err != nil {
				continue
			}
			if reg.SetMode(phase, id, mode) {
				n++
			}
		}
	}
	return n
}
