package gate

import (
	"testing"

	"github.com/steveyegge/foundry/internal/types"
)

func TestApplyPolicy(t *testing.T) {
	policy := &Policy{Phases: map[types.Phase]PhasePolicy{
		"Testing": {Gates: map[string]GatePolicy{
			"coverage":     {Mode: "soft"},
			"unregistered": {Mode: "soft"},
			"unit":         {Mode: "loud"},
		}},
	}}

	reg := NewRegistry()
	_ = reg.Register("testing", Gate{ID: "coverage"}, Gate{ID: "unit"})

	if n := ApplyPolicy(reg, policy); n != 1 {
		t.Errorf("ApplyPolicy changed %d gates, want 1", n)
	}
	if g, _ := reg.Get("testing", "coverage"); g.Mode != GateModeSoft {
		t.Errorf("coverage mode = %q, want soft", g.Mode)
	}
	if g, _ := reg.Get("testing", "unit"); g.Mode != GateModeStrict {
		t.Errorf("unknown mode should leave gate strict, got %q", g.Mode)
	}
	if ApplyPolicy(reg, nil) != 0 {
		t.Error("nil policy should change nothing")
	}
	if ApplyPolicy(reg, &Policy{}) != 0 {
		t.Error("empty policy should change nothing")
	}
}
