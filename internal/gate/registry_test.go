package gate

import (
	"sync"
	"testing"

	"github.com/steveyegge/foundry/internal/types"
)

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register("testing", Gate{ID: "unit_tests_passed"}, Gate{ID: "coverage"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if reg.Count() != 2 {
		t.Errorf("expected 2 gates, got %d", reg.Count())
	}
	g, ok := reg.Get("testing", "coverage")
	if !ok {
		t.Fatal("Get returned false for registered gate")
	}
	if g.Phase != "testing" {
		t.Errorf("expected phase to be stamped, got %q", g.Phase)
	}
	if g.Mode != GateModeStrict {
		t.Errorf("expected default mode strict, got %q", g.Mode)
	}
}

func TestRegistryDuplicateReject(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("testing", Gate{ID: "dup"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("testing", Gate{ID: "other"}, Gate{ID: "dup"}); err == nil {
		t.Error("expected error for duplicate registration")
	}
	if reg.Count() != 1 {
		t.Errorf("failed registration must add nothing, count = %d", reg.Count())
	}
	if err := reg.Register("deployment", Gate{ID: "dup"}); err != nil {
		t.Errorf("same id on another phase should be allowed: %v", err)
	}
	if err := reg.Register("deployment", Gate{}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register("testing", Gate{ID: "a"}, Gate{ID: "b"}, Gate{ID: "c"})

	reg.Unregister("testing", "b")
	reg.Unregister("testing", "missing")

	gates := reg.GatesFor("testing")
	if len(gates) != 2 || gates[0].ID != "a" || gates[1].ID != "c" {
		t.Errorf("GatesFor after unregister = %+v", gates)
	}
}

func TestRegistryGatesForReturnsCopy(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register("testing", Gate{ID: "a"})

	gates := reg.GatesFor("testing")
	gates[0].Mode = GateModeSoft
	if g, _ := reg.Get("testing", "a"); g.Mode != GateModeStrict {
		t.Error("mutating the returned slice changed the registry")
	}
	if len(reg.GatesFor("unknown")) != 0 {
		t.Error("expected no gates for an unknown phase")
	}
}

func TestRegistryPhases(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register("testing", Gate{ID: "a"})
	_ = reg.Register("analysis", Gate{ID: "b"})
	_ = reg.Register("planning")

	phases := reg.Phases()
	want := []types.Phase{"analysis", "testing"}
	if len(phases) != len(want) {
		t.Fatalf("Phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("Phases[%d] = %q, want %q", i, phases[i], want[i])
		}
	}
}

func TestRegistryConcurrentEvaluateAndSetMode(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register("testing", Gate{ID: "a", Check: func(GateContext) (bool, string) { return false, "" }})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = reg.Evaluate(&types.WorkItem{}, "testing", evalTime)
		}()
		go func() {
			defer wg.Done()
			reg.SetMode("testing", "a", GateModeSoft)
		}()
	}
	wg.Wait()
}
