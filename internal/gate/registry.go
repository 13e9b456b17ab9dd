package gate

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/foundry/internal/types"
)

// Registry holds registered quality gates, organized by target phase.
// Gates are stored by value, so a policy change never races an
// evaluation in progress.
type Registry struct {
	mu    sync.RWMutex
	gates map[types.Phase][]Gate
}

// NewRegistry creates an empty gate registry.
func NewRegistry() *Registry {
	return &Registry{gates: make(map[types.Phase][]Gate)}
}

// Register associates gates with phase. Each gate's Phase is set to
// phase. Returns an error, registering nothing, if any id is already
// registered for the phase or repeated in the call.
func (r *Registry) Register(phase types.Phase, gates ...Gate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(r.gates[phase])+len(gates))
	for _, g := range r.gates[phase] {
		seen[g.ID] = true
	}
	for _, g := range gates {
		if g.ID == "" {
			return fmt.Errorf("gate for phase %q has no id", phase)
		}
		if seen[g.ID] {
			return fmt.Errorf("gate %q already registered for phase %q", g.ID, phase)
		}
		seen[g.ID] = true
	}
	for _, g := range gates {
		g.Phase = phase
		if g.Mode == "" {
			g.Mode = GateModeStrict
		}
		r.gates[phase] = append(r.gates[phase], g)
	}
	return nil
}

// Unregister removes a gate from a phase.
func (r *Registry) Unregister(phase types.Phase, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.gates[phase]
	for i, g := range list {
		if g.ID == id {
			r.gates[phase] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Get returns a copy of the gate, if registered.
func (r *Registry) Get(phase types.Phase, id string) (Gate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.gates[phase] {
		if g.ID == id {
			return g, true
		}
	}
	return Gate{}, false
}

// SetMode overrides a registered gate's mode. It reports whether the
// gate was found.
func (r *Registry) SetMode(phase types.Phase, id string, mode GateMode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.gates[phase] {
		if r.gates[phase][i].ID == id {
			r.gates[phase][i].Mode = mode
			return true
		}
	}
	return false
}

// GatesFor returns the gates guarding phase, in registration order.
func (r *Registry) GatesFor(phase types.Phase) []Gate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Gate(nil), r.gates[phase]...)
}

// Phases returns every phase with at least one gate, sorted.
func (r *Registry) Phases() []types.Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Phase, 0, len(r.gates))
	for p, gates := range r.gates {
		if len(gates) > 0 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the total number of registered gates.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, gates := range r.gates {
		n += len(gates)
	}
	return n
}

// Evaluate runs every gate registered for target against item and
// returns all results in registration order. A phase with no gates
// yields an empty result list.
func (r *Registry) Evaluate(item *types.WorkItem, target types.Phase, now time.Time) []types.QualityGateResult {
	gates := r.GatesFor(target)
	gc := GateContext{Item: item, Target: target}
	if item != nil {
		gc.From = item.CurrentPhase
	}
	results := make([]types.QualityGateResult, 0, len(gates))
	for _, g := range gates {
		results = append(results, g.evaluate(gc, now))
	}
	return results
}
