package configcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/steveyegge/foundry/internal/clock"
	"github.com/steveyegge/foundry/internal/config"
	"github.com/steveyegge/foundry/internal/types"
)

var (
	testKey   = types.NewSnapshotKey("contoso", "manufacturing")
	testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

// fakeSource counts fetches and can be made to block or fail.
type fakeSource struct {
	calls atomic.Int64

	mu      sync.Mutex
	states  []string
	err     error
	failFor map[string]bool // project names that always fail
	gate    chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{states: []string{"New", "Active", "Resolved", "Closed"}}
}

func (f *fakeSource) FetchStructure(ctx context.Context, key types.SnapshotKey) (*types.RawStructure, error) {
	f.calls.Add(1)
	f.mu.Lock()
	gate, err, states, fail := f.gate, f.err, append([]string(nil), f.states...), f.failFor[key.Project]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("project not found")
	}
	if err != nil {
		return nil, err
	}
	return testStructure(key, states...), nil
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSource) setStates(states ...string) {
	f.mu.Lock()
	f.states = states
	f.mu.Unlock()
}

func testStructure(key types.SnapshotKey, states ...string) *types.RawStructure {
	return &types.RawStructure{
		Organization: key.Organization,
		Project:      key.Project,
		WorkItemTypes: []types.WorkItemTypeDef{
			{Name: "User Story", States: states},
			{Name: "Bug", States: []string{"New", "Active", "Closed"}},
		},
		BoardColumns: []types.BoardColumnDef{
			{Name: "New", ColumnType: "incoming", StateMappings: map[string]string{"User Story": "New"}},
			{Name: "Active", ColumnType: "inProgress", StateMappings: map[string]string{"User Story": "Active"}},
			{Name: "Resolved", ColumnType: "inProgress", StateMappings: map[string]string{"User Story": "Resolved"}},
			{Name: "Closed", ColumnType: "outgoing", StateMappings: map[string]string{"User Story": "Closed"}},
		},
		CustomFields: []types.FieldDef{
			{ReferenceName: "Custom.AIGenerated", Name: "AI Generated", Type: "boolean"},
		},
	}
}

func newTestCache(t *testing.T, src StructureSource, opts ...Option) (*Cache, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(testEpoch)
	all := append([]Option{WithClock(clk), WithTTL(time.Hour), WithPolicy(config.PolicySoft)}, opts...)
	c, err := New(src, types.DefaultWorkflow(), all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, clk
}
