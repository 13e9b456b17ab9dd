package configcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/foundry/internal/codec"
	"github.com/steveyegge/foundry/internal/types"
)

// StructureSource fetches the raw project structure from the remote tracker.
type StructureSource interface {
	FetchStructure(ctx context.Context, key types.SnapshotKey) (*types.RawStructure, error)
}

// StructureSourceFunc adapts a function to StructureSource.
type StructureSourceFunc func(ctx context.Context, key types.SnapshotKey) (*types.RawStructure, error)

func (f StructureSourceFunc) FetchStructure(ctx context.Context, key types.SnapshotKey) (*types.RawStructure, error) {
	return f(ctx, key)
}

// BuildSnapshot combines a remote structure with the workflow definition.
// A phase whose declared state is not a state of the remote work item
// type gets an empty State, so the engine reports it as unmapped. The
// caller assigns Version.
func BuildSnapshot(raw *types.RawStructure, def *types.WorkflowDefinition, fetchedAt time.Time, ttl time.Duration) (*types.Snapshot, error) {
	if raw == nil {
		return nil, fmt.Errorf("build snapshot: nil structure")
	}
	hash, err := codec.Fingerprint(raw)
	if err != nil {
		return nil, err
	}
	norm := raw.Normalized()

	s := &types.Snapshot{
		Organization:  raw.Organization,
		Project:       raw.Project,
		FetchedAt:     fetchedAt,
		TTL:           ttl,
		Hash:          hash,
		WorkItemType:  def.WorkItemType,
		WorkItemTypes: norm.WorkItemTypes,
		BoardColumns:  norm.BoardColumns,
		CustomFields:  norm.CustomFields,
		Phases:        make([]types.Phase, 0, len(def.Phases)),
		Rules:         make(map[types.Phase]types.PhaseRule, len(def.Phases)),
	}

	witDef, haveType := norm.WorkItemType(def.WorkItemType)
	for _, pd := range def.Phases {
		rule := types.PhaseRule{
			Phase: pd.Name,
			Next:  append([]types.Phase(nil), pd.Next...),
		}
		if haveType && pd.State != "" {
			for _, st := range witDef.States {
				if strings.EqualFold(st, pd.State) {
					rule.State = st
					break
				}
			}
		}
		if rule.State != "" {
			rule.Column = resolveColumn(norm.BoardColumns, def.WorkItemType, rule.State, pd.Column)
		}
		s.Phases = append(s.Phases, pd.Name)
		s.Rules[pd.Name] = rule
	}
	return s, nil
}

// resolveColumn prefers the declared column when the board has it, then
// the column whose state mapping places this type in state.
func resolveColumn(cols []types.BoardColumnDef, witName, state, declared string) string {
	if len(cols) == 0 {
		return declared
	}
	if declared != "" {
		for _, c := range cols {
			if strings.EqualFold(c.Name, declared) {
				return c.Name
			}
		}
	}
	for _, c := range cols {
		for wit, st := range c.StateMappings {
			if strings.EqualFold(wit, witName) && strings.EqualFold(st, state) {
				return c.Name
			}
		}
	}
	return ""
}
