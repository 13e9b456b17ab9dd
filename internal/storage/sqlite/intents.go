package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/steveyegge/foundry/internal/types"
)

// SaveIntent records (or replaces) the pending remote update for an item.
func (s *SQLiteStorage) SaveIntent(ctx context.Context, in types.Intent) error {
	gates, err := json.Marshal(nonNilGates(in.GateResults))
	if err != nil {
		return fmt.Errorf("encode intent gates for %s: %w", in.WorkItemID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transition_intents (work_item_id, from_phase, to_phase, kind, state, from_state, gate_results, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (work_item_id) DO UPDATE SET
			from_phase = excluded.from_phase,
			to_phase = excluded.to_phase,
			kind = excluded.kind,
			state = excluded.state,
			from_state = excluded.from_state,
			gate_results = excluded.gate_results,
			created_at = excluded.created_at`,
		in.WorkItemID, string(in.FromPhase), string(in.ToPhase), string(in.Kind), in.State, in.FromState, string(gates), formatTime(in.CreatedAt),
	)
	return wrapDBErrorf(err, "save intent %s", in.WorkItemID)
}

// GetIntent returns the pending intent for an item.
func (s *SQLiteStorage) GetIntent(ctx context.Context, workItemID string) (*types.Intent, error) {
	var in types.Intent
	var from, to, kind, gates, created string
	err := s.db.QueryRowContext(ctx, `
		SELECT work_item_id, from_phase, to_phase, kind, state, from_state, gate_results, created_at
		FROM transition_intents WHERE work_item_id = ?`, workItemID,
	).Scan(&in.WorkItemID, &from, &to, &kind, &in.State, &in.FromState, &gates, &created)
	if err != nil {
		return nil, wrapDBErrorf(err, "get intent %s", workItemID)
	}
	in.FromPhase = types.Phase(from)
	in.ToPhase = types.Phase(to)
	in.Kind = types.TransitionKind(kind)
	in.CreatedAt = parseTime(created)
	if err := json.Unmarshal([]byte(gates), &in.GateResults); err != nil {
		return nil, fmt.Errorf("decode intent gates for %s: %w", workItemID, err)
	}
	return &in, nil
}

// ClearIntent removes the pending intent, if any.
func (s *SQLiteStorage) ClearIntent(ctx context.Context, workItemID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM transition_intents WHERE work_item_id = ?`, workItemID)
	return wrapDBErrorf(err, "clear intent %s", workItemID)
}
