package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/steveyegge/foundry/internal/storage"
	"github.com/steveyegge/foundry/internal/types"
)

// CreateWorkItem inserts a new item. Any history on item is ignored.
func (s *SQLiteStorage) CreateWorkItem(ctx context.Context, item *types.WorkItem) error {
	md, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata for %s: %w", item.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO work_items (id, external_id, organization, project, title, description,
			work_item_type, current_phase, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.ExternalID, item.Organization, item.Project, item.Title, item.Description,
		item.WorkItemType, string(item.CurrentPhase), string(md), formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("work item %s: %w", item.ID, storage.ErrAlreadyExists)
	}
	return wrapDBErrorf(err, "create work item %s", item.ID)
}

const workItemColumns = `id, external_id, organization, project, title, description,
	work_item_type, current_phase, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*types.WorkItem, error) {
	var item types.WorkItem
	var phase, md, created, updated string
	if err := row.Scan(&item.ID, &item.ExternalID, &item.Organization, &item.Project, &item.Title,
		&item.Description, &item.WorkItemType, &phase, &md, &created, &updated); err != nil {
		return nil, err
	}
	item.CurrentPhase = types.Phase(phase)
	item.CreatedAt = parseTime(created)
	item.UpdatedAt = parseTime(updated)
	if err := json.Unmarshal([]byte(md), &item.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", item.ID, err)
	}
	return &item, nil
}

// GetWorkItem loads an item and its history.
func (s *SQLiteStorage) GetWorkItem(ctx context.Context, id string) (*types.WorkItem, error) {
	item, err := scanWorkItem(s.db.QueryRowContext(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE id = ?`, id))
	if err != nil {
		return nil, wrapDBErrorf(err, "get work item %s", id)
	}
	if item.History, err = s.loadHistory(ctx, id); err != nil {
		return nil, err
	}
	return item, nil
}

// ListWorkItems returns the items of one project, oldest first.
func (s *SQLiteStorage) ListWorkItems(ctx context.Context, key types.SnapshotKey) ([]*types.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE organization = ? AND project = ? ORDER BY created_at, id`,
		key.Organization, key.Project)
	if err != nil {
		return nil, wrapDBErrorf(err, "list work items %s", key)
	}
	var items []*types.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			_ = rows.Close()
			return nil, wrapDBErrorf(err, "scan work item %s", key)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, wrapDBErrorf(err, "list work items %s", key)
	}
	_ = rows.Close()

	for _, item := range items {
		if item.History, err = s.loadHistory(ctx, item.ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *SQLiteStorage) loadHistory(ctx context.Context, id string) ([]types.PhaseTransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, from_phase, to_phase, kind, state, timestamp, gate_results, outcome, attempts
		FROM transition_history WHERE work_item_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, wrapDBErrorf(err, "load history %s", id)
	}
	defer rows.Close()

	var history []types.PhaseTransitionRecord
	for rows.Next() {
		var rec types.PhaseTransitionRecord
		var from, to, kind, ts, gates, outcome string
		if err := rows.Scan(&rec.Seq, &from, &to, &kind, &rec.State, &ts, &gates, &outcome, &rec.Attempts); err != nil {
			return nil, wrapDBErrorf(err, "scan history %s", id)
		}
		rec.FromPhase = types.Phase(from)
		rec.ToPhase = types.Phase(to)
		rec.Kind = types.TransitionKind(kind)
		rec.Outcome = types.TransitionOutcome(outcome)
		rec.Timestamp = parseTime(ts)
		if err := json.Unmarshal([]byte(gates), &rec.GateResults); err != nil {
			return nil, fmt.Errorf("decode gate results for %s#%d: %w", id, rec.Seq, err)
		}
		history = append(history, rec)
	}
	return history, wrapDBErrorf(rows.Err(), "load history %s", id)
}

// UpdateMetadata replaces an item's metadata.
func (s *SQLiteStorage) UpdateMetadata(ctx context.Context, id string, md types.Metadata) error {
	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("encode metadata for %s: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE work_items SET metadata = ? WHERE id = ?`, string(data), id)
	if err != nil {
		return wrapDBErrorf(err, "update metadata %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update metadata %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// CommitTransition appends rec and moves the item to rec.ToPhase in one
// transaction, so a phase change is never visible without its record.
func (s *SQLiteStorage) CommitTransition(ctx context.Context, id string, rec types.PhaseTransitionRecord) (types.PhaseTransitionRecord, error) {
	gates, err := json.Marshal(nonNilGates(rec.GateResults))
	if err != nil {
		return types.PhaseTransitionRecord{}, fmt.Errorf("encode gate results for %s: %w", id, err)
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		if err := tx.QueryRowContext(ctx, `SELECT current_phase FROM work_items WHERE id = ?`, id).Scan(&current); err != nil {
			return wrapDBErrorf(err, "commit transition %s", id)
		}
		if types.Phase(current) != rec.FromPhase {
			return fmt.Errorf("work item %s is in %s, not %s: %w", id, current, rec.FromPhase, storage.ErrConflict)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM transition_history WHERE work_item_id = ?`, id,
		).Scan(&rec.Seq); err != nil {
			return wrapDBErrorf(err, "next history seq %s", id)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transition_history (work_item_id, seq, from_phase, to_phase, kind, state,
				timestamp, gate_results, outcome, attempts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, rec.Seq, string(rec.FromPhase), string(rec.ToPhase), string(rec.Kind), rec.State,
			formatTime(rec.Timestamp), string(gates), string(rec.Outcome), rec.Attempts,
		); err != nil {
			return wrapDBErrorf(err, "append history %s", id)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE work_items SET current_phase = ?, updated_at = ? WHERE id = ?`,
			string(rec.ToPhase), formatTime(rec.Timestamp), id)
		return wrapDBErrorf(err, "update phase %s", id)
	})
	if err != nil {
		return types.PhaseTransitionRecord{}, err
	}
	return rec, nil
}

func nonNilGates(results []types.QualityGateResult) []types.QualityGateResult {
	if results == nil {
		return []types.QualityGateResult{}
	}
	return results
}
