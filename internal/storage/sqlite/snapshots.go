package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/steveyegge/foundry/internal/types"
)

// GetSnapshot returns the stored snapshot for key and its stale mark.
func (s *SQLiteStorage) GetSnapshot(ctx context.Context, key types.SnapshotKey) (*types.Snapshot, bool, error) {
	var data string
	var stale bool
	err := s.db.QueryRowContext(ctx,
		`SELECT data, stale FROM snapshots WHERE organization = ? AND project = ?`,
		key.Organization, key.Project,
	).Scan(&data, &stale)
	if err != nil {
		return nil, false, wrapDBErrorf(err, "get snapshot %s", key)
	}
	var snap types.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return &snap, stale, nil
}

// PutSnapshot stores snap when its version exceeds the stored one.
func (s *SQLiteStorage) PutSnapshot(ctx context.Context, snap *types.Snapshot) error {
	key := snap.Key()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current int64
		err := tx.QueryRowContext(ctx,
			`SELECT version FROM snapshots WHERE organization = ? AND project = ?`,
			key.Organization, key.Project,
		).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return wrapDBErrorf(err, "read snapshot version %s", key)
		case snap.Version <= current:
			return &types.StaleWriteError{Key: key, Current: current, Attempted: snap.Version}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshots (organization, project, version, hash, fetched_at, stale, data)
			VALUES (?, ?, ?, ?, ?, 0, ?)
			ON CONFLICT (organization, project) DO UPDATE SET
				version = excluded.version,
				hash = excluded.hash,
				fetched_at = excluded.fetched_at,
				stale = 0,
				data = excluded.data
			WHERE excluded.version > snapshots.version`,
			key.Organization, key.Project, snap.Version, snap.Hash, formatTime(snap.FetchedAt), string(data),
		)
		return wrapDBErrorf(err, "put snapshot %s", key)
	})
}

// MarkStale flags the stored snapshot for key.
func (s *SQLiteStorage) MarkStale(ctx context.Context, key types.SnapshotKey) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE snapshots SET stale = 1 WHERE organization = ? AND project = ?`,
		key.Organization, key.Project,
	)
	return wrapDBErrorf(err, "mark snapshot stale %s", key)
}

// AppendChange records a validation change entry.
func (s *SQLiteStorage) AppendChange(ctx context.Context, e types.ChangeEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshot_changes (organization, project, old_version, new_version, old_hash, new_hash, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Organization, e.Project, e.OldVersion, e.NewVersion, e.OldHash, e.NewHash, formatTime(e.DetectedAt),
	)
	return wrapDBErrorf(err, "append change %s/%s", e.Organization, e.Project)
}

// ListChanges returns up to limit entries for key, newest first. A
// non-positive limit returns all of them.
func (s *SQLiteStorage) ListChanges(ctx context.Context, key types.SnapshotKey, limit int) ([]types.ChangeEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT organization, project, old_version, new_version, old_hash, new_hash, detected_at
		FROM snapshot_changes
		WHERE organization = ? AND project = ?
		ORDER BY id DESC
		LIMIT ?`,
		key.Organization, key.Project, limit,
	)
	if err != nil {
		return nil, wrapDBErrorf(err, "list changes %s", key)
	}
	defer rows.Close()

	var out []types.ChangeEntry
	for rows.Next() {
		var e types.ChangeEntry
		var detected string
		if err := rows.Scan(&e.Organization, &e.Project, &e.OldVersion, &e.NewVersion, &e.OldHash, &e.NewHash, &detected); err != nil {
			return nil, wrapDBErrorf(err, "scan change %s", key)
		}
		e.DetectedAt = parseTime(detected)
		out = append(out, e)
	}
	return out, wrapDBErrorf(rows.Err(), "list changes %s", key)
}
