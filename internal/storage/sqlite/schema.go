package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
-- Latest snapshot per project. version only ever increases.
CREATE TABLE IF NOT EXISTS snapshots (
    organization TEXT NOT NULL,
    project TEXT NOT NULL,
    version INTEGER NOT NULL,
    hash TEXT NOT NULL DEFAULT '',
    fetched_at TEXT NOT NULL,
    stale INTEGER NOT NULL DEFAULT 0,
    data TEXT NOT NULL,
    PRIMARY KEY (organization, project)
);

CREATE TABLE IF NOT EXISTS snapshot_changes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    organization TEXT NOT NULL,
    project TEXT NOT NULL,
    old_version INTEGER NOT NULL,
    new_version INTEGER NOT NULL,
    old_hash TEXT NOT NULL,
    new_hash TEXT NOT NULL,
    detected_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshot_changes_key ON snapshot_changes(organization, project, id);

CREATE TABLE IF NOT EXISTS work_items (
    id TEXT PRIMARY KEY,
    external_id TEXT NOT NULL DEFAULT '',
    organization TEXT NOT NULL,
    project TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    work_item_type TEXT NOT NULL DEFAULT '',
    current_phase TEXT NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_work_items_project ON work_items(organization, project);

-- Append-only manufacturing history.
CREATE TABLE IF NOT EXISTS transition_history (
    work_item_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    from_phase TEXT NOT NULL,
    to_phase TEXT NOT NULL,
    kind TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT '',
    timestamp TEXT NOT NULL,
    gate_results TEXT NOT NULL DEFAULT '[]',
    outcome TEXT NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (work_item_id, seq),
    FOREIGN KEY (work_item_id) REFERENCES work_items(id) ON DELETE CASCADE
);

-- At most one pending remote update per work item.
CREATE TABLE IF NOT EXISTS transition_intents (
    work_item_id TEXT PRIMARY KEY,
    from_phase TEXT NOT NULL,
    to_phase TEXT NOT NULL,
    kind TEXT NOT NULL,
    state TEXT NOT NULL,
    from_state TEXT NOT NULL DEFAULT '',
    gate_results TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL
);
`

// addedColumns are columns introduced after a table first shipped. They
// are added to databases created before them.
var addedColumns = []struct {
	table, column, ddl string
}{
	{"transition_intents", "from_state", "ALTER TABLE transition_intents ADD COLUMN from_state TEXT NOT NULL DEFAULT ''"},
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, c := range addedColumns {
		var n int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", c.table, c.column,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", c.table, err)
		}
		if n > 0 {
			continue
		}
		if _, err := db.ExecContext(ctx, c.ddl); err != nil {
			return fmt.Errorf("add %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}
