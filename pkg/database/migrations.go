package database

import (
	"fmt"

	"go.uber.org/zap"
)

// The schema is declared in two layers: base CREATE statements for fresh
// databases, and a column list that upgrades databases created by older
// releases via idempotent ADD COLUMN statements. Every statement here must
// be safe to re-run on every open.

const createTasksTable = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	business_id TEXT,
	file_type INTEGER NOT NULL,
	project_id TEXT NOT NULL,
	interface_id TEXT NOT NULL,
	source_file TEXT NOT NULL,
	row_index INTEGER NOT NULL,
	department TEXT,
	interface_time TEXT,
	role TEXT,
	responsible_person TEXT,
	response_number TEXT,
	assigned_by TEXT,
	assigned_at TEXT,
	completed_by TEXT,
	completed_at TEXT,
	confirmed_by TEXT,
	confirmed_at TEXT,
	archived_at TEXT,
	status TEXT NOT NULL DEFAULT 'open',
	display_status TEXT,
	first_seen_at TEXT,
	seen_via_update INTEGER NOT NULL DEFAULT 0,
	last_seen_at TEXT,
	missing_since TEXT,
	archive_reason TEXT,
	ignored INTEGER NOT NULL DEFAULT 0,
	ignored_at TEXT,
	ignored_by TEXT,
	interface_time_when_ignored TEXT,
	ignored_reason TEXT
);`

const createSnapshotsTable = `
CREATE TABLE IF NOT EXISTS ignored_snapshots (
	task_id TEXT PRIMARY KEY,
	business_id TEXT NOT NULL,
	interface_time TEXT,
	ignored_by TEXT,
	ignored_reason TEXT,
	ignored_at TEXT
);`

const createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	event TEXT NOT NULL,
	file_type INTEGER,
	project_id TEXT,
	interface_id TEXT,
	source_file TEXT,
	row_index INTEGER,
	extra TEXT
);`

// taskColumns upgrades pre-existing task tables. Older installs predate the
// ignore flag, the business id and several bookkeeping columns.
var taskColumns = []struct {
	name string
	ddl  string
}{
	{"business_id", "business_id TEXT"},
	{"response_number", "response_number TEXT"},
	{"assigned_by", "assigned_by TEXT"},
	{"assigned_at", "assigned_at TEXT"},
	{"completed_by", "completed_by TEXT"},
	{"archived_at", "archived_at TEXT"},
	{"seen_via_update", "seen_via_update INTEGER NOT NULL DEFAULT 0"},
	{"missing_since", "missing_since TEXT"},
	{"archive_reason", "archive_reason TEXT"},
	{"ignored", "ignored INTEGER NOT NULL DEFAULT 0"},
	{"ignored_at", "ignored_at TEXT"},
	{"ignored_by", "ignored_by TEXT"},
	{"interface_time_when_ignored", "interface_time_when_ignored TEXT"},
	{"ignored_reason", "ignored_reason TEXT"},
}

var indexStatements = []string{
	// Uniqueness of the composite key holds for live rows only: an
	// archive-and-fork leaves the archived copy with the same locator as
	// the fresh row that replaces it.
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_live_key ON tasks(file_type, project_id, interface_id, source_file, row_index) WHERE status != 'archived'",
	"CREATE INDEX IF NOT EXISTS idx_tasks_file_project ON tasks(file_type, project_id)",
	"CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)",
	"CREATE INDEX IF NOT EXISTS idx_tasks_last_seen ON tasks(last_seen_at)",
	"CREATE INDEX IF NOT EXISTS idx_tasks_business_id ON tasks(business_id)",
	"CREATE INDEX IF NOT EXISTS idx_tasks_interface_id ON tasks(interface_id)",
	"CREATE INDEX IF NOT EXISTS idx_tasks_display_status ON tasks(display_status)",
	"CREATE INDEX IF NOT EXISTS idx_tasks_display_lookup ON tasks(file_type, project_id, interface_id, ignored, status)",
	"CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)",
	"CREATE INDEX IF NOT EXISTS idx_events_event ON events(event)",
	"CREATE INDEX IF NOT EXISTS idx_events_file_project ON events(file_type, project_id)",
}

// Migrate brings the schema up to date. It runs on every open; all of its
// statements are idempotent, so service code can assume every column and
// index exists afterwards.
func Migrate(db *DB, logger *zap.Logger) error {
	for _, stmt := range []string{createTasksTable, createSnapshotsTable, createEventsTable} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	existing, err := tableColumns(db, "tasks")
	if err != nil {
		return err
	}
	backfillBusinessID := false
	for _, col := range taskColumns {
		if existing[col.name] {
			continue
		}
		logger.Info("Adding missing column",
			zap.String("table", "tasks"), zap.String("column", col.name))
		if _, err := db.Exec(fmt.Sprintf("ALTER TABLE tasks ADD COLUMN %s", col.ddl)); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
		if col.name == "business_id" {
			backfillBusinessID = true
		}
	}

	if backfillBusinessID {
		// Rows written before business_id existed derive it from their
		// constituent fields. One-shot: the column exists on every later open.
		res, err := db.Exec(`
			UPDATE tasks
			SET business_id = CAST(file_type AS TEXT) || '|' || project_id || '|' || interface_id
			WHERE business_id IS NULL OR business_id = ''`)
		if err != nil {
			return fmt.Errorf("failed to backfill business_id: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			logger.Info("Backfilled business_id", zap.Int64("rows", n))
		}
	}

	for _, stmt := range indexStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func tableColumns(db *DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table info: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
