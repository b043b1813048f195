// Package repository holds the row-level SQL for the registry tables.
// Repositories carry no business logic; the lifecycle service decides,
// repositories read and write.
package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/linwei/iface-registry/internal/domain/entity"
	"go.uber.org/zap"
)

// Executor is satisfied by both *sql.DB and *sql.Tx, so every repository
// method can run standalone or inside a batch transaction.
type Executor interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

const taskColumns = `
	id, business_id, file_type, project_id, interface_id, source_file, row_index,
	department, interface_time, role, responsible_person, response_number,
	assigned_by, assigned_at, completed_by, completed_at, confirmed_by, confirmed_at, archived_at,
	status, display_status, first_seen_at, seen_via_update, last_seen_at, missing_since, archive_reason,
	ignored, ignored_at, ignored_by, interface_time_when_ignored, ignored_reason`

// TaskRepository persists task rows.
type TaskRepository struct {
	logger *zap.Logger
}

// NewTaskRepository creates a task repository.
func NewTaskRepository(logger *zap.Logger) *TaskRepository {
	return &TaskRepository{logger: logger}
}

// nullable maps the entity's empty-string convention to SQL NULL.
func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Save writes the full task row, inserting or replacing on id. The service
// computes complete row state before calling, so every column is written.
func (r *TaskRepository) Save(ex Executor, t *entity.Task) error {
	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			business_id = excluded.business_id,
			department = excluded.department,
			interface_time = excluded.interface_time,
			role = excluded.role,
			responsible_person = excluded.responsible_person,
			response_number = excluded.response_number,
			assigned_by = excluded.assigned_by,
			assigned_at = excluded.assigned_at,
			completed_by = excluded.completed_by,
			completed_at = excluded.completed_at,
			confirmed_by = excluded.confirmed_by,
			confirmed_at = excluded.confirmed_at,
			archived_at = excluded.archived_at,
			status = excluded.status,
			display_status = excluded.display_status,
			first_seen_at = excluded.first_seen_at,
			seen_via_update = excluded.seen_via_update,
			last_seen_at = excluded.last_seen_at,
			missing_since = excluded.missing_since,
			archive_reason = excluded.archive_reason,
			ignored = excluded.ignored,
			ignored_at = excluded.ignored_at,
			ignored_by = excluded.ignored_by,
			interface_time_when_ignored = excluded.interface_time_when_ignored,
			ignored_reason = excluded.ignored_reason
	`

	_, err := ex.Exec(query,
		t.ID, t.BusinessID, t.FileType, t.ProjectID, t.InterfaceID, t.SourceFile, t.RowIndex,
		nullable(t.Department), nullable(t.InterfaceTime), nullable(t.Role),
		nullable(t.ResponsiblePerson), nullable(t.ResponseNumber),
		nullable(t.AssignedBy), nullable(t.AssignedAt), nullable(t.CompletedBy),
		nullable(t.CompletedAt), nullable(t.ConfirmedBy), nullable(t.ConfirmedAt), nullable(t.ArchivedAt),
		t.Status, nullable(t.DisplayStatus), nullable(t.FirstSeenAt), boolToInt(t.SeenViaUpdate),
		nullable(t.LastSeenAt), nullable(t.MissingSince), nullable(t.ArchiveReason),
		boolToInt(t.Ignored), nullable(t.IgnoredAt), nullable(t.IgnoredBy),
		nullable(t.InterfaceTimeWhenIgnored), nullable(t.IgnoredReason),
	)
	if err != nil {
		r.logger.Error("Failed to save task",
			zap.String("id", t.ID),
			zap.String("business_id", t.BusinessID),
			zap.Error(err))
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// GetByID retrieves one task row; nil when absent.
func (r *TaskRepository) GetByID(ex Executor, id string) (*entity.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	task, err := scanTask(ex.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get task by id", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// GetByIDs retrieves task rows for a set of ids; absent ids are skipped.
func (r *TaskRepository) GetByIDs(ex Executor, ids []string) ([]*entity.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id IN (` + placeholders + `)`

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := ex.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to get tasks by ids", zap.Int("count", len(ids)), zap.Error(err))
		return nil, fmt.Errorf("failed to get tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// LatestActiveByBusinessID returns the most recent non-archived snapshot of
// a logical interface, or nil. This row is the "previous snapshot" the
// upsert decision consults.
func (r *TaskRepository) LatestActiveByBusinessID(ex Executor, businessID string) (*entity.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE business_id = ? AND status != 'archived'
		ORDER BY last_seen_at DESC, first_seen_at DESC
		LIMIT 1`

	task, err := scanTask(ex.QueryRow(query, businessID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get latest active task",
			zap.String("business_id", businessID), zap.Error(err))
		return nil, fmt.Errorf("failed to get latest active task: %w", err)
	}
	return task, nil
}

// ActiveByBusinessID returns all non-archived rows of a logical interface,
// regardless of which workbook currently carries them.
func (r *TaskRepository) ActiveByBusinessID(ex Executor, businessID string) ([]*entity.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE business_id = ? AND status != 'archived'
		ORDER BY last_seen_at DESC`

	rows, err := ex.Query(query, businessID)
	if err != nil {
		r.logger.Error("Failed to get active tasks",
			zap.String("business_id", businessID), zap.Error(err))
		return nil, fmt.Errorf("failed to get active tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// HistoryByBusinessID returns every row ever recorded for a logical
// interface, archived rows included, oldest first.
func (r *TaskRepository) HistoryByBusinessID(ex Executor, businessID string) ([]*entity.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE business_id = ?
		ORDER BY first_seen_at ASC, last_seen_at ASC`

	rows, err := ex.Query(query, businessID)
	if err != nil {
		r.logger.Error("Failed to get task history",
			zap.String("business_id", businessID), zap.Error(err))
		return nil, fmt.Errorf("failed to get task history: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// Archive marks a task archived, re-keying it out of the live keyspace so a
// reappearing or forked row can claim the deterministic id for the same
// locator. Archived rows lose their display status.
func (r *TaskRepository) Archive(ex Executor, id, newID, reason, archivedAt string) error {
	// An archived row needs no hiding, so the ignore flag drops with it;
	// the audit trail keeps the ignore history.
	query := `UPDATE tasks
		SET id = ?, status = 'archived', archive_reason = ?, archived_at = ?, display_status = NULL,
			ignored = 0, ignored_at = NULL, ignored_by = NULL,
			interface_time_when_ignored = NULL, ignored_reason = NULL
		WHERE id = ?`

	_, err := ex.Exec(query, newID, reason, archivedAt, id)
	if err != nil {
		r.logger.Error("Failed to archive task",
			zap.String("id", id), zap.String("reason", reason), zap.Error(err))
		return fmt.Errorf("failed to archive task: %w", err)
	}
	return nil
}

// MarkMissing stamps missing_since on active tasks whose last sighting is
// from a prior day. Confirmed tasks are never missing-marked; their expiry
// is handled separately.
func (r *TaskRepository) MarkMissing(ex Executor, today, now string) (int64, error) {
	query := `UPDATE tasks
		SET missing_since = ?
		WHERE status NOT IN ('archived', 'confirmed')
		  AND missing_since IS NULL
		  AND last_seen_at IS NOT NULL
		  AND substr(last_seen_at, 1, 10) < ?`

	res, err := ex.Exec(query, now, today)
	if err != nil {
		r.logger.Error("Failed to mark missing tasks", zap.Error(err))
		return 0, fmt.Errorf("failed to mark missing tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListMissingSince returns non-archived tasks missing since cutoff or
// earlier, due for archiving.
func (r *TaskRepository) ListMissingSince(ex Executor, cutoff string) ([]*entity.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status != 'archived'
		  AND missing_since IS NOT NULL
		  AND missing_since <= ?`

	rows, err := ex.Query(query, cutoff)
	if err != nil {
		r.logger.Error("Failed to list missing tasks", zap.Error(err))
		return nil, fmt.Errorf("failed to list missing tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// ListConfirmedBefore returns confirmed tasks whose confirmation is at or
// before cutoff, due for expiry archiving.
func (r *TaskRepository) ListConfirmedBefore(ex Executor, cutoff string) ([]*entity.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'confirmed'
		  AND confirmed_at IS NOT NULL
		  AND confirmed_at <= ?`

	rows, err := ex.Query(query, cutoff)
	if err != nil {
		r.logger.Error("Failed to list expired confirmed tasks", zap.Error(err))
		return nil, fmt.Errorf("failed to list expired confirmed tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

func scanTask(row *sql.Row) (*entity.Task, error) {
	var t entity.Task
	var dest taskScanDest
	if err := row.Scan(dest.targets(&t)...); err != nil {
		return nil, err
	}
	dest.apply(&t)
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*entity.Task, error) {
	var tasks []*entity.Task
	for rows.Next() {
		var t entity.Task
		var dest taskScanDest
		if err := rows.Scan(dest.targets(&t)...); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		dest.apply(&t)
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// taskScanDest collects the nullable columns of one task row so the two
// scan paths share a single column ordering.
type taskScanDest struct {
	department, interfaceTime, role, responsible, responseNumber   sql.NullString
	assignedBy, assignedAt, completedBy, completedAt               sql.NullString
	confirmedBy, confirmedAt, archivedAt                           sql.NullString
	displayStatus, firstSeenAt, lastSeenAt, missingSince           sql.NullString
	archiveReason, ignoredAt, ignoredBy, whenIgnored, ignoredWhy   sql.NullString
	seenViaUpdate, ignored                                         int
}

func (d *taskScanDest) targets(t *entity.Task) []any {
	return []any{
		&t.ID, &t.BusinessID, &t.FileType, &t.ProjectID, &t.InterfaceID, &t.SourceFile, &t.RowIndex,
		&d.department, &d.interfaceTime, &d.role, &d.responsible, &d.responseNumber,
		&d.assignedBy, &d.assignedAt, &d.completedBy, &d.completedAt,
		&d.confirmedBy, &d.confirmedAt, &d.archivedAt,
		&t.Status, &d.displayStatus, &d.firstSeenAt, &d.seenViaUpdate,
		&d.lastSeenAt, &d.missingSince, &d.archiveReason,
		&d.ignored, &d.ignoredAt, &d.ignoredBy, &d.whenIgnored, &d.ignoredWhy,
	}
}

func (d *taskScanDest) apply(t *entity.Task) {
	t.Department = d.department.String
	t.InterfaceTime = d.interfaceTime.String
	t.Role = d.role.String
	t.ResponsiblePerson = d.responsible.String
	t.ResponseNumber = d.responseNumber.String
	t.AssignedBy = d.assignedBy.String
	t.AssignedAt = d.assignedAt.String
	t.CompletedBy = d.completedBy.String
	t.CompletedAt = d.completedAt.String
	t.ConfirmedBy = d.confirmedBy.String
	t.ConfirmedAt = d.confirmedAt.String
	t.ArchivedAt = d.archivedAt.String
	t.DisplayStatus = d.displayStatus.String
	t.FirstSeenAt = d.firstSeenAt.String
	t.SeenViaUpdate = d.seenViaUpdate != 0
	t.LastSeenAt = d.lastSeenAt.String
	t.MissingSince = d.missingSince.String
	t.ArchiveReason = d.archiveReason.String
	t.Ignored = d.ignored != 0
	t.IgnoredAt = d.ignoredAt.String
	t.IgnoredBy = d.ignoredBy.String
	t.InterfaceTimeWhenIgnored = d.whenIgnored.String
	t.IgnoredReason = d.ignoredWhy.String
}
