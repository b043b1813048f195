package repository

import (
	"database/sql"
	"fmt"

	"github.com/linwei/iface-registry/internal/domain/entity"
	"go.uber.org/zap"
)

// SnapshotRepository persists the per-ignore expected-time snapshots.
type SnapshotRepository struct {
	logger *zap.Logger
}

// NewSnapshotRepository creates a snapshot repository.
func NewSnapshotRepository(logger *zap.Logger) *SnapshotRepository {
	return &SnapshotRepository{logger: logger}
}

// Save writes the snapshot for a task, replacing any previous one.
func (r *SnapshotRepository) Save(ex Executor, s *entity.IgnoredSnapshot) error {
	query := `
		INSERT INTO ignored_snapshots (task_id, business_id, interface_time, ignored_by, ignored_reason, ignored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			business_id = excluded.business_id,
			interface_time = excluded.interface_time,
			ignored_by = excluded.ignored_by,
			ignored_reason = excluded.ignored_reason,
			ignored_at = excluded.ignored_at
	`
	_, err := ex.Exec(query,
		s.TaskID, s.BusinessID, nullable(s.InterfaceTime),
		nullable(s.IgnoredBy), nullable(s.IgnoredReason), nullable(s.IgnoredAt))
	if err != nil {
		r.logger.Error("Failed to save ignored snapshot",
			zap.String("task_id", s.TaskID), zap.Error(err))
		return fmt.Errorf("failed to save ignored snapshot: %w", err)
	}
	return nil
}

// GetByTaskID returns the snapshot for a task, or nil.
func (r *SnapshotRepository) GetByTaskID(ex Executor, taskID string) (*entity.IgnoredSnapshot, error) {
	query := `SELECT task_id, business_id, interface_time, ignored_by, ignored_reason, ignored_at
		FROM ignored_snapshots WHERE task_id = ?`

	var s entity.IgnoredSnapshot
	var interfaceTime, ignoredBy, reason, ignoredAt sql.NullString
	err := ex.QueryRow(query, taskID).Scan(
		&s.TaskID, &s.BusinessID, &interfaceTime, &ignoredBy, &reason, &ignoredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get ignored snapshot",
			zap.String("task_id", taskID), zap.Error(err))
		return nil, fmt.Errorf("failed to get ignored snapshot: %w", err)
	}
	s.InterfaceTime = interfaceTime.String
	s.IgnoredBy = ignoredBy.String
	s.IgnoredReason = reason.String
	s.IgnoredAt = ignoredAt.String
	return &s, nil
}

// Delete removes the snapshot for a task. Deleting an absent snapshot is
// not an error.
func (r *SnapshotRepository) Delete(ex Executor, taskID string) error {
	if _, err := ex.Exec("DELETE FROM ignored_snapshots WHERE task_id = ?", taskID); err != nil {
		r.logger.Error("Failed to delete ignored snapshot",
			zap.String("task_id", taskID), zap.Error(err))
		return fmt.Errorf("failed to delete ignored snapshot: %w", err)
	}
	return nil
}
