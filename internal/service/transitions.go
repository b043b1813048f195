package service

import (
	"database/sql"
	"time"

	"github.com/linwei/iface-registry/internal/domain/entity"
	"github.com/linwei/iface-registry/internal/identity"
	"github.com/linwei/iface-registry/internal/repository"
	"go.uber.org/zap"
)

func (s *Service) taskByKey(tx repository.Executor, key entity.TaskKey) (*entity.Task, error) {
	id := identity.TaskID(key.FileType, key.ProjectID, key.InterfaceID,
		identity.Basename(key.SourceFile), key.RowIndex)
	return s.tasks.GetByID(tx, id)
}

// MarkCompleted records a designer's response in its own transaction.
func (s *Service) MarkCompleted(key entity.TaskKey, completedBy, responseNumber string, now time.Time) error {
	return s.withTxOp(func(tx repository.Executor) error {
		return s.MarkCompletedTx(tx, key, completedBy, responseNumber, now)
	})
}

// MarkCompletedTx moves an open task to completed. The review label depends
// on whether anyone assigned the task: assigned tasks route back to the
// assigner for review.
func (s *Service) MarkCompletedTx(tx repository.Executor, key entity.TaskKey, completedBy, responseNumber string, now time.Time) error {
	t, err := s.taskByKey(tx, key)
	if err != nil {
		return err
	}
	if t == nil {
		return ErrTaskNotFound
	}
	if t.Status != entity.StatusOpen {
		return &StateViolationError{Op: "mark_completed", Current: t.Status, Required: entity.StatusOpen}
	}

	t.Status = entity.StatusCompleted
	t.CompletedBy = completedBy
	t.CompletedAt = identity.FormatTimestamp(now)
	if responseNumber != "" {
		t.ResponseNumber = responseNumber
	}
	if t.AssignedBy != "" {
		t.DisplayStatus = entity.DisplayAssignerReview
	} else {
		t.DisplayStatus = entity.DisplayReview
	}
	t.Department = normalizeDepartment(t.Department)

	if err := s.tasks.Save(tx, t); err != nil {
		return err
	}
	s.logger.Info("Task completed",
		zap.String("id", t.ID),
		zap.String("completed_by", completedBy))
	return s.WriteEventTx(tx, entity.EventResponseWritten, &key, map[string]any{
		"completed_by":    completedBy,
		"response_number": responseNumber,
	}, now)
}

// MarkConfirmed records a superior's confirmation in its own transaction.
func (s *Service) MarkConfirmed(key entity.TaskKey, confirmedBy string, now time.Time) error {
	return s.withTxOp(func(tx repository.Executor) error {
		return s.MarkConfirmedTx(tx, key, confirmedBy, now)
	})
}

// MarkConfirmedTx moves a completed task to confirmed and clears its
// display status so the row leaves active lists.
func (s *Service) MarkConfirmedTx(tx repository.Executor, key entity.TaskKey, confirmedBy string, now time.Time) error {
	t, err := s.taskByKey(tx, key)
	if err != nil {
		return err
	}
	if t == nil {
		return ErrTaskNotFound
	}
	if t.Status != entity.StatusCompleted {
		return &StateViolationError{Op: "mark_confirmed", Current: t.Status, Required: entity.StatusCompleted}
	}

	t.Status = entity.StatusConfirmed
	t.ConfirmedBy = confirmedBy
	t.ConfirmedAt = identity.FormatTimestamp(now)
	t.DisplayStatus = ""
	t.Department = normalizeDepartment(t.Department)

	if err := s.tasks.Save(tx, t); err != nil {
		return err
	}
	s.logger.Info("Task confirmed",
		zap.String("id", t.ID),
		zap.String("confirmed_by", confirmedBy))
	return s.WriteEventTx(tx, entity.EventConfirmed, &key, map[string]any{
		"confirmed_by": confirmedBy,
	}, now)
}

// MarkUnconfirmed reverses a confirmation in its own transaction.
func (s *Service) MarkUnconfirmed(key entity.TaskKey, unconfirmedBy string, now time.Time) error {
	return s.withTxOp(func(tx repository.Executor) error {
		return s.MarkUnconfirmedTx(tx, key, unconfirmedBy, now)
	})
}

// MarkUnconfirmedTx moves a confirmed task back to completed, restoring the
// review label. The completion timestamp survives; only the confirmation is
// undone.
func (s *Service) MarkUnconfirmedTx(tx repository.Executor, key entity.TaskKey, unconfirmedBy string, now time.Time) error {
	t, err := s.taskByKey(tx, key)
	if err != nil {
		return err
	}
	if t == nil {
		return ErrTaskNotFound
	}
	if t.Status != entity.StatusConfirmed {
		return &StateViolationError{Op: "mark_unconfirmed", Current: t.Status, Required: entity.StatusConfirmed}
	}

	t.Status = entity.StatusCompleted
	t.ConfirmedBy = ""
	t.ConfirmedAt = ""
	if t.AssignedBy != "" {
		t.DisplayStatus = entity.DisplayAssignerReview
	} else {
		t.DisplayStatus = entity.DisplayReview
	}
	t.Department = normalizeDepartment(t.Department)

	if err := s.tasks.Save(tx, t); err != nil {
		return err
	}
	s.logger.Info("Task unconfirmed",
		zap.String("id", t.ID),
		zap.String("unconfirmed_by", unconfirmedBy))
	return s.WriteEventTx(tx, entity.EventUnconfirmed, &key, map[string]any{
		"unconfirmed_by": unconfirmedBy,
	}, now)
}

// MarkIgnoredBatch hides a set of tasks in one transaction, snapshotting
// each task's expected time. Keys that are absent, archived or already
// ignored are reported in the result, not raised.
func (s *Service) MarkIgnoredBatch(keys []entity.TaskKey, ignoredBy, reason string, now time.Time) (*entity.BatchResult, error) {
	var result *entity.BatchResult
	err := s.withTxOp(func(tx repository.Executor) error {
		result = s.MarkIgnoredBatchTx(tx, keys, ignoredBy, reason, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkIgnoredBatchTx is the transactional core of MarkIgnoredBatch.
func (s *Service) MarkIgnoredBatchTx(tx repository.Executor, keys []entity.TaskKey, ignoredBy, reason string, now time.Time) *entity.BatchResult {
	result := &entity.BatchResult{}
	for _, key := range keys {
		if failReason := s.markIgnoredOne(tx, key, ignoredBy, reason, now); failReason != "" {
			result.FailedTasks = append(result.FailedTasks, entity.FailedTask{Key: key, Reason: failReason})
		} else {
			result.SuccessCount++
		}
	}
	return result
}

func (s *Service) markIgnoredOne(tx repository.Executor, key entity.TaskKey, ignoredBy, reason string, now time.Time) string {
	t, err := s.taskByKey(tx, key)
	if err != nil {
		return err.Error()
	}
	if t == nil {
		return "task not found"
	}
	if t.Status == entity.StatusArchived {
		return "task is archived"
	}
	if t.Ignored {
		return "task already ignored"
	}

	nowTS := identity.FormatTimestamp(now)
	t.Ignored = true
	t.IgnoredAt = nowTS
	t.IgnoredBy = ignoredBy
	t.IgnoredReason = reason
	t.InterfaceTimeWhenIgnored = t.InterfaceTime

	if err := s.tasks.Save(tx, t); err != nil {
		return err.Error()
	}
	if err := s.snapshots.Save(tx, &entity.IgnoredSnapshot{
		TaskID:        t.ID,
		BusinessID:    t.BusinessID,
		InterfaceTime: t.InterfaceTime,
		IgnoredBy:     ignoredBy,
		IgnoredReason: reason,
		IgnoredAt:     nowTS,
	}); err != nil {
		return err.Error()
	}
	if err := s.WriteEventTx(tx, entity.EventIgnored, &key, map[string]any{
		"ignored_by": ignoredBy,
		"reason":     reason,
	}, now); err != nil {
		return err.Error()
	}
	return ""
}

// UnmarkIgnoredBatch reverses MarkIgnoredBatch for a set of keys.
func (s *Service) UnmarkIgnoredBatch(keys []entity.TaskKey, unignoredBy string, now time.Time) (*entity.BatchResult, error) {
	var result *entity.BatchResult
	err := s.withTxOp(func(tx repository.Executor) error {
		result = s.UnmarkIgnoredBatchTx(tx, keys, unignoredBy, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UnmarkIgnoredBatchTx is the transactional core of UnmarkIgnoredBatch.
func (s *Service) UnmarkIgnoredBatchTx(tx repository.Executor, keys []entity.TaskKey, unignoredBy string, now time.Time) *entity.BatchResult {
	result := &entity.BatchResult{}
	for _, key := range keys {
		if failReason := s.unmarkIgnoredOne(tx, key, unignoredBy, now); failReason != "" {
			result.FailedTasks = append(result.FailedTasks, entity.FailedTask{Key: key, Reason: failReason})
		} else {
			result.SuccessCount++
		}
	}
	return result
}

func (s *Service) unmarkIgnoredOne(tx repository.Executor, key entity.TaskKey, unignoredBy string, now time.Time) string {
	t, err := s.taskByKey(tx, key)
	if err != nil {
		return err.Error()
	}
	if t == nil {
		return "task not found"
	}
	if !t.Ignored {
		return "task not ignored"
	}

	t.Ignored = false
	t.IgnoredAt = ""
	t.IgnoredBy = ""
	t.IgnoredReason = ""
	t.InterfaceTimeWhenIgnored = ""

	if err := s.tasks.Save(tx, t); err != nil {
		return err.Error()
	}
	if err := s.snapshots.Delete(tx, t.ID); err != nil {
		return err.Error()
	}
	if err := s.WriteEventTx(tx, entity.EventUnignored, &key, map[string]any{
		"unignored_by": unignoredBy,
	}, now); err != nil {
		return err.Error()
	}
	return ""
}

// withTxOp adapts withTx to the Executor-typed helpers.
func (s *Service) withTxOp(fn func(tx repository.Executor) error) error {
	return s.withTx(func(tx *sql.Tx) error {
		return fn(tx)
	})
}
