package service

import (
	"strings"
	"time"

	"github.com/linwei/iface-registry/internal/domain/entity"
	"github.com/linwei/iface-registry/internal/identity"
	"github.com/linwei/iface-registry/internal/repository"
	"go.uber.org/zap"
)

// deref unwraps an optional field, returning the empty string when absent.
func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// seenToday reports whether a stored timestamp falls on the same calendar
// day as the scan time. A business-id sibling last seen today is part of
// the current scan; only a row stale since a prior day counts as replaced.
func seenToday(ts string, now time.Time) bool {
	return len(ts) >= 10 && ts[:10] == identity.FormatDate(now)
}

// normalizeDepartment enforces the empty-department invariant: a row with
// no department is routed to the director for confirmation.
func normalizeDepartment(dept string) string {
	d := strings.TrimSpace(dept)
	if d == "" || strings.EqualFold(d, "nan") {
		return entity.DepartmentSentinel
	}
	return d
}

// UpsertTaskTx applies one scan row inside an existing transaction. The
// decision consults the previous snapshot: the row stored under the same
// key, or, when the key is new, a business-id sibling that dropped out of
// the scans (a moved or rewritten row). A sibling still seen today is a
// coexisting row of the same interface, never a predecessor. Five paths:
// fresh insert, confirmed carry-over, archive-and-fork, reset, or plain
// inheritance.
func (s *Service) UpsertTaskTx(tx repository.Executor, key entity.TaskKey, fields entity.UpsertFields, now time.Time) error {
	key.SourceFile = identity.Basename(key.SourceFile)
	key.InterfaceID = identity.NormalizeInterfaceID(key.InterfaceID)
	id := identity.TaskID(key.FileType, key.ProjectID, key.InterfaceID, key.SourceFile, key.RowIndex)
	bid := identity.BusinessID(key.FileType, key.ProjectID, key.InterfaceID)
	nowTS := identity.FormatTimestamp(now)

	prev, err := s.tasks.GetByID(tx, id)
	if err != nil {
		return err
	}
	if prev == nil {
		sibling, err := s.tasks.LatestActiveByBusinessID(tx, bid)
		if err != nil {
			return err
		}
		if sibling != nil && !seenToday(sibling.LastSeenAt, now) {
			prev = sibling
		}
	}

	if prev == nil {
		return s.insertFresh(tx, id, bid, key, fields, nowTS)
	}

	timeProvided := fields.InterfaceTime != nil
	newTime := deref(fields.InterfaceTime)
	timeChanged := timeProvided && !identity.SameInterfaceTime(newTime, prev.InterfaceTime)

	colObserved := fields.CompletedColValue != nil
	colEmpty := colObserved && strings.TrimSpace(*fields.CompletedColValue) == ""
	completedCleared := colEmpty && prev.CompletedAt != ""

	switch {
	case prev.Status == entity.StatusConfirmed && colObserved && !colEmpty && !timeChanged:
		return s.carryConfirmed(tx, id, bid, key, prev, fields, nowTS)

	case prev.HasCompleteChain() && (timeChanged || completedCleared):
		return s.archiveAndFork(tx, id, bid, key, prev, fields, now, nowTS)

	case timeChanged || completedCleared:
		return s.resetTask(tx, id, bid, key, prev, fields, completedCleared, nowTS)

	default:
		return s.inherit(tx, id, bid, key, prev, fields, nowTS)
	}
}

// insertFresh handles a key whose business id has no live row at all.
func (s *Service) insertFresh(tx repository.Executor, id, bid string, key entity.TaskKey, fields entity.UpsertFields, nowTS string) error {
	display := deref(fields.DisplayStatus)
	if display == "" {
		display = entity.DisplayPending
	}

	t := &entity.Task{
		ID:                id,
		BusinessID:        bid,
		FileType:          key.FileType,
		ProjectID:         key.ProjectID,
		InterfaceID:       key.InterfaceID,
		SourceFile:        key.SourceFile,
		RowIndex:          key.RowIndex,
		Department:        normalizeDepartment(deref(fields.Department)),
		InterfaceTime:     deref(fields.InterfaceTime),
		Role:              deref(fields.Role),
		ResponsiblePerson: deref(fields.ResponsiblePerson),
		ResponseNumber:    deref(fields.ResponseNumber),
		AssignedBy:        deref(fields.AssignedBy),
		AssignedAt:        deref(fields.AssignedAt),
		Status:            entity.StatusOpen,
		DisplayStatus:     display,
		FirstSeenAt:       nowTS,
		LastSeenAt:        nowTS,
	}

	s.logger.Debug("Upsert: fresh insert",
		zap.String("id", id), zap.String("business_id", bid))
	return s.tasks.Save(tx, t)
}

// carryConfirmed handles a rescan of a confirmed interface whose response
// column is still filled and whose expected time has not really changed.
// The full chain survives; the row stays hidden from active lists.
func (s *Service) carryConfirmed(tx repository.Executor, id, bid string, key entity.TaskKey, prev *entity.Task, fields entity.UpsertFields, nowTS string) error {
	t := s.carriedRow(id, bid, key, prev, fields, nowTS)
	t.Status = entity.StatusConfirmed
	t.CompletedBy = prev.CompletedBy
	t.CompletedAt = prev.CompletedAt
	t.ConfirmedBy = prev.ConfirmedBy
	t.ConfirmedAt = prev.ConfirmedAt
	t.DisplayStatus = ""

	if err := s.applyIgnoreCarry(tx, t, prev, fields, nowTS); err != nil {
		return err
	}

	s.logger.Debug("Upsert: confirmed carry-over",
		zap.String("id", id), zap.String("business_id", bid))
	return s.saveMoved(tx, t, prev)
}

// archiveAndFork preserves a row with a complete chain as history and
// starts a fresh open row for the changed interface.
func (s *Service) archiveAndFork(tx repository.Executor, id, bid string, key entity.TaskKey, prev *entity.Task, fields entity.UpsertFields, now time.Time, nowTS string) error {
	archivedID := identity.ArchivedTaskID(prev.ID, nowTS)
	if err := s.tasks.Archive(tx, prev.ID, archivedID, entity.ArchiveReasonUpdated, nowTS); err != nil {
		return err
	}
	if err := s.WriteEventTx(tx, entity.EventArchived, &key, map[string]any{
		"reason":         entity.ArchiveReasonUpdated,
		"interface_time": prev.InterfaceTime,
	}, now); err != nil {
		return err
	}

	t := s.carriedRow(id, bid, key, prev, fields, nowTS)
	t.Status = entity.StatusOpen
	t.DisplayStatus = entity.DisplayPending
	t.FirstSeenAt = nowTS
	t.SeenViaUpdate = true

	if err := s.applyIgnoreCarry(tx, t, prev, fields, nowTS); err != nil {
		return err
	}

	s.logger.Info("Upsert: archived and forked",
		zap.String("old_id", prev.ID),
		zap.String("new_id", id),
		zap.String("business_id", bid))
	return s.tasks.Save(tx, t)
}

// resetTask clears the completion chain in place when the expected time
// changed, or the response column was cleared, before the chain completed.
func (s *Service) resetTask(tx repository.Executor, id, bid string, key entity.TaskKey, prev *entity.Task, fields entity.UpsertFields, completedCleared bool, nowTS string) error {
	t := s.carriedRow(id, bid, key, prev, fields, nowTS)
	t.Status = entity.StatusOpen
	t.CompletedBy = ""
	t.CompletedAt = ""
	t.ConfirmedBy = ""
	t.ConfirmedAt = ""
	t.ResponseNumber = ""
	if t.ResponsiblePerson == "" {
		t.DisplayStatus = entity.DisplayAssign
	} else {
		t.DisplayStatus = entity.DisplayPending
	}

	if err := s.applyIgnoreCarry(tx, t, prev, fields, nowTS); err != nil {
		return err
	}

	// A reset that lands on a different key supersedes the old row
	// immediately instead of waiting for the missing sweep.
	if prev.ID != id {
		reason := entity.ArchiveReasonUpdated
		if completedCleared {
			reason = entity.ArchiveReasonResetCleared
		}
		archivedID := identity.ArchivedTaskID(prev.ID, nowTS)
		if err := s.tasks.Archive(tx, prev.ID, archivedID, reason, nowTS); err != nil {
			return err
		}
	}

	s.logger.Info("Upsert: reset in place",
		zap.String("id", id),
		zap.String("business_id", bid),
		zap.Bool("completed_cleared", completedCleared))
	return s.tasks.Save(tx, t)
}

// inherit is the quiet path: refresh the scan-owned columns and preserve
// everything the lifecycle owns.
func (s *Service) inherit(tx repository.Executor, id, bid string, key entity.TaskKey, prev *entity.Task, fields entity.UpsertFields, nowTS string) error {
	t := s.carriedRow(id, bid, key, prev, fields, nowTS)
	t.Status = prev.Status
	t.CompletedBy = prev.CompletedBy
	t.CompletedAt = prev.CompletedAt
	t.ConfirmedBy = prev.ConfirmedBy
	t.ConfirmedAt = prev.ConfirmedAt

	// Display is preserved unless the caller explicitly sets a
	// non-default value.
	t.DisplayStatus = prev.DisplayStatus
	if ds := deref(fields.DisplayStatus); ds != "" && ds != entity.DisplayPending {
		t.DisplayStatus = ds
	}
	if t.Status == entity.StatusConfirmed {
		t.DisplayStatus = ""
	}

	if err := s.applyIgnoreCarry(tx, t, prev, fields, nowTS); err != nil {
		return err
	}

	return s.saveMoved(tx, t, prev)
}

// carriedRow builds the common base row: locator from the incoming key,
// scan-owned columns from the candidate fields, assignment and bookkeeping
// from the previous snapshot. Callers overlay the path-specific state.
func (s *Service) carriedRow(id, bid string, key entity.TaskKey, prev *entity.Task, fields entity.UpsertFields, nowTS string) *entity.Task {
	t := &entity.Task{
		ID:          id,
		BusinessID:  bid,
		FileType:    key.FileType,
		ProjectID:   key.ProjectID,
		InterfaceID: key.InterfaceID,
		SourceFile:  key.SourceFile,
		RowIndex:    key.RowIndex,

		FirstSeenAt:   prev.FirstSeenAt,
		SeenViaUpdate: prev.SeenViaUpdate,
		LastSeenAt:    nowTS,
	}

	t.Department = prev.Department
	if fields.Department != nil {
		t.Department = deref(fields.Department)
	}
	t.Department = normalizeDepartment(t.Department)

	t.InterfaceTime = prev.InterfaceTime
	if fields.InterfaceTime != nil {
		t.InterfaceTime = *fields.InterfaceTime
	}

	t.Role = prev.Role
	if fields.Role != nil {
		t.Role = *fields.Role
	}

	t.ResponseNumber = prev.ResponseNumber
	if fields.ResponseNumber != nil {
		t.ResponseNumber = *fields.ResponseNumber
	}

	// Assignment is coalesced: a scan never clears who assigned what.
	t.AssignedBy = prev.AssignedBy
	if t.AssignedBy == "" {
		t.AssignedBy = deref(fields.AssignedBy)
	}
	t.AssignedAt = prev.AssignedAt
	if t.AssignedAt == "" {
		t.AssignedAt = deref(fields.AssignedAt)
	}

	// An assigned responsible person survives every rescan; the ingest
	// only fills it while the task is unassigned.
	t.ResponsiblePerson = prev.ResponsiblePerson
	if prev.AssignedBy == "" && fields.ResponsiblePerson != nil && *fields.ResponsiblePerson != "" {
		t.ResponsiblePerson = *fields.ResponsiblePerson
	}

	return t
}

// applyIgnoreCarry transfers the orthogonal ignore flag across an upsert.
// A genuine expected-time change relative to the snapshot cancels the
// ignore; a mere format difference preserves it.
func (s *Service) applyIgnoreCarry(tx repository.Executor, t *entity.Task, prev *entity.Task, fields entity.UpsertFields, nowTS string) error {
	if !prev.Ignored {
		return nil
	}

	snapTime := prev.InterfaceTimeWhenIgnored
	snap, err := s.snapshots.GetByTaskID(tx, prev.ID)
	if err != nil {
		return err
	}
	if snap != nil {
		snapTime = snap.InterfaceTime
	}

	timeProvided := fields.InterfaceTime != nil
	if timeProvided && !identity.SameInterfaceTime(*fields.InterfaceTime, snapTime) {
		if err := s.snapshots.Delete(tx, prev.ID); err != nil {
			return err
		}
		key := t.Key()
		if err := s.events.Append(tx, nowTS, entity.EventUnignored, &key, map[string]any{
			"auto":     true,
			"old_time": snapTime,
			"new_time": *fields.InterfaceTime,
		}); err != nil {
			return err
		}
		s.logger.Info("Ignore auto-cancelled on expected-time change",
			zap.String("id", t.ID),
			zap.String("old_time", snapTime),
			zap.String("new_time", *fields.InterfaceTime))
		return nil
	}

	t.Ignored = true
	t.IgnoredAt = prev.IgnoredAt
	t.IgnoredBy = prev.IgnoredBy
	t.InterfaceTimeWhenIgnored = snapTime
	t.IgnoredReason = prev.IgnoredReason

	// The snapshot follows the row when the key moved.
	if prev.ID != t.ID {
		if err := s.snapshots.Delete(tx, prev.ID); err != nil {
			return err
		}
		return s.snapshots.Save(tx, &entity.IgnoredSnapshot{
			TaskID:        t.ID,
			BusinessID:    t.BusinessID,
			InterfaceTime: snapTime,
			IgnoredBy:     prev.IgnoredBy,
			IgnoredReason: prev.IgnoredReason,
			IgnoredAt:     prev.IgnoredAt,
		})
	}
	return nil
}

// saveMoved writes the row and, when the key moved to a new locator,
// retires the superseded previous row so two live rows never describe the
// same logical interface.
func (s *Service) saveMoved(tx repository.Executor, t *entity.Task, prev *entity.Task) error {
	if err := s.tasks.Save(tx, t); err != nil {
		return err
	}
	if prev.ID != t.ID {
		archivedID := identity.ArchivedTaskID(prev.ID, t.LastSeenAt)
		if err := s.tasks.Archive(tx, prev.ID, archivedID, entity.ArchiveReasonUpdated, t.LastSeenAt); err != nil {
			return err
		}
		if err := s.snapshots.Delete(tx, prev.ID); err != nil {
			return err
		}
	}
	return nil
}
