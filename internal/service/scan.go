package service

import (
	"time"

	"github.com/linwei/iface-registry/internal/domain/entity"
	"github.com/linwei/iface-registry/internal/identity"
	"github.com/linwei/iface-registry/internal/repository"
	"go.uber.org/zap"
)

// FinalizeResult summarizes one scan finalization sweep.
type FinalizeResult struct {
	MarkedMissing   int64 `json:"marked_missing"`
	ArchivedMissing int   `json:"archived_missing"`
	ArchivedExpired int   `json:"archived_expired"`
}

// FinalizeScan runs the end-of-scan sweep in one transaction:
//
//  1. active tasks last seen on a prior day are stamped missing_since;
//  2. tasks missing for missingKeepDays or more are archived;
//  3. confirmed tasks older than confirmedKeepDays are archived as expired.
//
// Confirmed tasks are never missing-marked; their retirement is solely the
// expiry in step 3.
func (s *Service) FinalizeScan(now time.Time, missingKeepDays, confirmedKeepDays int) (*FinalizeResult, error) {
	result := &FinalizeResult{}
	err := s.withTxOp(func(tx repository.Executor) error {
		nowTS := identity.FormatTimestamp(now)
		today := identity.FormatDate(now)

		marked, err := s.tasks.MarkMissing(tx, today, nowTS)
		if err != nil {
			return err
		}
		result.MarkedMissing = marked

		missingCutoff := identity.FormatTimestamp(now.AddDate(0, 0, -missingKeepDays))
		missing, err := s.tasks.ListMissingSince(tx, missingCutoff)
		if err != nil {
			return err
		}
		for _, t := range missing {
			if err := s.archiveTx(tx, t, entity.ArchiveReasonMissing, now); err != nil {
				return err
			}
		}
		result.ArchivedMissing = len(missing)

		expiredCutoff := identity.FormatTimestamp(now.AddDate(0, 0, -confirmedKeepDays))
		expired, err := s.tasks.ListConfirmedBefore(tx, expiredCutoff)
		if err != nil {
			return err
		}
		for _, t := range expired {
			if err := s.archiveTx(tx, t, entity.ArchiveReasonConfirmedExpired, now); err != nil {
				return err
			}
		}
		result.ArchivedExpired = len(expired)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Scan finalized",
		zap.Int64("marked_missing", result.MarkedMissing),
		zap.Int("archived_missing", result.ArchivedMissing),
		zap.Int("archived_expired", result.ArchivedExpired))
	return result, nil
}

// archiveTx archives one task, drops its ignore snapshot and records the
// audit event.
func (s *Service) archiveTx(tx repository.Executor, t *entity.Task, reason string, now time.Time) error {
	nowTS := identity.FormatTimestamp(now)
	archivedID := identity.ArchivedTaskID(t.ID, nowTS)
	if err := s.tasks.Archive(tx, t.ID, archivedID, reason, nowTS); err != nil {
		return err
	}
	if err := s.snapshots.Delete(tx, t.ID); err != nil {
		return err
	}
	key := t.Key()
	return s.WriteEventTx(tx, entity.EventArchived, &key, map[string]any{
		"reason": reason,
	}, now)
}
