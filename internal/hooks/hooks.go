// Package hooks is the event-shaped boundary the GUI and ingest layers
// call. Each hook names the business event that happened and delegates to
// the write queue, which applies it synchronously when queueing is off.
package hooks

import (
	"time"

	"github.com/linwei/iface-registry/internal/domain/entity"
	"github.com/linwei/iface-registry/internal/identity"
	"github.com/linwei/iface-registry/internal/queue"
	"github.com/linwei/iface-registry/internal/service"
	"github.com/linwei/iface-registry/pkg/database"
	"go.uber.org/zap"
)

// Hooks bundles the façade's dependencies. It holds no state of its own.
type Hooks struct {
	svc    *service.Service
	queue  *queue.WriteQueue
	logger *zap.Logger
}

func New(svc *service.Service, q *queue.WriteQueue, logger *zap.Logger) *Hooks {
	return &Hooks{svc: svc, queue: q, logger: logger}
}

// SetDataFolder points the storage engine at a data folder, honoring the
// legacy directory layout when a database already lives there.
func SetDataFolder(path string) {
	database.SetPath(database.DefaultPath(path))
}

// EnableMaintenanceMode blocks all writes until disabled.
func EnableMaintenanceMode() error {
	return database.EnableMaintenance()
}

// DisableMaintenanceMode lifts the write block.
func DisableMaintenanceMode() error {
	return database.DisableMaintenance()
}

// OnProcessDone feeds one ingest result into the registry: every extracted
// row becomes a batched upsert, followed by a process_done audit event.
func (h *Hooks) OnProcessDone(fileType int, projectID, sourceFile string, rows []entity.ScanRow, now time.Time) error {
	items := make([]service.BatchUpsertItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, service.BatchUpsertItem{
			Key: entity.TaskKey{
				FileType:    fileType,
				ProjectID:   projectID,
				InterfaceID: row.InterfaceID,
				SourceFile:  sourceFile,
				RowIndex:    row.RowIndex,
			},
			Fields: scanRowFields(row),
		})
	}

	if err := h.queue.Submit(&queue.Request{
		Op:    queue.OpBatchUpsert,
		Items: items,
		Now:   now,
	}); err != nil {
		return err
	}
	return h.queue.Submit(&queue.Request{
		Op:        queue.OpWriteEvent,
		EventKind: entity.EventProcessDone,
		EventExtra: map[string]any{
			"file_type":   fileType,
			"project_id":  projectID,
			"source_file": identity.Basename(sourceFile),
			"row_count":   len(rows),
		},
		Now: now,
	})
}

// scanRowFields converts one extracted row into candidate upsert fields.
// Empty workbook cells stay observed (empty string), so a cleared response
// column is distinguishable from a column the ingest never read.
func scanRowFields(row entity.ScanRow) entity.UpsertFields {
	fields := entity.UpsertFields{
		Department:        &row.Department,
		InterfaceTime:     &row.InterfaceTime,
		Role:              &row.Role,
		ResponsiblePerson: &row.ResponsiblePerson,
		CompletedColValue: row.CompletedColValue,
	}
	if row.DisplayStatus != "" {
		fields.DisplayStatus = &row.DisplayStatus
	}
	return fields
}

// OnAssigned records an assignment. The fields deliberately omit the
// expected time so an assignment can never trigger a task reset.
func (h *Hooks) OnAssigned(fileType int, filePath string, rowIndex int, interfaceID, projectID, assignedBy, assignedTo string, now time.Time) error {
	nowTS := identity.FormatTimestamp(now)
	pending := entity.DisplayPending
	key := entity.TaskKey{
		FileType:    fileType,
		ProjectID:   projectID,
		InterfaceID: interfaceID,
		SourceFile:  filePath,
		RowIndex:    rowIndex,
	}

	if err := h.queue.Submit(&queue.Request{
		Op:  queue.OpUpsertTask,
		Key: key,
		Fields: entity.UpsertFields{
			ResponsiblePerson: &assignedTo,
			AssignedBy:        &assignedBy,
			AssignedAt:        &nowTS,
			DisplayStatus:     &pending,
		},
		Now: now,
	}); err != nil {
		return err
	}
	return h.queue.Submit(&queue.Request{
		Op:        queue.OpWriteEvent,
		Key:       key,
		EventKind: entity.EventAssigned,
		EventExtra: map[string]any{
			"assigned_by": assignedBy,
			"assigned_to": assignedTo,
		},
		Now: now,
	})
}

// OnResponseWritten records a designer's response and moves the task to
// completed with the appropriate review label.
func (h *Hooks) OnResponseWritten(fileType int, filePath string, rowIndex int, interfaceID, responseNumber, userName, projectID, role string, now time.Time) error {
	return h.queue.Submit(&queue.Request{
		Op: queue.OpMarkCompleted,
		Key: entity.TaskKey{
			FileType:    fileType,
			ProjectID:   projectID,
			InterfaceID: interfaceID,
			SourceFile:  filePath,
			RowIndex:    rowIndex,
		},
		Actor:          userName,
		ResponseNumber: responseNumber,
		Now:            now,
	})
}

// OnConfirmedBySuperior confirms a completed task.
func (h *Hooks) OnConfirmedBySuperior(fileType int, filePath string, rowIndex int, interfaceID, projectID, confirmedBy string, now time.Time) error {
	return h.queue.Submit(&queue.Request{
		Op: queue.OpMarkConfirmed,
		Key: entity.TaskKey{
			FileType:    fileType,
			ProjectID:   projectID,
			InterfaceID: interfaceID,
			SourceFile:  filePath,
			RowIndex:    rowIndex,
		},
		Actor: confirmedBy,
		Now:   now,
	})
}

// OnUnconfirmedBySuperior reverses a confirmation.
func (h *Hooks) OnUnconfirmedBySuperior(fileType int, filePath string, rowIndex int, interfaceID, projectID, unconfirmedBy string, now time.Time) error {
	return h.queue.Submit(&queue.Request{
		Op: queue.OpMarkUnconfirmed,
		Key: entity.TaskKey{
			FileType:    fileType,
			ProjectID:   projectID,
			InterfaceID: interfaceID,
			SourceFile:  filePath,
			RowIndex:    rowIndex,
		},
		Actor: unconfirmedBy,
		Now:   now,
	})
}

// OnIgnored hides a set of tasks. Partial failures come back in the result
// rather than as an error.
func (h *Hooks) OnIgnored(keys []entity.TaskKey, ignoredBy, reason string, now time.Time) (*entity.BatchResult, error) {
	done := make(chan error, 1)
	req := &queue.Request{
		Op:     queue.OpMarkIgnored,
		Keys:   keys,
		Actor:  ignoredBy,
		Reason: reason,
		Now:    now,
		OnDone: func(err error) { done <- err },
	}
	if err := h.queue.Submit(req); err != nil {
		return nil, err
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return req.Result, nil
}

// OnUnignored reverses OnIgnored for a set of tasks.
func (h *Hooks) OnUnignored(keys []entity.TaskKey, unignoredBy string, now time.Time) (*entity.BatchResult, error) {
	done := make(chan error, 1)
	req := &queue.Request{
		Op:     queue.OpUnmarkIgnored,
		Keys:   keys,
		Actor:  unignoredBy,
		Now:    now,
		OnDone: func(err error) { done <- err },
	}
	if err := h.queue.Submit(req); err != nil {
		return nil, err
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return req.Result, nil
}

// GetDisplayStatus resolves the user-visible labels for a set of keys.
// Pending writes are flushed first so a caller always sees its own events.
func (h *Hooks) GetDisplayStatus(keys []entity.TaskKey, userRoles string, now time.Time) (map[string]string, error) {
	if err := h.queue.Flush(5 * time.Second); err != nil {
		h.logger.Warn("Display status read with writes still pending", zap.Error(err))
	}
	return h.svc.GetDisplayStatus(keys, userRoles, now)
}
