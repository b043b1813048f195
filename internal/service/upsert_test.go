package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/linwei/iface-registry/internal/calendar"
	"github.com/linwei/iface-registry/internal/domain/entity"
	"github.com/linwei/iface-registry/internal/identity"
	"github.com/linwei/iface-registry/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var baseTime = time.Date(2025, 11, 3, 9, 0, 0, 0, time.Local)

func newTestService(t *testing.T) *Service {
	t.Helper()
	database.SetPath(filepath.Join(t.TempDir(), database.RegistryDirName, database.DBFileName))
	t.Cleanup(func() {
		database.Close()
		database.SetPath("")
	})
	return New(calendar.NewWorkdays(nil).IsOverdue, zap.NewNop())
}

func strptr(s string) *string { return &s }

func testKey(iface string, row int) entity.TaskKey {
	return entity.TaskKey{
		FileType:    1,
		ProjectID:   "1818",
		InterfaceID: iface,
		SourceFile:  "scan.xlsx",
		RowIndex:    row,
	}
}

func testFields(interfaceTime string, col *string) entity.UpsertFields {
	return entity.UpsertFields{
		Department:        strptr("结构室"),
		InterfaceTime:     strptr(interfaceTime),
		Role:              strptr("设计人员"),
		CompletedColValue: col,
	}
}

func mustTask(t *testing.T, s *Service, key entity.TaskKey) *entity.Task {
	t.Helper()
	db, err := database.Acquire(zap.NewNop())
	require.NoError(t, err)
	task, err := s.tasks.GetByID(db, identity.TaskID(
		key.FileType, key.ProjectID, key.InterfaceID, identity.Basename(key.SourceFile), key.RowIndex))
	require.NoError(t, err)
	require.NotNil(t, task)
	return task
}

func TestUpsert_FreshInsert(t *testing.T) {
	s := newTestService(t)
	key := testKey("IF-001", 3)

	require.NoError(t, s.UpsertTask(key, testFields("2025.11.07", strptr("")), baseTime))

	task := mustTask(t, s, key)
	assert.Equal(t, identity.TaskID(1, "1818", "IF-001", "scan.xlsx", 3), task.ID)
	assert.Equal(t, "1|1818|IF-001", task.BusinessID)
	assert.Equal(t, entity.StatusOpen, task.Status)
	assert.Equal(t, entity.DisplayPending, task.DisplayStatus)
	assert.Equal(t, identity.FormatTimestamp(baseTime), task.FirstSeenAt)
	assert.False(t, task.SeenViaUpdate)
}

func TestUpsert_EmptyDepartmentGetsSentinel(t *testing.T) {
	s := newTestService(t)
	key := testKey("IF-001", 3)
	fields := testFields("2025.11.07", nil)

	for _, dept := range []string{"", "  ", "nan", "NaN"} {
		fields.Department = strptr(dept)
		require.NoError(t, s.UpsertTask(key, fields, baseTime))
		assert.Equal(t, entity.DepartmentSentinel, mustTask(t, s, key).Department, "dept=%q", dept)
	}
}

func TestUpsert_RepeatIsIdempotent(t *testing.T) {
	s := newTestService(t)
	key := testKey("IF-001", 3)
	fields := testFields("2025.11.07", strptr(""))

	require.NoError(t, s.UpsertTask(key, fields, baseTime))
	first := mustTask(t, s, key)

	require.NoError(t, s.UpsertTask(key, fields, baseTime.Add(24*time.Hour)))
	second := mustTask(t, s, key)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.DisplayStatus, second.DisplayStatus)
	assert.Equal(t, first.FirstSeenAt, second.FirstSeenAt)
	assert.Equal(t, first.CompletedAt, second.CompletedAt)
	assert.NotEqual(t, first.LastSeenAt, second.LastSeenAt)
}

func TestUpsert_FormatOnlyTimeChangeDoesNotReset(t *testing.T) {
	s := newTestService(t)
	key := testKey("IF-001", 3)
	require.NoError(t, s.UpsertTask(key, testFields("2025.11.07", strptr("")), baseTime))
	require.NoError(t, s.MarkCompleted(key, "张三", "HF-001", baseTime.Add(time.Hour)))

	// Same date rendered with dashes, response column still filled.
	require.NoError(t, s.UpsertTask(key, testFields("2025-11-07", strptr("HF-001")), baseTime.Add(2*time.Hour)))

	task := mustTask(t, s, key)
	assert.Equal(t, entity.StatusCompleted, task.Status)
	assert.NotEmpty(t, task.CompletedAt)

	history, err := s.TaskHistory(1, "1818", "IF-001")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestUpsert_TimeChangeResetsIncompleteTask(t *testing.T) {
	s := newTestService(t)
	key := testKey("IF-001", 3)
	require.NoError(t, s.UpsertTask(key, testFields("2025.11.07", strptr("")), baseTime))
	require.NoError(t, s.MarkCompleted(key, "张三", "HF-001", baseTime.Add(time.Hour)))

	require.NoError(t, s.UpsertTask(key, testFields("2025.12.01", strptr("")), baseTime.Add(2*time.Hour)))

	task := mustTask(t, s, key)
	assert.Equal(t, entity.StatusOpen, task.Status)
	assert.Empty(t, task.CompletedAt)
	assert.Empty(t, task.ResponseNumber)
	assert.Equal(t, entity.DisplayAssign, task.DisplayStatus)
}

func TestUpsert_ClearedResponseColumnResets(t *testing.T) {
	s := newTestService(t)
	key := testKey("IF-001", 3)
	require.NoError(t, s.UpsertTask(key, testFields("2025.11.07", strptr("")), baseTime))
	require.NoError(t, s.MarkCompleted(key, "张三", "HF-001", baseTime.Add(time.Hour)))

	// Same expected time, response column wiped in the workbook.
	require.NoError(t, s.UpsertTask(key, testFields("2025.11.07", strptr("")), baseTime.Add(2*time.Hour)))

	task := mustTask(t, s, key)
	assert.Equal(t, entity.StatusOpen, task.Status)
	assert.Empty(t, task.CompletedAt)
}

func TestUpsert_CompleteChainForksOnTimeChange(t *testing.T) {
	s := newTestService(t)
	key := testKey("IF-001", 3)
	require.NoError(t, s.UpsertTask(key, testFields("2025.11.01", strptr("")), baseTime))
	require.NoError(t, s.MarkCompleted(key, "张三", "HF-001", baseTime.Add(time.Hour)))
	require.NoError(t, s.MarkConfirmed(key, "王主任", baseTime.Add(2*time.Hour)))

	require.NoError(t, s.UpsertTask(key, testFields("2025.11.30", strptr("")), baseTime.Add(3*time.Hour)))

	history, err := s.TaskHistory(1, "1818", "IF-001")
	require.NoError(t, err)
	require.Len(t, history, 2)

	var archived, fresh *entity.Task
	for _, h := range history {
		if h.Status == entity.StatusArchived {
			archived = h
		} else {
			fresh = h
		}
	}
	require.NotNil(t, archived)
	require.NotNil(t, fresh)

	assert.Equal(t, entity.ArchiveReasonUpdated, archived.ArchiveReason)
	assert.NotEmpty(t, archived.CompletedAt)
	assert.NotEmpty(t, archived.ConfirmedAt)

	assert.Equal(t, entity.StatusOpen, fresh.Status)
	assert.Equal(t, entity.DisplayPending, fresh.DisplayStatus)
	assert.Empty(t, fresh.CompletedAt)
	assert.Empty(t, fresh.ConfirmedAt)
	assert.True(t, fresh.SeenViaUpdate)
}

func TestUpsert_RowMovePreservesConfirmation(t *testing.T) {
	s := newTestService(t)
	key := testKey("IF-001", 3)
	require.NoError(t, s.UpsertTask(key, testFields("2025.11.07", strptr("")), baseTime))
	require.NoError(t, s.MarkCompleted(key, "张三", "HF-001", baseTime.Add(time.Hour)))
	require.NoError(t, s.MarkConfirmed(key, "王主任", baseTime.Add(2*time.Hour)))

	// A row was inserted above in the workbook: the next day's scan sees
	// the same interface on a new row index, response column still filled,
	// and the old row index gone.
	moved := testKey("IF-001", 4)
	require.NoError(t, s.UpsertTask(moved, testFields("2025.11.07", strptr("HF-001")), baseTime.AddDate(0, 0, 1)))

	task := mustTask(t, s, moved)
	assert.Equal(t, entity.StatusConfirmed, task.Status)
	assert.NotEmpty(t, task.ConfirmedAt)
	assert.NotEmpty(t, task.CompletedAt)

	// The superseded row is retired so only one live row remains.
	live, err := s.FindTasksForForceAssign(1, "1818", "IF-001")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, 4, live[0].RowIndex)
}

func TestUpsert_SameScanSiblingRowsCoexist(t *testing.T) {
	s := newTestService(t)

	// One workbook legitimately carries the same interface on two rows.
	require.NoError(t, s.BatchUpsert([]BatchUpsertItem{
		{Key: testKey("IF-001", 3), Fields: testFields("2025.11.07", strptr(""))},
		{Key: testKey("IF-001", 4), Fields: testFields("2025.11.07", strptr(""))},
	}, baseTime))

	live, err := s.FindTasksForForceAssign(1, "1818", "IF-001")
	require.NoError(t, err)
	require.Len(t, live, 2)

	history, err := s.TaskHistory(1, "1818", "IF-001")
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, h := range history {
		assert.Equal(t, entity.StatusOpen, h.Status)
		assert.Empty(t, h.ArchiveReason)
	}
}

func TestUpsert_SiblingRowsWithDifferentTimesCoexist(t *testing.T) {
	s := newTestService(t)

	// Two rows of the same interface with different expected times in one
	// scan: neither row is a changed version of the other.
	require.NoError(t, s.BatchUpsert([]BatchUpsertItem{
		{Key: testKey("IF-001", 3), Fields: testFields("2025.11.07", strptr(""))},
		{Key: testKey("IF-001", 4), Fields: testFields("2025.12.01", strptr(""))},
	}, baseTime))

	live, err := s.FindTasksForForceAssign(1, "1818", "IF-001")
	require.NoError(t, err)
	require.Len(t, live, 2)

	a := mustTask(t, s, testKey("IF-001", 3))
	b := mustTask(t, s, testKey("IF-001", 4))
	assert.Equal(t, "2025.11.07", a.InterfaceTime)
	assert.Equal(t, "2025.12.01", b.InterfaceTime)
}

func TestUpsert_MovedRowWithClearedResponseArchivesStaleRow(t *testing.T) {
	s := newTestService(t)
	key := testKey("IF-001", 3)
	require.NoError(t, s.UpsertTask(key, testFields("2025.11.07", strptr("")), baseTime))
	require.NoError(t, s.MarkCompleted(key, "张三", "HF-001", baseTime.Add(time.Hour)))

	// Next day the interface sits on a new row with the response wiped.
	moved := testKey("IF-001", 4)
	require.NoError(t, s.UpsertTask(moved, testFields("2025.11.07", strptr("")), baseTime.AddDate(0, 0, 1)))

	task := mustTask(t, s, moved)
	assert.Equal(t, entity.StatusOpen, task.Status)
	assert.Empty(t, task.CompletedAt)

	history, err := s.TaskHistory(1, "1818", "IF-001")
	require.NoError(t, err)
	require.Len(t, history, 2)
	var archived *entity.Task
	for _, h := range history {
		if h.Status == entity.StatusArchived {
			archived = h
		}
	}
	require.NotNil(t, archived)
	assert.Equal(t, entity.ArchiveReasonResetCleared, archived.ArchiveReason)
	assert.Equal(t, 3, archived.RowIndex)
}

func TestUpsert_RoleSuffixedInterfaceID(t *testing.T) {
	s := newTestService(t)
	suffixed := testKey("TEST-001（设计人员）", 10)

	require.NoError(t, s.UpsertTask(suffixed, testFields("2025.11.07", strptr("")), baseTime))

	// The stored locator is the bare id; a caller using the bare id finds
	// the same task.
	bare := testKey("TEST-001", 10)
	task := mustTask(t, s, bare)
	assert.Equal(t, "TEST-001", task.InterfaceID)
	assert.Equal(t, "1|1818|TEST-001", task.BusinessID)

	require.NoError(t, s.MarkCompleted(bare, "张三", "HF-001", baseTime.Add(time.Hour)))

	live, err := s.FindTasksForForceAssign(1, "1818", "TEST-001（设计人员）")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, entity.StatusCompleted, live[0].Status)
}

func TestUpsert_IgnoredTimeChangeAutoCancels(t *testing.T) {
	s := newTestService(t)
	key := testKey("IF-001", 3)
	require.NoError(t, s.UpsertTask(key, testFields("2024.01.15", strptr("")), baseTime))

	result, err := s.MarkIgnoredBatch([]entity.TaskKey{key}, "李四", "test", baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, result.SuccessCount)

	require.NoError(t, s.UpsertTask(key, testFields("2026.01.15", strptr("")), baseTime.Add(2*time.Hour)))

	task := mustTask(t, s, key)
	assert.False(t, task.Ignored)

	db, err := database.Acquire(zap.NewNop())
	require.NoError(t, err)
	snap, err := s.snapshots.GetByTaskID(db, task.ID)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestUpsert_IgnoredSurvivesFormatChange(t *testing.T) {
	s := newTestService(t)
	key := testKey("IF-001", 3)
	require.NoError(t, s.UpsertTask(key, testFields("2024.01.15", strptr("")), baseTime))

	_, err := s.MarkIgnoredBatch([]entity.TaskKey{key}, "李四", "test", baseTime.Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.UpsertTask(key, testFields("2024-01-15", strptr("")), baseTime.Add(2*time.Hour)))

	task := mustTask(t, s, key)
	assert.True(t, task.Ignored)
	assert.Equal(t, "李四", task.IgnoredBy)

	db, err := database.Acquire(zap.NewNop())
	require.NoError(t, err)
	snap, err := s.snapshots.GetByTaskID(db, task.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "2024.01.15", snap.InterfaceTime)
}

func TestUpsert_AssignmentSurvivesRescan(t *testing.T) {
	s := newTestService(t)
	key := testKey("TEST-001", 10)
	require.NoError(t, s.UpsertTask(key, testFields("2025.11.07", strptr("")), baseTime))

	// The assignment write carries no expected time.
	nowTS := identity.FormatTimestamp(baseTime.Add(time.Hour))
	pending := entity.DisplayPending
	require.NoError(t, s.UpsertTask(key, entity.UpsertFields{
		ResponsiblePerson: strptr("张三"),
		AssignedBy:        strptr("王主任"),
		AssignedAt:        &nowTS,
		DisplayStatus:     &pending,
	}, baseTime.Add(time.Hour)))

	// A later scan sees the row with no responsible person column.
	fields := testFields("2025.11.07", strptr(""))
	fields.DisplayStatus = &pending
	require.NoError(t, s.UpsertTask(key, fields, baseTime.Add(2*time.Hour)))

	task := mustTask(t, s, key)
	assert.Equal(t, "张三", task.ResponsiblePerson)
	assert.Equal(t, "王主任", task.AssignedBy)

	labels, err := s.GetDisplayStatus([]entity.TaskKey{key}, "1818接口工程师", baseTime)
	require.NoError(t, err)
	require.Len(t, labels, 1)
	for _, label := range labels {
		assert.Contains(t, label, entity.DisplayDesignerPending)
		assert.NotContains(t, label, entity.DisplayAssign)
	}
}
