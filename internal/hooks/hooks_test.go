package hooks

import (
	"testing"
	"time"

	"github.com/linwei/iface-registry/internal/domain/entity"
	"github.com/linwei/iface-registry/internal/queue"
	"github.com/linwei/iface-registry/internal/service"
	"github.com/linwei/iface-registry/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testHooks(t *testing.T) (*Hooks, *service.Service) {
	t.Helper()
	SetDataFolder(t.TempDir())
	t.Cleanup(func() {
		database.Close()
		database.SetPath("")
	})
	svc := service.New(nil, zap.NewNop())
	q := queue.NewWriteQueue(svc, zap.NewNop(), queue.Options{Enabled: false})
	return New(svc, q, zap.NewNop()), svc
}

func strptr(s string) *string { return &s }

var scanTime = time.Date(2025, 11, 3, 9, 0, 0, 0, time.Local)

func sampleRows() []entity.ScanRow {
	return []entity.ScanRow{
		{RowIndex: 3, InterfaceID: "IF-001", Department: "结构室", InterfaceTime: "2025.12.01", Role: "设计人员", CompletedColValue: strptr("")},
		{RowIndex: 4, InterfaceID: "IF-002", Department: "电气室", InterfaceTime: "2025.12.15", Role: "设计人员", CompletedColValue: strptr("")},
	}
}

func TestOnProcessDone_CreatesTasksAndEvent(t *testing.T) {
	h, svc := testHooks(t)

	require.NoError(t, h.OnProcessDone(1, "1818", `\\server\share\接口表.xlsx`, sampleRows(), scanTime))

	tasks, err := svc.FindTasksForForceAssign(1, "1818", "IF-001")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, entity.StatusOpen, tasks[0].Status)
	assert.Equal(t, "接口表.xlsx", tasks[0].SourceFile)
	assert.Equal(t, "2025.12.01", tasks[0].InterfaceTime)

	events, err := svc.EventsByKind(entity.EventProcessDone, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Extra, "接口表.xlsx")
}

func TestAssignmentDoesNotResetTask(t *testing.T) {
	h, svc := testHooks(t)
	require.NoError(t, h.OnProcessDone(1, "1818", "接口表.xlsx", sampleRows(), scanTime))

	require.NoError(t, h.OnAssigned(1, "接口表.xlsx", 3, "IF-001", "1818", "王主任", "张三", scanTime.Add(time.Hour)))

	tasks, err := svc.FindTasksForForceAssign(1, "1818", "IF-001")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "张三", tasks[0].ResponsiblePerson)
	assert.Equal(t, "王主任", tasks[0].AssignedBy)
	assert.Equal(t, entity.StatusOpen, tasks[0].Status)
	// The assignment write carried no expected time, so nothing was
	// archived or forked.
	history, err := svc.TaskHistory(1, "1818", "IF-001")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestResponseAndConfirmationChain(t *testing.T) {
	h, svc := testHooks(t)
	require.NoError(t, h.OnProcessDone(1, "1818", "接口表.xlsx", sampleRows(), scanTime))
	require.NoError(t, h.OnAssigned(1, "接口表.xlsx", 3, "IF-001", "1818", "王主任", "张三", scanTime))

	require.NoError(t, h.OnResponseWritten(1, "接口表.xlsx", 3, "IF-001", "HF-2025-001", "张三", "1818", "设计人员", scanTime.Add(2*time.Hour)))

	tasks, err := svc.FindTasksForForceAssign(1, "1818", "IF-001")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, entity.StatusCompleted, tasks[0].Status)
	assert.Equal(t, "HF-2025-001", tasks[0].ResponseNumber)
	assert.Equal(t, entity.DisplayAssignerReview, tasks[0].DisplayStatus)

	require.NoError(t, h.OnConfirmedBySuperior(1, "接口表.xlsx", 3, "IF-001", "1818", "王主任", scanTime.Add(3*time.Hour)))
	tasks, err = svc.FindTasksForForceAssign(1, "1818", "IF-001")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusConfirmed, tasks[0].Status)
	assert.Empty(t, tasks[0].DisplayStatus)

	require.NoError(t, h.OnUnconfirmedBySuperior(1, "接口表.xlsx", 3, "IF-001", "1818", "王主任", scanTime.Add(4*time.Hour)))
	tasks, err = svc.FindTasksForForceAssign(1, "1818", "IF-001")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, tasks[0].Status)
	assert.NotEmpty(t, tasks[0].CompletedAt)
}

func TestOnIgnored_PartialFailure(t *testing.T) {
	h, _ := testHooks(t)
	require.NoError(t, h.OnProcessDone(1, "1818", "接口表.xlsx", sampleRows(), scanTime))

	good := entity.TaskKey{FileType: 1, ProjectID: "1818", InterfaceID: "IF-001", SourceFile: "接口表.xlsx", RowIndex: 3}
	missing := entity.TaskKey{FileType: 1, ProjectID: "1818", InterfaceID: "IF-404", SourceFile: "接口表.xlsx", RowIndex: 99}

	result, err := h.OnIgnored([]entity.TaskKey{good, missing}, "李四", "设备未到货", scanTime)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessCount)
	require.Len(t, result.FailedTasks, 1)
	assert.Equal(t, missing, result.FailedTasks[0].Key)

	result, err = h.OnUnignored([]entity.TaskKey{good}, "李四", scanTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessCount)
}

func TestGetDisplayStatus_RoleViews(t *testing.T) {
	h, _ := testHooks(t)
	require.NoError(t, h.OnProcessDone(1, "1818", "接口表.xlsx", sampleRows(), scanTime))

	keys := []entity.TaskKey{
		{FileType: 1, ProjectID: "1818", InterfaceID: "IF-001", SourceFile: "接口表.xlsx", RowIndex: 3},
	}

	labels, err := h.GetDisplayStatus(keys, "设计人员", scanTime)
	require.NoError(t, err)
	require.Len(t, labels, 1)
	for _, label := range labels {
		assert.Contains(t, label, entity.DisplayPending)
	}

	labels, err = h.GetDisplayStatus(keys, "室主任", scanTime)
	require.NoError(t, err)
	for _, label := range labels {
		assert.Contains(t, label, entity.DisplayAssign)
	}
}
