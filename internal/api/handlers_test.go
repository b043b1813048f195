package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linwei/iface-registry/internal/hooks"
	"github.com/linwei/iface-registry/internal/queue"
	"github.com/linwei/iface-registry/internal/service"
	"github.com/linwei/iface-registry/pkg/database"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	hooks.SetDataFolder(t.TempDir())
	t.Cleanup(func() {
		database.Close()
		database.SetPath("")
	})

	logger := zap.NewNop()
	svc := service.New(nil, logger)
	q := queue.NewWriteQueue(svc, logger, queue.Options{Enabled: false})
	facade := hooks.New(svc, q, logger)

	return NewServer(ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}, facade, svc, ScanSettings{MissingKeepDays: 7, ConfirmedKeepDays: 30}, logger)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func processDoneBody() map[string]any {
	return map[string]any{
		"file_type":   1,
		"project_id":  "1818",
		"source_file": "接口表.xlsx",
		"rows": []map[string]any{
			{
				"row_index":           3,
				"interface_id":        "IF-001",
				"department":          "结构室",
				"interface_time":      "2025.12.01",
				"role":                "设计人员",
				"completed_col_value": "",
			},
		},
	}
}

func TestHealthz(t *testing.T) {
	s := testServer(t)
	w := doJSON(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestProcessDoneAndHistory(t *testing.T) {
	s := testServer(t)

	w := doJSON(t, s, http.MethodPost, "/hooks/process-done", processDoneBody())
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/tasks/history?file_type=1&project_id=1818&interface_id=IF-001", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    []struct {
			Status     string `json:"status"`
			SourceFile string `json:"source_file"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "open", resp.Data[0].Status)
	assert.Equal(t, "接口表.xlsx", resp.Data[0].SourceFile)
}

func TestDisplayStatusEndpoint(t *testing.T) {
	s := testServer(t)
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/hooks/process-done", processDoneBody()).Code)

	w := doJSON(t, s, http.MethodPost, "/display-status", map[string]any{
		"keys": []map[string]any{
			{"file_type": 1, "project_id": "1818", "interface_id": "IF-001", "source_file": "接口表.xlsx", "row_index": 3},
		},
		"user_roles": "设计人员",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "待完成")
}

func TestMalformedNowRejected(t *testing.T) {
	s := testServer(t)

	body := processDoneBody()
	body["now"] = "yesterday-ish"
	w := doJSON(t, s, http.MethodPost, "/hooks/process-done", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "yesterday-ish")

	// Nothing was registered under the malformed timestamp.
	w = doJSON(t, s, http.MethodGet, "/tasks/history?file_type=1&project_id=1818&interface_id=IF-001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "IF-001")
}

func TestStateViolationMapsToConflict(t *testing.T) {
	s := testServer(t)
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/hooks/process-done", processDoneBody()).Code)

	// Confirming a task that has not been completed.
	w := doJSON(t, s, http.MethodPost, "/hooks/confirmed", map[string]any{
		"file_type":    1,
		"file_path":    "接口表.xlsx",
		"row_index":    3,
		"interface_id": "IF-001",
		"project_id":   "1818",
		"user_name":    "王主任",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUnknownTaskMapsToNotFound(t *testing.T) {
	s := testServer(t)
	w := doJSON(t, s, http.MethodPost, "/hooks/response-written", map[string]any{
		"file_type":    1,
		"file_path":    "接口表.xlsx",
		"row_index":    99,
		"interface_id": "IF-404",
		"project_id":   "1818",
		"user_name":    "张三",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMaintenanceBlocksWrites(t *testing.T) {
	s := testServer(t)
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/hooks/process-done", processDoneBody()).Code)

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/maintenance/enable", nil).Code)
	w := doJSON(t, s, http.MethodPost, "/hooks/process-done", processDoneBody())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/maintenance/disable", nil).Code)
	w = doJSON(t, s, http.MethodPost, "/hooks/process-done", processDoneBody())
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFinalizeScanEndpoint(t *testing.T) {
	s := testServer(t)
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/hooks/process-done", processDoneBody()).Code)

	w := doJSON(t, s, http.MethodPost, "/scan/finalize", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "marked_missing")
}
