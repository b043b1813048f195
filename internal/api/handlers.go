package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/linwei/iface-registry/internal/domain/entity"
	"github.com/linwei/iface-registry/internal/hooks"
	"github.com/linwei/iface-registry/internal/service"
	"github.com/linwei/iface-registry/pkg/database"
)

// ScanSettings carries the retention knobs the finalize endpoint applies.
type ScanSettings struct {
	MissingKeepDays   int
	ConfirmedKeepDays int
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	hooks   *hooks.Hooks
	svc     *service.Service
	scanCfg ScanSettings
	logger  *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(h *hooks.Hooks, svc *service.Service, scanCfg ScanSettings, logger *zap.Logger) *Handlers {
	return &Handlers{hooks: h, svc: svc, scanCfg: scanCfg, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

// fail maps domain errors onto HTTP status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	var stateErr *service.StateViolationError
	var roleErr *service.RoleRoutingError
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.As(err, &stateErr):
		status = http.StatusConflict
	case errors.As(err, &roleErr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, database.ErrMaintenanceMode),
		errors.Is(err, database.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// HealthCheck handles GET /healthz
func (h *Handlers) HealthCheck(c *gin.Context) {
	ok(c, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"maintenance": database.InMaintenance(),
	})
}

// ProcessDoneRequest is one ingest result to register.
type ProcessDoneRequest struct {
	FileType   int              `json:"file_type" binding:"required"`
	ProjectID  string           `json:"project_id" binding:"required"`
	SourceFile string           `json:"source_file" binding:"required"`
	Rows       []entity.ScanRow `json:"rows" binding:"required"`
	Now        string           `json:"now"`
}

// ProcessDone handles POST /hooks/process-done
func (h *Handlers) ProcessDone(c *gin.Context) {
	var req ProcessDoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	now, err := parseNow(req.Now)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.hooks.OnProcessDone(req.FileType, req.ProjectID, req.SourceFile, req.Rows, now); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"rows": len(req.Rows)})
}

// AssignedRequest records who assigned an interface to whom.
type AssignedRequest struct {
	FileType    int    `json:"file_type" binding:"required"`
	FilePath    string `json:"file_path" binding:"required"`
	RowIndex    int    `json:"row_index" binding:"required"`
	InterfaceID string `json:"interface_id" binding:"required"`
	ProjectID   string `json:"project_id" binding:"required"`
	AssignedBy  string `json:"assigned_by" binding:"required"`
	AssignedTo  string `json:"assigned_to" binding:"required"`
	Now         string `json:"now"`
}

// Assigned handles POST /hooks/assigned
func (h *Handlers) Assigned(c *gin.Context) {
	var req AssignedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	now, err := parseNow(req.Now)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.hooks.OnAssigned(req.FileType, req.FilePath, req.RowIndex, req.InterfaceID,
		req.ProjectID, req.AssignedBy, req.AssignedTo, now); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// ResponseWrittenRequest records a designer's response.
type ResponseWrittenRequest struct {
	FileType       int    `json:"file_type" binding:"required"`
	FilePath       string `json:"file_path" binding:"required"`
	RowIndex       int    `json:"row_index" binding:"required"`
	InterfaceID    string `json:"interface_id" binding:"required"`
	ResponseNumber string `json:"response_number"`
	UserName       string `json:"user_name" binding:"required"`
	ProjectID      string `json:"project_id" binding:"required"`
	Role           string `json:"role"`
	Now            string `json:"now"`
}

// ResponseWritten handles POST /hooks/response-written
func (h *Handlers) ResponseWritten(c *gin.Context) {
	var req ResponseWrittenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	now, err := parseNow(req.Now)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.hooks.OnResponseWritten(req.FileType, req.FilePath, req.RowIndex, req.InterfaceID,
		req.ResponseNumber, req.UserName, req.ProjectID, req.Role, now); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// ConfirmationRequest is shared by the confirm and unconfirm hooks.
type ConfirmationRequest struct {
	FileType    int    `json:"file_type" binding:"required"`
	FilePath    string `json:"file_path" binding:"required"`
	RowIndex    int    `json:"row_index" binding:"required"`
	InterfaceID string `json:"interface_id" binding:"required"`
	ProjectID   string `json:"project_id" binding:"required"`
	UserName    string `json:"user_name" binding:"required"`
	Now         string `json:"now"`
}

// Confirmed handles POST /hooks/confirmed
func (h *Handlers) Confirmed(c *gin.Context) {
	var req ConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	now, err := parseNow(req.Now)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.hooks.OnConfirmedBySuperior(req.FileType, req.FilePath, req.RowIndex,
		req.InterfaceID, req.ProjectID, req.UserName, now); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// Unconfirmed handles POST /hooks/unconfirmed
func (h *Handlers) Unconfirmed(c *gin.Context) {
	var req ConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	now, err := parseNow(req.Now)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.hooks.OnUnconfirmedBySuperior(req.FileType, req.FilePath, req.RowIndex,
		req.InterfaceID, req.ProjectID, req.UserName, now); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// IgnoreRequest hides or unhides a set of tasks.
type IgnoreRequest struct {
	Keys     []entity.TaskKey `json:"keys" binding:"required"`
	UserName string           `json:"user_name" binding:"required"`
	Reason   string           `json:"reason"`
	Now      string           `json:"now"`
}

// Ignored handles POST /hooks/ignored
func (h *Handlers) Ignored(c *gin.Context) {
	var req IgnoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	now, err := parseNow(req.Now)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	result, err := h.hooks.OnIgnored(req.Keys, req.UserName, req.Reason, now)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, result)
}

// Unignored handles POST /hooks/unignored
func (h *Handlers) Unignored(c *gin.Context) {
	var req IgnoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	now, err := parseNow(req.Now)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	result, err := h.hooks.OnUnignored(req.Keys, req.UserName, now)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, result)
}

// DisplayStatusRequest resolves labels for a set of keys as seen by one user.
type DisplayStatusRequest struct {
	Keys      []entity.TaskKey `json:"keys" binding:"required"`
	UserRoles string           `json:"user_roles"`
	Now       string           `json:"now"`
}

// DisplayStatus handles POST /display-status
func (h *Handlers) DisplayStatus(c *gin.Context) {
	var req DisplayStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	now, err := parseNow(req.Now)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	labels, err := h.hooks.GetDisplayStatus(req.Keys, req.UserRoles, now)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, labels)
}

// FinalizeScan handles POST /scan/finalize
func (h *Handlers) FinalizeScan(c *gin.Context) {
	result, err := h.svc.FinalizeScan(time.Now(), h.scanCfg.MissingKeepDays, h.scanCfg.ConfirmedKeepDays)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, result)
}

// interfaceQuery pulls the logical-interface locator out of query params.
func interfaceQuery(c *gin.Context) (fileType int, projectID, interfaceID string, err error) {
	fileType, err = strconv.Atoi(c.Query("file_type"))
	if err != nil {
		return 0, "", "", errors.New("file_type must be an integer")
	}
	projectID = c.Query("project_id")
	interfaceID = c.Query("interface_id")
	if projectID == "" || interfaceID == "" {
		return 0, "", "", errors.New("project_id and interface_id are required")
	}
	return fileType, projectID, interfaceID, nil
}

// TaskHistory handles GET /tasks/history
func (h *Handlers) TaskHistory(c *gin.Context) {
	fileType, projectID, interfaceID, err := interfaceQuery(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	tasks, err := h.svc.TaskHistory(fileType, projectID, interfaceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, tasks)
}

// ForceAssignCandidates handles GET /tasks/force-assign
func (h *Handlers) ForceAssignCandidates(c *gin.Context) {
	fileType, projectID, interfaceID, err := interfaceQuery(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	tasks, err := h.svc.FindTasksForForceAssign(fileType, projectID, interfaceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, tasks)
}

// InterfaceEvents handles GET /tasks/events
func (h *Handlers) InterfaceEvents(c *gin.Context) {
	fileType, projectID, interfaceID, err := interfaceQuery(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	events, err := h.svc.InterfaceEvents(fileType, projectID, interfaceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, events)
}

// EnableMaintenance handles POST /maintenance/enable
func (h *Handlers) EnableMaintenance(c *gin.Context) {
	if err := hooks.EnableMaintenanceMode(); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"maintenance": true})
}

// DisableMaintenance handles POST /maintenance/disable
func (h *Handlers) DisableMaintenance(c *gin.Context) {
	if err := hooks.DisableMaintenanceMode(); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"maintenance": false})
}

// parseNow accepts an explicit event time in the registry's timestamp
// layout, defaulting to the wall clock when absent. Ingest runs replay
// historical scans, so the API cannot assume "now" means now; a timestamp
// that parses as neither layout is rejected rather than silently replaced.
func parseNow(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized now timestamp: %q", s)
}
