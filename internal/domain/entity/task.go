package entity

// TaskKey is the composite locator of a single workbook row. One task row
// exists per key; the same logical interface may appear under many keys as
// workbooks are re-exported.
type TaskKey struct {
	FileType    int    `json:"file_type"`
	ProjectID   string `json:"project_id"`
	InterfaceID string `json:"interface_id"`
	SourceFile  string `json:"source_file"`
	RowIndex    int    `json:"row_index"`
}

// Task represents one tracked interface item.
//
// Timestamps are stored as "2006-01-02 15:04:05" strings; an empty string
// maps to SQL NULL. DisplayStatus follows the same convention: the empty
// string means NULL (hidden from active lists).
type Task struct {
	ID         string `json:"id"`
	BusinessID string `json:"business_id"`

	FileType    int    `json:"file_type"`
	ProjectID   string `json:"project_id"`
	InterfaceID string `json:"interface_id"`
	SourceFile  string `json:"source_file"`
	RowIndex    int    `json:"row_index"`

	Department        string `json:"department"`
	InterfaceTime     string `json:"interface_time"`
	Role              string `json:"role,omitempty"`
	ResponsiblePerson string `json:"responsible_person,omitempty"`
	ResponseNumber    string `json:"response_number,omitempty"`

	AssignedBy  string `json:"assigned_by,omitempty"`
	AssignedAt  string `json:"assigned_at,omitempty"`
	CompletedBy string `json:"completed_by,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	ConfirmedBy string `json:"confirmed_by,omitempty"`
	ConfirmedAt string `json:"confirmed_at,omitempty"`
	ArchivedAt  string `json:"archived_at,omitempty"`

	Status        string `json:"status"`
	DisplayStatus string `json:"display_status,omitempty"`

	FirstSeenAt   string `json:"first_seen_at"`
	SeenViaUpdate bool   `json:"seen_via_update"`
	LastSeenAt    string `json:"last_seen_at"`
	MissingSince  string `json:"missing_since,omitempty"`
	ArchiveReason string `json:"archive_reason,omitempty"`

	Ignored                  bool   `json:"ignored"`
	IgnoredAt                string `json:"ignored_at,omitempty"`
	IgnoredBy                string `json:"ignored_by,omitempty"`
	InterfaceTimeWhenIgnored string `json:"interface_time_when_ignored,omitempty"`
	IgnoredReason            string `json:"ignored_reason,omitempty"`
}

// Key reconstructs the composite locator of the task row.
func (t *Task) Key() TaskKey {
	return TaskKey{
		FileType:    t.FileType,
		ProjectID:   t.ProjectID,
		InterfaceID: t.InterfaceID,
		SourceFile:  t.SourceFile,
		RowIndex:    t.RowIndex,
	}
}

// HasCompleteChain reports whether the task carries both a completion and a
// confirmation timestamp. Rows with a complete chain are durable history:
// a change to the expected time archives them and forks a fresh row instead
// of resetting in place.
func (t *Task) HasCompleteChain() bool {
	return t.CompletedAt != "" && t.ConfirmedAt != ""
}

// UpsertFields carries the candidate values observed for one row during a
// scan. Nil means "not observed": the upsert never touches a field the
// caller did not provide, which is how assignment writes avoid triggering
// the expected-time reset logic.
type UpsertFields struct {
	Department        *string
	InterfaceTime     *string
	Role              *string
	DisplayStatus     *string
	ResponsiblePerson *string
	ResponseNumber    *string
	AssignedBy        *string
	AssignedAt        *string
	CompletedBy       *string

	// CompletedColValue is the raw value the ingest observed in the
	// workbook's response column. It is never stored; it only drives the
	// reset / archive-and-fork decision.
	CompletedColValue *string
}

// IgnoredSnapshot captures the expected time at the moment a task was
// ignored, so later writes to the task row cannot pollute the
// "has the time changed since the ignore" comparison.
type IgnoredSnapshot struct {
	TaskID        string `json:"task_id"`
	BusinessID    string `json:"business_id"`
	InterfaceTime string `json:"interface_time"`
	IgnoredBy     string `json:"ignored_by"`
	IgnoredReason string `json:"ignored_reason,omitempty"`
	IgnoredAt     string `json:"ignored_at"`
}

// Event is one append-only audit log entry. Locator fields are optional;
// Extra is a kind-specific JSON object.
type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	Kind        string `json:"event"`
	FileType    int    `json:"file_type,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	InterfaceID string `json:"interface_id,omitempty"`
	SourceFile  string `json:"source_file,omitempty"`
	RowIndex    int    `json:"row_index,omitempty"`
	Extra       string `json:"extra,omitempty"`
}

// ScanRow is one extracted workbook row handed over by the ingest layer.
type ScanRow struct {
	RowIndex          int     `json:"row_index"`
	InterfaceID       string  `json:"interface_id"`
	Department        string  `json:"department"`
	InterfaceTime     string  `json:"interface_time"`
	Role              string  `json:"role"`
	DisplayStatus     string  `json:"display_status"`
	ResponsiblePerson string  `json:"responsible_person"`
	CompletedColValue *string `json:"completed_col_value"`
}

// FailedTask reports one key a batch operation could not apply.
type FailedTask struct {
	Key    TaskKey `json:"key"`
	Reason string  `json:"reason"`
}

// BatchResult is the partial-failure report of a batch operation.
type BatchResult struct {
	SuccessCount int          `json:"success_count"`
	FailedTasks  []FailedTask `json:"failed_tasks,omitempty"`
}
