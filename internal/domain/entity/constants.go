package entity

// Lifecycle status constants
const (
	StatusOpen      = "open"
	StatusCompleted = "completed"
	StatusConfirmed = "confirmed"
	StatusArchived  = "archived"
)

// Stored display-status labels. The empty string stands for NULL
// (confirmed or otherwise hidden rows).
const (
	DisplayPending        = "待完成"     // waiting for the designer to respond
	DisplayReview         = "待审查"     // response written, awaiting review
	DisplayAssignerReview = "待指派人审查"  // awaiting review by whoever assigned it
	DisplayAssign         = "请指派"     // no responsible person yet
)

// Derived-only labels and decorations. These never appear in storage; the
// derivation function produces them for specific caller roles.
const (
	DisplayDesignerPending = "待设计人员完成"
	OverduePrefix          = "（已延期）"
)

// Emoji markers prepended to rendered labels. Cosmetic; downstream
// consumers may strip them.
const (
	MarkerPending = "📌"
	MarkerAssign  = "❗"
	MarkerReview  = "⏳"
)

// Archive reason constants
const (
	ArchiveReasonMissing          = "missing_from_source"
	ArchiveReasonUpdated          = "updated"
	ArchiveReasonConfirmedExpired = "confirmed_expired"
	ArchiveReasonResetCleared     = "task_reset_completed_cleared"
)

// Event kind constants
const (
	EventProcessDone     = "process_done"
	EventAssigned        = "assigned"
	EventResponseWritten = "response_written"
	EventConfirmed       = "confirmed"
	EventUnconfirmed     = "unconfirmed"
	EventIgnored         = "ignored"
	EventUnignored       = "unignored"
	EventArchived        = "archived"
)

// DepartmentSentinel replaces an empty department on every write: an
// interface without a department must be routed to the director for
// confirmation.
const DepartmentSentinel = "请室主任确认"

// Role keywords. A caller whose role string contains the designer keyword is
// a designer; any superior keyword makes the caller a superior. Both may
// apply at once.
const (
	RoleKeywordDesigner          = "设计人员"
	RoleKeywordLeadership        = "所领导"
	RoleKeywordDirector          = "室主任"
	RoleKeywordInterfaceEngineer = "接口工程师"
)

var validStatuses = map[string]bool{
	StatusOpen:      true,
	StatusCompleted: true,
	StatusConfirmed: true,
	StatusArchived:  true,
}

// IsValidStatus reports whether s is one of the four lifecycle statuses.
func IsValidStatus(s string) bool {
	return validStatuses[s]
}
