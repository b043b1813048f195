package service

import (
	"errors"
	"fmt"
)

// ErrTaskNotFound is returned when a transition targets a key with no live
// task row. Batch operations report it per item instead of raising.
var ErrTaskNotFound = errors.New("task not found")

// StateViolationError reports a transition attempted from the wrong
// lifecycle state.
type StateViolationError struct {
	Op       string
	Current  string
	Required string
}

func (e *StateViolationError) Error() string {
	return fmt.Sprintf("%s requires status %q, task is %q", e.Op, e.Required, e.Current)
}

// RoleRoutingError reports a stored display label that should be impossible
// for the caller's roles. It exists to catch role-routing bugs early: the
// derivation only ever produces the assign label for superiors, so a
// designer-only caller observing it stored means an upstream write went to
// the wrong place.
type RoleRoutingError struct {
	TaskID string
	Label  string
	Roles  string
}

func (e *RoleRoutingError) Error() string {
	return fmt.Sprintf("display label %q stored for task %s cannot be shown to roles %q", e.Label, e.TaskID, e.Roles)
}
