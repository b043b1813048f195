package service

import (
	"strings"
	"time"

	"github.com/linwei/iface-registry/internal/domain/entity"
	"github.com/linwei/iface-registry/internal/identity"
)

// IsDesignerRole reports whether the caller's role string carries the
// designer keyword.
func IsDesignerRole(roles string) bool {
	return strings.Contains(roles, entity.RoleKeywordDesigner)
}

// IsSuperiorRole reports whether the caller's role string carries any
// superior keyword.
func IsSuperiorRole(roles string) bool {
	return strings.Contains(roles, entity.RoleKeywordLeadership) ||
		strings.Contains(roles, entity.RoleKeywordDirector) ||
		strings.Contains(roles, entity.RoleKeywordInterfaceEngineer)
}

// GetDisplayStatus resolves the user-visible label for a set of task keys.
//
// The result maps task id to rendered label. Ignored and confirmed tasks
// are present with an empty label ("exists but hidden"); tasks with no
// stored display status are absent entirely. A stored assign label
// reaching a designer-only caller is a role-routing bug and is returned as
// an error.
func (s *Service) GetDisplayStatus(keys []entity.TaskKey, callerRoles string, today time.Time) (map[string]string, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = identity.TaskID(key.FileType, key.ProjectID, key.InterfaceID,
			identity.Basename(key.SourceFile), key.RowIndex)
	}
	tasks, err := s.tasks.GetByIDs(db, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(tasks))
	for _, t := range tasks {
		label, present, err := deriveDisplayStatus(t, callerRoles)
		if err != nil {
			return nil, err
		}
		if !present {
			continue
		}
		if label != "" {
			label = decorateLabel(label, s.overdue != nil && s.overdue(t.InterfaceTime, today))
		}
		out[t.ID] = label
	}
	return out, nil
}

// deriveDisplayStatus is the pure role-routing core: stored state × caller
// roles → undecorated label. present=false means the task must be absent
// from the output.
func deriveDisplayStatus(t *entity.Task, callerRoles string) (label string, present bool, err error) {
	if t.Ignored {
		return "", true, nil
	}
	if t.ConfirmedAt != "" {
		return "", true, nil
	}
	if t.DisplayStatus == "" {
		return "", false, nil
	}

	designer := IsDesignerRole(callerRoles)
	superior := IsSuperiorRole(callerRoles)

	switch {
	case designer:
		// A designer with superior duties still sees the designer view:
		// the user is the responsible party.
		if t.DisplayStatus == entity.DisplayAssign && !superior {
			return "", false, &RoleRoutingError{TaskID: t.ID, Label: t.DisplayStatus, Roles: callerRoles}
		}
		return t.DisplayStatus, true, nil

	case superior:
		if t.DisplayStatus == entity.DisplayPending {
			if t.ResponsiblePerson == "" {
				return entity.DisplayAssign, true, nil
			}
			return entity.DisplayDesignerPending, true, nil
		}
		return t.DisplayStatus, true, nil

	default:
		return t.DisplayStatus, true, nil
	}
}

// decorateLabel applies the overdue prefix and the emoji marker. The
// marker is keyed off the final text and is purely cosmetic.
func decorateLabel(label string, overdue bool) string {
	if overdue {
		label = entity.OverduePrefix + label
	}
	marker := entity.MarkerPending
	switch {
	case strings.Contains(label, entity.DisplayAssign):
		marker = entity.MarkerAssign
	case strings.Contains(label, "审查"):
		marker = entity.MarkerReview
	}
	return marker + label
}
