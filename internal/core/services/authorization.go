package services

import (
	"fmt"

	"coursehub/internal/core/domain"
	apperrors "coursehub/pkg/errors"
)

// Action is an operation an actor attempts on a course.
type Action int

const (
	ActionCreateCourse Action = iota
	ActionViewCourse
	ActionUpdateCourse
	ActionDeleteCourse
	ActionAddMember
	ActionRemoveMember
	ActionLeaveCourse
	ActionListMembers
	ActionListEvents
)

func (a Action) String() string {
	switch a {
	case ActionCreateCourse:
		return "create_course"
	case ActionViewCourse:
		return "view_course"
	case ActionUpdateCourse:
		return "update_course"
	case ActionDeleteCourse:
		return "delete_course"
	case ActionAddMember:
		return "add_member"
	case ActionRemoveMember:
		return "remove_member"
	case ActionLeaveCourse:
		return "leave_course"
	case ActionListMembers:
		return "list_members"
	case ActionListEvents:
		return "list_events"
	default:
		return "unknown"
	}
}

// Allowed decides whether actor may perform action on course. course may be
// nil only for ActionCreateCourse. actorIsMember reports whether the actor
// currently holds a membership in course.
func Allowed(actor domain.UserID, course *domain.Course, action Action, actorIsMember bool) bool {
	if actor == "" {
		return false
	}
	if action == ActionCreateCourse {
		return true
	}
	if course == nil {
		return false
	}

	switch action {
	case ActionUpdateCourse, ActionDeleteCourse, ActionAddMember, ActionRemoveMember:
		return course.IsOwner(actor)
	case ActionLeaveCourse:
		return !course.IsOwner(actor)
	case ActionViewCourse, ActionListMembers, ActionListEvents:
		return actorIsMember || course.IsOwner(actor)
	default:
		return false
	}
}

// Authorize is Allowed returning a FORBIDDEN error on denial.
func Authorize(actor domain.UserID, course *domain.Course, action Action, actorIsMember bool) error {
	if Allowed(actor, course, action, actorIsMember) {
		return nil
	}
	err := apperrors.NewForbiddenError(fmt.Sprintf("not permitted to %s", action)).
		WithContext("actor", actor).
		WithContext("action", action.String())
	if course != nil {
		err = err.WithContext("course_id", course.ID)
	}
	return err
}
