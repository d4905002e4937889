package domain

import "errors"

var (
	ErrCourseNotFound     = errors.New("course not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrAlreadyMember      = errors.New("user is already a member of this course")
	ErrEmptyCourseName    = errors.New("course name cannot be empty")
	ErrOwnerMembership    = errors.New("the owner's membership cannot be removed")
	ErrChannelUnavailable = errors.New("broadcast fabric unavailable")
)
