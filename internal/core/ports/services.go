package ports

import (
	"context"

	"coursehub/internal/core/domain"
)

type MembershipService interface {
	CreateCourse(ctx context.Context, actor domain.UserID, draft domain.CourseDraft) (*domain.Course, error)
	GetCourse(ctx context.Context, actor domain.UserID, courseID domain.CourseID) (*CourseView, error)
	ListCourses(ctx context.Context, actor domain.UserID) ([]*domain.Course, error)
	UpdateCourse(ctx context.Context, actor domain.UserID, courseID domain.CourseID, draft domain.CourseDraft) (*domain.Course, error)
	DeleteCourse(ctx context.Context, actor domain.UserID, courseID domain.CourseID) error

	AddMember(ctx context.Context, actor domain.UserID, courseID domain.CourseID, target domain.UserID) (*domain.Membership, error)
	RemoveMember(ctx context.Context, actor domain.UserID, membershipID domain.MembershipID) (*domain.Membership, error)
	LeaveCourse(ctx context.Context, actor domain.UserID, courseID domain.CourseID) error

	GetMembers(ctx context.Context, actor domain.UserID, courseID domain.CourseID) ([]domain.MemberEntry, error)
	ListEvents(ctx context.Context, actor domain.UserID, courseID domain.CourseID, limit int) ([]*domain.AuditEvent, error)
}

// CourseView is a course together with its roster.
type CourseView struct {
	Course  *domain.Course       `json:"course"`
	Members []domain.MemberEntry `json:"members"`
}

// ChannelRegistry is the best-effort side channel to the broadcast fabric.
// Errors are reported to the caller for logging only.
type ChannelRegistry interface {
	Dispatch(ctx context.Context, cmd domain.ChannelCommand) error
	Notify(ctx context.Context, courseID domain.CourseID, event *domain.AuditEvent) error
}

// Fabric is the local end of the broadcast fabric: the live connections held
// by this process.
type Fabric interface {
	Join(userID domain.UserID, group string) int
	Leave(userID domain.UserID, group string) int
	Broadcast(group string, message interface{}) int
}
