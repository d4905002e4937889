package ports

import (
	"context"

	"coursehub/internal/core/domain"
)

// RosterStore persists courses and memberships. Implementations enforce the
// (course, user) uniqueness invariant themselves.
type RosterStore interface {
	CreateCourse(ctx context.Context, name, description string, ownerID domain.UserID) (*domain.Course, error)
	GetCourse(ctx context.Context, id domain.CourseID) (*domain.Course, error)
	UpdateCourse(ctx context.Context, id domain.CourseID, name, description string) (*domain.Course, error)
	DeleteCourse(ctx context.Context, id domain.CourseID) error

	AddMember(ctx context.Context, courseID domain.CourseID, userID domain.UserID) (*domain.Membership, error)
	GetMembership(ctx context.Context, id domain.MembershipID) (*domain.Membership, error)
	FindMembership(ctx context.Context, courseID domain.CourseID, userID domain.UserID) (*domain.Membership, error)
	RemoveMember(ctx context.Context, id domain.MembershipID) (*domain.Membership, error)
	LeaveCourse(ctx context.Context, courseID domain.CourseID, userID domain.UserID) error

	GetMembers(ctx context.Context, courseID domain.CourseID) ([]domain.MemberEntry, error)
	ListCoursesForUser(ctx context.Context, userID domain.UserID) ([]*domain.Course, error)
}

// AuditLog is append-only.
type AuditLog interface {
	Append(ctx context.Context, courseID domain.CourseID, actorID domain.UserID, actorName, message string) (*domain.AuditEvent, error)
	ListByCourse(ctx context.Context, courseID domain.CourseID, limit int) ([]*domain.AuditEvent, error)
}

type UserDirectory interface {
	Lookup(ctx context.Context, id domain.UserID) (*domain.User, error)
	Upsert(ctx context.Context, user domain.User) error
}

// Tx exposes the stores bound to a single transaction.
type Tx interface {
	Roster() RosterStore
	Audit() AuditLog
	Users() UserDirectory
}

// Transactor runs fn inside one transaction. The transaction commits only when
// fn returns nil and rolls back on every other exit path, including panics.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Snapshotter exports the whole roster as of a single point in time.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*domain.RosterSnapshot, error)
}
