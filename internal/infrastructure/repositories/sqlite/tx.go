package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"coursehub/internal/core/domain"
	"coursehub/internal/core/ports"
	"coursehub/pkg/utils"
)

// txStores binds the roster, audit log and user directory to one *sql.Tx.
type txStores struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *txStores) Roster() ports.RosterStore { return rosterStore{t} }
func (t *txStores) Audit() ports.AuditLog { return auditLog{t} }
func (t *txStores) Users() ports.UserDirectory { return userDirectory{t} }

type rosterStore struct{ *txStores }

func (r rosterStore) CreateCourse(ctx context.Context, name, description string, ownerID domain.UserID) (*domain.Course, error) {
	if strings.TrimSpace(name) == "" {
		return nil, domain.ErrEmptyCourseName
	}
	now := utils.FromMillis(utils.ToMillis(r.now()))
	course := &domain.Course{
		ID:          domain.CourseID(utils.GenerateCourseID()),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := r.tx.ExecContext(ctx,
		`INSERT INTO courses (id, name, description, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		course.ID, course.Name, course.Description, course.OwnerID, utils.ToMillis(now), utils.ToMillis(now),
	); err != nil {
		return nil, fmt.Errorf("create course: %w", err)
	}
	if err := r.insertMembership(ctx, course.ID, ownerID, domain.RoleOwner, now); err != nil {
		return nil, fmt.Errorf("create owner membership: %w", err)
	}
	return course, nil
}

func (r rosterStore) GetCourse(ctx context.Context, id domain.CourseID) (*domain.Course, error) {
	row := r.tx.QueryRowContext(ctx,
		`SELECT id, name, description, owner_id, created_at, updated_at FROM courses WHERE id = ?`, id)
	course, err := scanCourse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return course, nil
}

func (r rosterStore) UpdateCourse(ctx context.Context, id domain.CourseID, name, description string) (*domain.Course, error) {
	if strings.TrimSpace(name) == "" {
		return nil, domain.ErrEmptyCourseName
	}
	res, err := r.tx.ExecContext(ctx,
		`UPDATE courses SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		name, description, utils.ToMillis(r.now()), id)
	if err != nil {
		return nil, fmt.Errorf("update course: %w", err)
	}
	if err := courseAffected(res, "update course"); err != nil {
		return nil, err
	}
	return r.GetCourse(ctx, id)
}

// DeleteCourse relies on ON DELETE CASCADE for memberships and audit events.
func (r rosterStore) DeleteCourse(ctx context.Context, id domain.CourseID) error {
	res, err := r.tx.ExecContext(ctx, `DELETE FROM courses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return courseAffected(res, "delete course")
}

// courseAffected maps a statement that matched no course row to
// ErrCourseNotFound.
func courseAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return domain.ErrCourseNotFound
	}
	return nil
}

func (r rosterStore) AddMember(ctx context.Context, courseID domain.CourseID, userID domain.UserID) (*domain.Membership, error) {
	if _, err := r.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	if err := r.insertMembership(ctx, courseID, userID, domain.RoleMember, r.now()); err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyMember
		}
		return nil, fmt.Errorf("add member: %w", err)
	}
	return r.FindMembership(ctx, courseID, userID)
}

func (r rosterStore) GetMembership(ctx context.Context, id domain.MembershipID) (*domain.Membership, error) {
	row := r.tx.QueryRowContext(ctx,
		`SELECT id, course_id, user_id, role, joined_at FROM memberships WHERE id = ?`, id)
	return scanMembershipRow(row)
}

func (r rosterStore) FindMembership(ctx context.Context, courseID domain.CourseID, userID domain.UserID) (*domain.Membership, error) {
	row := r.tx.QueryRowContext(ctx,
		`SELECT id, course_id, user_id, role, joined_at FROM memberships WHERE course_id = ? AND user_id = ?`,
		courseID, userID)
	return scanMembershipRow(row)
}

func (r rosterStore) RemoveMember(ctx context.Context, id domain.MembershipID) (*domain.Membership, error) {
	m, err := r.GetMembership(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.IsOwner() {
		return nil, domain.ErrOwnerMembership
	}
	if _, err := r.tx.ExecContext(ctx, `DELETE FROM memberships WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("remove member: %w", err)
	}
	return m, nil
}

func (r rosterStore) LeaveCourse(ctx context.Context, courseID domain.CourseID, userID domain.UserID) error {
	m, err := r.FindMembership(ctx, courseID, userID)
	if err != nil {
		return err
	}
	if m.IsOwner() {
		return domain.ErrOwnerMembership
	}
	if _, err := r.tx.ExecContext(ctx, `DELETE FROM memberships WHERE id = ?`, m.ID); err != nil {
		return fmt.Errorf("leave course: %w", err)
	}
	return nil
}

func (r rosterStore) GetMembers(ctx context.Context, courseID domain.CourseID) ([]domain.MemberEntry, error) {
	if _, err := r.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	rows, err := r.tx.QueryContext(ctx, `
SELECT m.id, m.user_id, COALESCE(NULLIF(u.display_name, ''), m.user_id), m.role, m.joined_at
FROM memberships m
LEFT JOIN users u ON u.id = m.user_id
WHERE m.course_id = ?
ORDER BY m.seq`, courseID)
	if err != nil {
		return nil, fmt.Errorf("get members: %w", err)
	}
	defer rows.Close()

	members := make([]domain.MemberEntry, 0)
	for rows.Next() {
		var (
			entry    domain.MemberEntry
			joinedAt int64
		)
		if err := rows.Scan(&entry.MembershipID, &entry.UserID, &entry.DisplayName, &entry.Role, &joinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		entry.JoinedAt = utils.FromMillis(joinedAt)
		members = append(members, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get members: %w", err)
	}
	return members, nil
}

func (r rosterStore) ListCoursesForUser(ctx context.Context, userID domain.UserID) ([]*domain.Course, error) {
	rows, err := r.tx.QueryContext(ctx, `
SELECT c.id, c.name, c.description, c.owner_id, c.created_at, c.updated_at
FROM courses c
JOIN memberships m ON m.course_id = c.id
WHERE m.user_id = ?
ORDER BY m.seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	courses := make([]*domain.Course, 0)
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, course)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

func (r rosterStore) insertMembership(ctx context.Context, courseID domain.CourseID, userID domain.UserID, role domain.MemberRole, joinedAt time.Time) error {
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO memberships (id, course_id, user_id, role, joined_at) VALUES (?, ?, ?, ?, ?)`,
		utils.GenerateMembershipID(), courseID, userID, role, utils.ToMillis(joinedAt))
	return err
}

type auditLog struct{ *txStores }

func (a auditLog) Append(ctx context.Context, courseID domain.CourseID, actorID domain.UserID, actorName, message string) (*domain.AuditEvent, error) {
	if _, err := (rosterStore{a.txStores}).GetCourse(ctx, courseID); err != nil {
		return nil, fmt.Errorf("append audit event: %w", err)
	}
	ev := &domain.AuditEvent{
		ID:        domain.AuditEventID(utils.GenerateEventID()),
		CourseID:  courseID,
		ActorID:   actorID,
		ActorName: actorName,
		Message:   message,
		CreatedAt: utils.FromMillis(utils.ToMillis(a.now())),
	}
	if _, err := a.tx.ExecContext(ctx,
		`INSERT INTO audit_events (id, course_id, actor_id, actor_name, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.CourseID, ev.ActorID, ev.ActorName, ev.Message, utils.ToMillis(ev.CreatedAt),
	); err != nil {
		return nil, fmt.Errorf("append audit event: %w", err)
	}
	return ev, nil
}

// ListByCourse returns newest events first. A non-positive limit means all.
func (a auditLog) ListByCourse(ctx context.Context, courseID domain.CourseID, limit int) ([]*domain.AuditEvent, error) {
	if _, err := (rosterStore{a.txStores}).GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := a.tx.QueryContext(ctx, `
SELECT id, course_id, actor_id, actor_name, message, created_at
FROM audit_events
WHERE course_id = ?
ORDER BY seq DESC
LIMIT ?`, courseID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*domain.AuditEvent, 0)
	for rows.Next() {
		var (
			ev        domain.AuditEvent
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.CourseID, &ev.ActorID, &ev.ActorName, &ev.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.CreatedAt = utils.FromMillis(createdAt)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}

type userDirectory struct{ *txStores }

func (u userDirectory) Lookup(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var (
		user      domain.User
		updatedAt int64
	)
	err := u.tx.QueryRowContext(ctx,
		`SELECT id, display_name, updated_at FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.DisplayName, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	user.UpdatedAt = utils.FromMillis(updatedAt)
	return &user, nil
}

func (u userDirectory) Upsert(ctx context.Context, user domain.User) error {
	if user.ID == "" {
		return fmt.Errorf("upsert user: empty id")
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = u.now()
	}
	_, err := u.tx.ExecContext(ctx, `
INSERT INTO users (id, display_name, updated_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name, updated_at = excluded.updated_at`,
		user.ID, user.DisplayName, utils.ToMillis(user.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCourse(row rowScanner) (*domain.Course, error) {
	var (
		course               domain.Course
		createdAt, updatedAt int64
	)
	if err := row.Scan(&course.ID, &course.Name, &course.Description, &course.OwnerID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	course.CreatedAt = utils.FromMillis(createdAt)
	course.UpdatedAt = utils.FromMillis(updatedAt)
	return &course, nil
}

func scanMembershipRow(row rowScanner) (*domain.Membership, error) {
	var (
		m        domain.Membership
		joinedAt int64
	)
	err := row.Scan(&m.ID, &m.CourseID, &m.UserID, &m.Role, &joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan membership: %w", err)
	}
	m.JoinedAt = utils.FromMillis(joinedAt)
	return &m, nil
}
