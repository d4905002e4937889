package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"coursehub/internal/core/domain"
	"coursehub/internal/core/ports"
	"coursehub/pkg/utils"
)

// memoryTx reads the live store state until its first write, which switches
// it to a private copy. It serves all three stores so a single copy backs the
// whole transaction.
type memoryTx struct {
	state *rosterState
	dirty bool
	now   func() time.Time
}

// mutable returns the private copy, cloning the live state on first use.
func (tx *memoryTx) mutable() *rosterState {
	if !tx.dirty {
		tx.state = tx.state.clone()
		tx.dirty = true
	}
	return tx.state
}

func (tx *memoryTx) Roster() ports.RosterStore { return tx }
func (tx *memoryTx) Audit() ports.AuditLog { return tx }
func (tx *memoryTx) Users() ports.UserDirectory { return tx }

func (tx *memoryTx) CreateCourse(ctx context.Context, name, description string, ownerID domain.UserID) (*domain.Course, error) {
	if strings.TrimSpace(name) == "" {
		return nil, domain.ErrEmptyCourseName
	}
	now := tx.now().UTC()
	course := domain.Course{
		ID:          domain.CourseID(utils.GenerateCourseID()),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx.mutable().courses[course.ID] = course

	owner := domain.Membership{
		ID:       domain.MembershipID(utils.GenerateMembershipID()),
		CourseID: course.ID,
		UserID:   ownerID,
		Role:     domain.RoleOwner,
		JoinedAt: now,
	}
	tx.insertMembership(owner)

	return &course, nil
}

func (tx *memoryTx) GetCourse(ctx context.Context, id domain.CourseID) (*domain.Course, error) {
	course, ok := tx.state.courses[id]
	if !ok {
		return nil, domain.ErrCourseNotFound
	}
	return &course, nil
}

func (tx *memoryTx) UpdateCourse(ctx context.Context, id domain.CourseID, name, description string) (*domain.Course, error) {
	if strings.TrimSpace(name) == "" {
		return nil, domain.ErrEmptyCourseName
	}
	course, ok := tx.state.courses[id]
	if !ok {
		return nil, domain.ErrCourseNotFound
	}
	course.Name = name
	course.Description = description
	course.UpdatedAt = tx.now().UTC()
	tx.mutable().courses[id] = course
	return &course, nil
}

func (tx *memoryTx) DeleteCourse(ctx context.Context, id domain.CourseID) error {
	if _, ok := tx.state.courses[id]; !ok {
		return domain.ErrCourseNotFound
	}
	st := tx.mutable()
	delete(st.courses, id)

	for mid, row := range st.memberships {
		if row.membership.CourseID == id {
			tx.deleteMembership(mid)
		}
	}

	kept := st.events[:0]
	for _, ev := range st.events {
		if ev.CourseID != id {
			kept = append(kept, ev)
		}
	}
	st.events = kept
	return nil
}

func (tx *memoryTx) AddMember(ctx context.Context, courseID domain.CourseID, userID domain.UserID) (*domain.Membership, error) {
	if _, ok := tx.state.courses[courseID]; !ok {
		return nil, domain.ErrCourseNotFound
	}
	if _, exists := tx.state.byPair[pairKey{courseID, userID}]; exists {
		return nil, domain.ErrAlreadyMember
	}

	m := domain.Membership{
		ID:       domain.MembershipID(utils.GenerateMembershipID()),
		CourseID: courseID,
		UserID:   userID,
		Role:     domain.RoleMember,
		JoinedAt: tx.now().UTC(),
	}
	tx.insertMembership(m)
	return &m, nil
}

func (tx *memoryTx) GetMembership(ctx context.Context, id domain.MembershipID) (*domain.Membership, error) {
	row, ok := tx.state.memberships[id]
	if !ok {
		return nil, domain.ErrMembershipNotFound
	}
	m := row.membership
	return &m, nil
}

func (tx *memoryTx) FindMembership(ctx context.Context, courseID domain.CourseID, userID domain.UserID) (*domain.Membership, error) {
	id, ok := tx.state.byPair[pairKey{courseID, userID}]
	if !ok {
		return nil, domain.ErrMembershipNotFound
	}
	return tx.GetMembership(ctx, id)
}

func (tx *memoryTx) RemoveMember(ctx context.Context, id domain.MembershipID) (*domain.Membership, error) {
	row, ok := tx.state.memberships[id]
	if !ok {
		return nil, domain.ErrMembershipNotFound
	}
	if row.membership.IsOwner() {
		return nil, domain.ErrOwnerMembership
	}
	tx.deleteMembership(id)
	m := row.membership
	return &m, nil
}

func (tx *memoryTx) LeaveCourse(ctx context.Context, courseID domain.CourseID, userID domain.UserID) error {
	id, ok := tx.state.byPair[pairKey{courseID, userID}]
	if !ok {
		return domain.ErrMembershipNotFound
	}
	row := tx.state.memberships[id]
	if row.membership.IsOwner() {
		return domain.ErrOwnerMembership
	}
	tx.deleteMembership(id)
	return nil
}

func (tx *memoryTx) GetMembers(ctx context.Context, courseID domain.CourseID) ([]domain.MemberEntry, error) {
	if _, ok := tx.state.courses[courseID]; !ok {
		return nil, domain.ErrCourseNotFound
	}

	rows := make([]memberRow, 0)
	for _, row := range tx.state.memberships {
		if row.membership.CourseID == courseID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	entries := make([]domain.MemberEntry, 0, len(rows))
	for _, row := range rows {
		m := row.membership
		name := string(m.UserID)
		if u, ok := tx.state.users[m.UserID]; ok && u.DisplayName != "" {
			name = u.DisplayName
		}
		entries = append(entries, domain.MemberEntry{
			MembershipID: m.ID,
			UserID:       m.UserID,
			DisplayName:  name,
			Role:         m.Role,
			JoinedAt:     m.JoinedAt,
		})
	}
	return entries, nil
}

func (tx *memoryTx) ListCoursesForUser(ctx context.Context, userID domain.UserID) ([]*domain.Course, error) {
	rows := make([]memberRow, 0)
	for _, row := range tx.state.memberships {
		if row.membership.UserID == userID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	courses := make([]*domain.Course, 0, len(rows))
	for _, row := range rows {
		if c, ok := tx.state.courses[row.membership.CourseID]; ok {
			c := c
			courses = append(courses, &c)
		}
	}
	return courses, nil
}

func (tx *memoryTx) Append(ctx context.Context, courseID domain.CourseID, actorID domain.UserID, actorName, message string) (*domain.AuditEvent, error) {
	if _, ok := tx.state.courses[courseID]; !ok {
		return nil, fmt.Errorf("append audit event: %w", domain.ErrCourseNotFound)
	}
	ev := domain.AuditEvent{
		ID:        domain.AuditEventID(utils.GenerateEventID()),
		CourseID:  courseID,
		ActorID:   actorID,
		ActorName: actorName,
		Message:   message,
		CreatedAt: tx.now().UTC(),
	}
	st := tx.mutable()
	st.events = append(st.events, ev)
	return &ev, nil
}

// ListByCourse returns newest events first. A non-positive limit means all.
func (tx *memoryTx) ListByCourse(ctx context.Context, courseID domain.CourseID, limit int) ([]*domain.AuditEvent, error) {
	if _, ok := tx.state.courses[courseID]; !ok {
		return nil, domain.ErrCourseNotFound
	}
	out := make([]*domain.AuditEvent, 0)
	for i := len(tx.state.events) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		ev := tx.state.events[i]
		if ev.CourseID == courseID {
			out = append(out, &ev)
		}
	}
	return out, nil
}

func (tx *memoryTx) Lookup(ctx context.Context, id domain.UserID) (*domain.User, error) {
	u, ok := tx.state.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (tx *memoryTx) Upsert(ctx context.Context, user domain.User) error {
	if user.ID == "" {
		return fmt.Errorf("upsert user: empty id")
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = tx.now().UTC()
	}
	tx.mutable().users[user.ID] = user
	return nil
}

func (tx *memoryTx) insertMembership(m domain.Membership) {
	st := tx.mutable()
	st.memberships[m.ID] = memberRow{membership: m, seq: st.nextSeq()}
	st.byPair[pairKey{m.CourseID, m.UserID}] = m.ID
}

func (tx *memoryTx) deleteMembership(id domain.MembershipID) {
	row, ok := tx.state.memberships[id]
	if !ok {
		return
	}
	st := tx.mutable()
	delete(st.memberships, id)
	delete(st.byPair, pairKey{row.membership.CourseID, row.membership.UserID})
}
