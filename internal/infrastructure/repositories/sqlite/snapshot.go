package sqlite

import (
	"context"
	"fmt"

	"coursehub/internal/core/domain"
	"coursehub/internal/core/ports"
	"coursehub/pkg/utils"
)

// Snapshot reads every table inside one transaction so the copy is consistent.
func (s *Store) Snapshot(ctx context.Context) (snap *domain.RosterSnapshot, err error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap = &domain.RosterSnapshot{TakenAt: s.now()}

	rows, err := tx.QueryContext(ctx, `SELECT id, display_name, updated_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot users: %w", err)
	}
	for rows.Next() {
		var (
			u         domain.User
			updatedAt int64
		)
		if err := rows.Scan(&u.ID, &u.DisplayName, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.UpdatedAt = utils.FromMillis(updatedAt)
		snap.Users = append(snap.Users, u)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("snapshot users: %w", err)
	}

	rows, err = tx.QueryContext(ctx, `
SELECT id, name, description, owner_id, created_at, updated_at FROM courses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot courses: %w", err)
	}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan course: %w", err)
		}
		snap.Courses = append(snap.Courses, *c)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("snapshot courses: %w", err)
	}

	rows, err = tx.QueryContext(ctx, `
SELECT id, course_id, user_id, role, joined_at FROM memberships ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("snapshot memberships: %w", err)
	}
	for rows.Next() {
		m, err := scanMembershipRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		snap.Memberships = append(snap.Memberships, *m)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("snapshot memberships: %w", err)
	}

	rows, err = tx.QueryContext(ctx, `
SELECT id, course_id, actor_id, actor_name, message, created_at FROM audit_events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("snapshot audit events: %w", err)
	}
	for rows.Next() {
		var (
			ev        domain.AuditEvent
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.CourseID, &ev.ActorID, &ev.ActorName, &ev.Message, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.CreatedAt = utils.FromMillis(createdAt)
		snap.Events = append(snap.Events, ev)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("snapshot audit events: %w", err)
	}

	return snap, nil
}

type rowIterator interface {
	Err() error
	Close() error
}

func closeRows(rows rowIterator) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

var _ ports.Snapshotter = (*Store)(nil)
