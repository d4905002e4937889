package memory

import (
	"context"
	"sort"

	"coursehub/internal/core/domain"
	"coursehub/internal/core/ports"
)

// Snapshot copies the committed state. Memberships keep insertion order and
// events keep append order.
func (s *MemoryStore) Snapshot(ctx context.Context) (*domain.RosterSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &domain.RosterSnapshot{
		TakenAt:     s.now(),
		Users:       make([]domain.User, 0, len(s.state.users)),
		Courses:     make([]domain.Course, 0, len(s.state.courses)),
		Memberships: make([]domain.Membership, 0, len(s.state.memberships)),
		Events:      make([]domain.AuditEvent, len(s.state.events)),
	}
	for _, u := range s.state.users {
		snap.Users = append(snap.Users, u)
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].ID < snap.Users[j].ID })

	for _, c := range s.state.courses {
		snap.Courses = append(snap.Courses, c)
	}
	sort.Slice(snap.Courses, func(i, j int) bool { return snap.Courses[i].ID < snap.Courses[j].ID })

	rows := make([]memberRow, 0, len(s.state.memberships))
	for _, r := range s.state.memberships {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	for _, r := range rows {
		snap.Memberships = append(snap.Memberships, r.membership)
	}

	copy(snap.Events, s.state.events)
	return snap, nil
}

var _ ports.Snapshotter = (*MemoryStore)(nil)
