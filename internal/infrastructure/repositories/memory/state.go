package memory

import (
	"coursehub/internal/core/domain"
)

type pairKey struct {
	course domain.CourseID
	user   domain.UserID
}

type memberRow struct {
	membership domain.Membership
	seq        int64
}

type rosterState struct {
	courses     map[domain.CourseID]domain.Course
	memberships map[domain.MembershipID]memberRow
	byPair      map[pairKey]domain.MembershipID
	users       map[domain.UserID]domain.User
	events      []domain.AuditEvent
	seq         int64
}

func newRosterState() *rosterState {
	return &rosterState{
		courses:     make(map[domain.CourseID]domain.Course),
		memberships: make(map[domain.MembershipID]memberRow),
		byPair:      make(map[pairKey]domain.MembershipID),
		users:       make(map[domain.UserID]domain.User),
	}
}

// clone copies every map. Values are plain structs so a shallow copy of each
// entry is a deep copy of the state.
func (s *rosterState) clone() *rosterState {
	c := &rosterState{
		courses:     make(map[domain.CourseID]domain.Course, len(s.courses)),
		memberships: make(map[domain.MembershipID]memberRow, len(s.memberships)),
		byPair:      make(map[pairKey]domain.MembershipID, len(s.byPair)),
		users:       make(map[domain.UserID]domain.User, len(s.users)),
		events:      make([]domain.AuditEvent, len(s.events)),
		seq:         s.seq,
	}
	for k, v := range s.courses {
		c.courses[k] = v
	}
	for k, v := range s.memberships {
		c.memberships[k] = v
	}
	for k, v := range s.byPair {
		c.byPair[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	copy(c.events, s.events)
	return c
}

func (s *rosterState) nextSeq() int64 {
	s.seq++
	return s.seq
}
