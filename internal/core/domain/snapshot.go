package domain

import "time"

// RosterSnapshot is a consistent copy of everything the roster store holds.
type RosterSnapshot struct {
	TakenAt     time.Time    `json:"taken_at"`
	Users       []User       `json:"users"`
	Courses     []Course     `json:"courses"`
	Memberships []Membership `json:"memberships"`
	Events      []AuditEvent `json:"events"`
}
