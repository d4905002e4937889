package domain

import "time"

type MembershipID string

// Membership binds one user to one course. (CourseID, UserID) is unique.
type Membership struct {
	ID       MembershipID `json:"id"`
	CourseID CourseID     `json:"course_id"`
	UserID   UserID       `json:"user_id"`
	Role     MemberRole   `json:"role"`
	JoinedAt time.Time    `json:"joined_at"`
}

func (m *Membership) IsOwner() bool {
	return m != nil && m.Role == RoleOwner
}

// MemberEntry is one row of a course roster listing.
type MemberEntry struct {
	MembershipID MembershipID `json:"membership_id"`
	UserID       UserID       `json:"user_id"`
	DisplayName  string       `json:"display_name"`
	Role         MemberRole   `json:"role"`
	JoinedAt     time.Time    `json:"joined_at"`
}
