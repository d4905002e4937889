package domain

import "time"

type UserID string

// User is the slice of the user directory the roster needs.
type User struct {
	ID          UserID    `json:"id"`
	DisplayName string    `json:"display_name"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleMember MemberRole = "member"
)

func (r MemberRole) Valid() bool {
	return r == RoleOwner || r == RoleMember
}
