package domain

import (
	"strings"
	"time"
)

type CourseID string

// Course is a group workspace with exactly one owner.
type Course struct {
	ID          CourseID  `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     UserID    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (c *Course) IsOwner(userID UserID) bool {
	return c != nil && userID != "" && c.OwnerID == userID
}

// CourseDraft carries loosely-typed course fields as they arrive from a client.
// A nil Description means "not supplied" and normalizes to the empty string.
type CourseDraft struct {
	Name        string
	Description *string
}

// Normalize trims the draft and rejects a blank name.
func (d CourseDraft) Normalize() (name, description string, err error) {
	name = strings.TrimSpace(d.Name)
	if name == "" {
		return "", "", ErrEmptyCourseName
	}
	if d.Description != nil {
		description = strings.TrimSpace(*d.Description)
	}
	return name, description, nil
}
