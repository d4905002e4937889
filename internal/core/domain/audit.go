package domain

import "time"

type AuditEventID string

// AuditEvent is an immutable, human-readable record of a roster or content change.
// ActorName is a snapshot taken when the event is written.
type AuditEvent struct {
	ID        AuditEventID `json:"id"`
	CourseID  CourseID     `json:"course_id"`
	ActorID   UserID       `json:"actor_id"`
	ActorName string       `json:"actor_name"`
	Message   string       `json:"message"`
	CreatedAt time.Time    `json:"created_at"`
}
