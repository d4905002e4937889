package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID returns a random identifier with the given prefix.
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

func GenerateCourseID() string {
	return GenerateID("crs")
}

func GenerateMembershipID() string {
	return GenerateID("mbr")
}

func GenerateEventID() string {
	return GenerateID("evt")
}

// GenerateRequestID generates a request ID for log correlation.
func GenerateRequestID() string {
	return GenerateID("req")
}

// GenerateInstanceID names this process on the shared command bus.
func GenerateInstanceID() string {
	return GenerateID("node")
}
