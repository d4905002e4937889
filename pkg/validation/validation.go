package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	MaxIDLength          = 100
	MaxCourseNameLength  = 200
	MaxDescriptionLength = 4000
	MaxDisplayNameLength = 100
)

// IDRegex matches course, membership and user identifiers.
var IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)

// ValidateID validates an identifier taken from a path or a request body.
func ValidateID(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, MaxIDLength)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", fieldName)
	}
	return nil
}

// ValidateCourseName validates course name
func ValidateCourseName(name string) error {
	if err := ValidateNonEmptyString(name, "course name"); err != nil {
		return err
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("course name contains invalid characters")
	}
	return ValidateStringLength(strings.TrimSpace(name), 1, MaxCourseNameLength, "course name")
}

// ValidateDescription accepts an empty description.
func ValidateDescription(description string) error {
	if !utf8.ValidString(description) {
		return fmt.Errorf("description contains invalid characters")
	}
	return ValidateStringLength(description, 0, MaxDescriptionLength, "description")
}

// ValidateDisplayName validates the name carried in a token.
func ValidateDisplayName(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	return ValidateStringLength(name, 0, MaxDisplayNameLength, "display name")
}

// ParseLimit parses an optional page size. An empty value yields 0, which
// callers treat as "use the default".
func ParseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("limit must be an integer")
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be at least 1")
	}
	return limit, nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
