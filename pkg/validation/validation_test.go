package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"generated id", "crs_0b6b6c1e-8f0e-4a43-9a55-1c1f3f0c2b11", false},
		{"email-like user id", "ada@example.com", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxIDLength+1), true},
		{"slash", "a/b", true},
		{"space", "a b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id, "course id")
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
		})
	}
}

func TestValidateCourseName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "Algorithms", false},
		{"unicode", "Математика", false},
		{"blank", "   ", true},
		{"empty", "", true},
		{"max length", strings.Repeat("x", MaxCourseNameLength), false},
		{"too long", strings.Repeat("x", MaxCourseNameLength+1), true},
		{"invalid utf8", "bad\xff", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCourseName(tt.input)
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
		})
	}
}

func TestValidateDescription(t *testing.T) {
	assert.NoError(t, ValidateDescription(""))
	assert.NoError(t, ValidateDescription("Week 1: graphs"))
	assert.Error(t, ValidateDescription(strings.Repeat("d", MaxDescriptionLength+1)))
}

func TestValidateDisplayName(t *testing.T) {
	assert.NoError(t, ValidateDisplayName(""))
	assert.NoError(t, ValidateDisplayName("Ada Lovelace"))
	assert.Error(t, ValidateDisplayName(strings.Repeat("n", MaxDisplayNameLength+1)))
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"10", 10, false},
		{"1", 1, false},
		{"100000", 100000, false},
		{"0", 0, true},
		{"-5", 0, true},
		{"ten", 0, true},
		{"10abc", 0, true},
	}

	for _, tt := range tests {
		t.Run("limit="+tt.raw, func(t *testing.T) {
			got, err := ParseLimit(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
