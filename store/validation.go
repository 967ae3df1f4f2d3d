package store

import (
	"strings"
)

// ValidationError is returned when a create payload is missing required fields. Nothing has been written.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "Missing required fields: " + strings.Join(e.Missing, ", ")
}

// Validate checks presence only: absent, null and empty values are missing. Formats are not checked.
func (in NewLead) Validate() error {
	missing := []string{}
	for _, f := range []struct {
		name  string
		value *string
	}{
		{"name", in.Name},
		{"email", in.Email},
		{"phone", in.Phone},
	} {
		if f.value == nil || *f.value == "" {
			missing = append(missing, f.name)
		}
	}

	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}
