package model

import "fmt"

// ValidationError reports an artifact that fails schema checks. It is fatal to
// the invocation that produced it and never corrupts stored artifacts.
type ValidationError struct {
	Artifact string // e.g. "lesson", "persona", "implementation"
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s invalid: %s", e.Artifact, e.Reason)
	}
	return fmt.Sprintf("%s invalid: %s: %s", e.Artifact, e.Field, e.Reason)
}

func invalid(artifact, field, reason string) *ValidationError {
	return &ValidationError{Artifact: artifact, Field: field, Reason: reason}
}
