package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so business context (session_id,
// lesson_version, persona, etc.) shows up on every log line without each call
// site repeating it.
type LogFields struct {
	SessionID     *string // Pipeline session identifier
	LessonVersion *int    // Lesson design version under evaluation/revision
	Persona       *string // Persona ID for evaluator-scoped work
	EntryID       *string // Revision plan entry ID for gate/apply work
	TaskID        *string // Queue task/message ID
	Component     string  // Component name (e.g., "studio.evaluator")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.SessionID != nil {
		result.SessionID = next.SessionID
	}
	if next.LessonVersion != nil {
		result.LessonVersion = next.LessonVersion
	}
	if next.Persona != nil {
		result.Persona = next.Persona
	}
	if next.EntryID != nil {
		result.EntryID = next.EntryID
	}
	if next.TaskID != nil {
		result.TaskID = next.TaskID
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{SessionID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like LLM output or rationales.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
