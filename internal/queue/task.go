package queue

type TaskType string

const (
	TaskTypeEvaluateLesson TaskType = "evaluate_lesson"
	TaskTypeSynthesizePlan TaskType = "synthesize_plan"
	TaskTypeApplyPlan      TaskType = "apply_plan"
)

// Task is one unit of pipeline work. Persona narrows evaluate_lesson to a
// single persona; empty means the full panel. Actor is carried for apply_plan
// so the audit record names who approved the batch.
type Task struct {
	TaskType      TaskType
	SessionID     string
	LessonVersion int
	Persona       string
	Actor         string
	TraceID       *string
	Attempt       int
}
