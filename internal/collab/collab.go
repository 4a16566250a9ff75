// Package collab is the boundary to the language-model collaborator. The
// collaborator is a non-deterministic black box; everything it returns is
// validated here before any other component sees it.
package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lessonlab.app/studio/common/llm"
	"lessonlab.app/studio/common/logger"
	"lessonlab.app/studio/internal/model"
)

// ErrCollaboratorTimeout is returned when a collaborator call exceeds its
// configured deadline. No partial artifact is ever written on timeout.
var ErrCollaboratorTimeout = errors.New("collaborator call timed out")

// SchemaValidationError is returned when collaborator output cannot be parsed
// or validated into the expected schema. Malformed output is never coerced.
type SchemaValidationError struct {
	Artifact string
	Err      error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("collaborator returned invalid %s: %v", e.Artifact, e.Err)
}

func (e *SchemaValidationError) Unwrap() error {
	return e.Err
}

// Collaborator is the narrow contract the pipeline consumes. The evaluator
// uses GenerateAssessment for feedback narrative; lesson bootstrap uses
// GenerateLesson.
type Collaborator interface {
	GenerateAssessment(ctx context.Context, req AssessmentRequest) (model.OverallAssessment, error)
	GenerateLesson(ctx context.Context, spec LessonSpec) (*model.LessonDesign, error)
}

// AssessmentRequest summarizes an evaluation for narrative generation.
type AssessmentRequest struct {
	Lesson       *model.LessonDesign
	Persona      model.Persona
	ConcernCount int
	HighCount    int
	Diagnostics  []string
}

// LessonSpec is the teacher-supplied input for lesson content generation.
type LessonSpec struct {
	SessionID       string `json:"session_id"`
	Competency      string `json:"competency"`
	GradeLevel      string `json:"grade_level"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Config bounds collaborator calls.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	MaxTokens  int
}

type collaborator struct {
	feedbackLLM llm.Client
	lessonLLM   llm.Client
	cfg         Config
}

// New creates a Collaborator over the two LLM roles. Either client may be nil;
// the corresponding operation then fails fast, and callers with a fallback
// (the evaluator) degrade gracefully.
func New(feedbackLLM, lessonLLM llm.Client, cfg Config) Collaborator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &collaborator{feedbackLLM: feedbackLLM, lessonLLM: lessonLLM, cfg: cfg}
}

type assessmentResult struct {
	Summary string `json:"summary" jsonschema:"required,description=Two to four sentences in the persona's voice summarizing how this lesson lands for them"`
	Rating  int    `json:"rating" jsonschema:"required,description=Readiness rating from 1 (unworkable) to 5 (ready as-is)"`
}

func (c *collaborator) GenerateAssessment(ctx context.Context, req AssessmentRequest) (model.OverallAssessment, error) {
	if c.feedbackLLM == nil {
		return model.OverallAssessment{}, fmt.Errorf("feedback collaborator not configured")
	}
	if req.Lesson == nil {
		return model.OverallAssessment{}, &model.ValidationError{Artifact: "assessment_request", Field: "lesson", Reason: "required"}
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "studio.collab",
		Persona:   logger.Ptr(req.Persona.ID),
	})

	var result assessmentResult
	err := c.call(ctx, c.feedbackLLM, llm.Request{
		SystemPrompt: assessmentSystemPrompt,
		UserPrompt:   buildAssessmentPrompt(req),
		SchemaName:   "overall_assessment",
		Schema:       llm.GenerateSchema[assessmentResult](),
		MaxTokens:    c.cfg.MaxTokens,
		Temperature:  llm.Temp(0.3),
	}, &result)
	if err != nil {
		return model.OverallAssessment{}, err
	}

	if result.Rating < 1 || result.Rating > 5 {
		return model.OverallAssessment{}, &SchemaValidationError{
			Artifact: "assessment",
			Err:      fmt.Errorf("rating %d out of range", result.Rating),
		}
	}
	if result.Summary == "" {
		return model.OverallAssessment{}, &SchemaValidationError{
			Artifact: "assessment",
			Err:      fmt.Errorf("empty summary"),
		}
	}

	return model.OverallAssessment{Summary: result.Summary, Rating: result.Rating}, nil
}

func (c *collaborator) GenerateLesson(ctx context.Context, spec LessonSpec) (*model.LessonDesign, error) {
	if c.lessonLLM == nil {
		return nil, fmt.Errorf("lesson collaborator not configured")
	}
	if spec.Competency == "" {
		return nil, &model.ValidationError{Artifact: "lesson_spec", Field: "competency", Reason: "required"}
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "studio.collab",
		SessionID: logger.Ptr(spec.SessionID),
	})

	var lesson model.LessonDesign
	err := c.call(ctx, c.lessonLLM, llm.Request{
		SystemPrompt: lessonSystemPrompt,
		UserPrompt:   buildLessonPrompt(spec),
		SchemaName:   "lesson_design",
		Schema:       llm.GenerateSchemaFrom(lessonPayload{}),
		MaxTokens:    c.cfg.MaxTokens,
	}, &lesson)
	if err != nil {
		return nil, err
	}

	lesson.SessionID = spec.SessionID
	lesson.Version = 1
	if err := lesson.Validate(); err != nil {
		return nil, &SchemaValidationError{Artifact: "lesson", Err: err}
	}

	return &lesson, nil
}

// lessonPayload shapes the structured-output schema for lesson generation.
// Session and version are assigned by the pipeline, not the model.
type lessonPayload struct {
	Title      string           `json:"title" jsonschema:"required"`
	Objective  string           `json:"objective" jsonschema:"required"`
	Activities []model.Activity `json:"activities" jsonschema:"required"`
}

// call runs one structured completion with a per-attempt deadline and bounded
// retries on retryable failures.
func (c *collaborator) call(ctx context.Context, client llm.Client, req llm.Request, result any) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.InfoContext(ctx, "retrying collaborator call",
				"attempt", attempt+1,
				"max_attempts", c.cfg.MaxRetries+1)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		_, err := client.Chat(callCtx, req, result)
		cancel()

		if err == nil {
			return nil
		}

		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			lastErr = fmt.Errorf("%w: %s after %s", ErrCollaboratorTimeout, req.SchemaName, c.cfg.Timeout)
			// Timeouts are worth one more try within the retry budget.
			continue
		}
		if !llm.IsRetryable(ctx, err) {
			return fmt.Errorf("collaborator call %s: %w", req.SchemaName, err)
		}
		lastErr = err
	}

	return fmt.Errorf("collaborator call %s failed after %d attempts: %w",
		req.SchemaName, c.cfg.MaxRetries+1, lastErr)
}
