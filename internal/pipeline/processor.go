package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"lessonlab.app/studio/common/logger"
	"lessonlab.app/studio/internal/applier"
	"lessonlab.app/studio/internal/collab"
	"lessonlab.app/studio/internal/model"
	"lessonlab.app/studio/internal/queue"
	"lessonlab.app/studio/internal/store"
)

// Processor maps queue tasks onto pipeline stages for the worker. Every error
// crossing this boundary is classified: malformed or permanently unsatisfiable
// work is fatal, everything transient is retryable.
type Processor struct {
	runner *Runner
}

func NewProcessor(runner *Runner) *Processor {
	return &Processor{runner: runner}
}

func (p *Processor) Process(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:     "studio.pipeline.processor",
		SessionID:     logger.Ptr(msg.SessionID),
		LessonVersion: logger.Ptr(msg.LessonVersion),
	})
	slog.InfoContext(ctx, "processing pipeline task",
		"task_type", msg.TaskType,
		"message_id", msg.ID,
		"attempt", msg.Attempt)

	var err error
	switch msg.TaskType {
	case queue.TaskTypeEvaluateLesson:
		if msg.Persona != "" {
			_, err = p.runner.EvaluateOne(ctx, msg.SessionID, msg.LessonVersion, msg.Persona)
		} else {
			_, _, err = p.runner.Evaluate(ctx, msg.SessionID, msg.LessonVersion)
		}
	case queue.TaskTypeSynthesizePlan:
		_, err = p.runner.Synthesize(ctx, msg.SessionID, msg.LessonVersion)
	case queue.TaskTypeApplyPlan:
		_, _, err = p.runner.Apply(ctx, msg.SessionID, msg.LessonVersion, msg.Actor)
	default:
		return NewFatalError(fmt.Errorf("unknown task type %q", msg.TaskType))
	}

	if err != nil {
		return classify(err)
	}
	return nil
}

// classify wraps stage errors for the worker's retry decision.
func classify(err error) error {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return err
	}

	var (
		validationErr *model.ValidationError
		notReadyErr   *applier.PlanNotReadyError
		conflictErr   *applier.ConflictUnresolvedError
		schemaErr     *collab.SchemaValidationError
	)
	switch {
	case errors.As(err, &validationErr),
		errors.As(err, &notReadyErr),
		errors.As(err, &conflictErr),
		errors.As(err, &schemaErr):
		// Redelivery cannot fix the artifact; a human has to.
		return NewFatalError(err)
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrInvalidSession),
		errors.Is(err, store.ErrVersionExists),
		errors.Is(err, ErrSessionEscalated):
		return NewFatalError(err)
	case errors.Is(err, collab.ErrCollaboratorTimeout):
		return NewRetryableError(err)
	default:
		// Partial panels, redis/io hiccups: worth another attempt.
		return NewRetryableError(err)
	}
}
