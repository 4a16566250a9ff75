package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"lessonlab.app/studio/internal/applier"
	"lessonlab.app/studio/internal/collab"
	"lessonlab.app/studio/internal/model"
	"lessonlab.app/studio/internal/store"
)

func TestStageError_Wrapping(t *testing.T) {
	cause := errors.New("redis timed out")
	err := NewRetryableError(cause)

	if !errors.Is(err, cause) {
		t.Error("StageError does not unwrap to its cause")
	}
	if !IsRetryable(err) {
		t.Error("retryable error reported as fatal")
	}
	if IsRetryable(NewFatalError(cause)) {
		t.Error("fatal error reported as retryable")
	}
}

func TestIsRetryable_UnclassifiedDefaultsToRetry(t *testing.T) {
	if !IsRetryable(errors.New("something transient")) {
		t.Error("unclassified errors should be retried, not dead-lettered")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"artifact validation", &model.ValidationError{Artifact: "lesson", Field: "title", Reason: "required"}, false},
		{"plan not ready", &applier.PlanNotReadyError{PendingIDs: []string{"entry-001"}}, false},
		{"conflict unresolved", &applier.ConflictUnresolvedError{TargetRef: "act-2"}, false},
		{"collaborator schema violation", &collab.SchemaValidationError{Artifact: "assessment", Err: errors.New("rating 9")}, false},
		{"artifact missing", fmt.Errorf("loading lesson: %w", store.ErrNotFound), false},
		{"bad session id", fmt.Errorf("loading lesson: %w", store.ErrInvalidSession), false},
		{"version already written", fmt.Errorf("persisting: %w", store.ErrVersionExists), false},
		{"session escalated", fmt.Errorf("stage refused: %w", ErrSessionEscalated), false},
		{"collaborator timeout", fmt.Errorf("assessment: %w", collab.ErrCollaboratorTimeout), true},
		{"unknown transient", errors.New("connection reset"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			classified := classify(tc.err)
			if IsRetryable(classified) != tc.retryable {
				t.Errorf("classify(%v) retryable = %v, want %v", tc.err, !tc.retryable, tc.retryable)
			}
			if !errors.Is(classified, tc.err) {
				t.Errorf("classified error lost its cause: %v", classified)
			}
		})
	}
}

func TestClassify_PassesThroughExistingStageErrors(t *testing.T) {
	orig := NewFatalError(errors.New("already classified"))
	if classified := classify(orig); classified != orig {
		t.Error("pre-classified errors should pass through unchanged")
	}
}
