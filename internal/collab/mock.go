package collab

import (
	"context"

	"lessonlab.app/studio/internal/model"
)

// Mock is a test double for the collaborator boundary.
type Mock struct {
	AssessmentFn func(ctx context.Context, req AssessmentRequest) (model.OverallAssessment, error)
	LessonFn     func(ctx context.Context, spec LessonSpec) (*model.LessonDesign, error)

	AssessmentCalls []AssessmentRequest
	LessonCalls     []LessonSpec
}

func (m *Mock) GenerateAssessment(ctx context.Context, req AssessmentRequest) (model.OverallAssessment, error) {
	m.AssessmentCalls = append(m.AssessmentCalls, req)
	if m.AssessmentFn != nil {
		return m.AssessmentFn(ctx, req)
	}
	return model.OverallAssessment{Summary: "mock assessment", Rating: 3}, nil
}

func (m *Mock) GenerateLesson(ctx context.Context, spec LessonSpec) (*model.LessonDesign, error) {
	m.LessonCalls = append(m.LessonCalls, spec)
	if m.LessonFn != nil {
		return m.LessonFn(ctx, spec)
	}
	return &model.LessonDesign{
		SessionID: spec.SessionID,
		Version:   1,
		Title:     "Mock Lesson",
		Objective: spec.Competency,
		Activities: []model.Activity{
			{ID: "act-1", Name: "Warm Up", DurationMinutes: 10, CognitiveLevel: model.CognitiveRetrieval, Instructions: "Recall prior terms."},
		},
	}, nil
}
