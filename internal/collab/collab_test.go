package collab_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lessonlab.app/studio/common/llm"
	"lessonlab.app/studio/internal/collab"
	"lessonlab.app/studio/internal/model"
)

type mockLLMClient struct {
	chatFn    func(ctx context.Context, req llm.Request, result any) (*llm.Response, error)
	callCount int
	lastReq   llm.Request
}

func (m *mockLLMClient) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	m.callCount++
	m.lastReq = req
	if m.chatFn != nil {
		return m.chatFn(ctx, req, result)
	}
	return &llm.Response{}, nil
}

func (m *mockLLMClient) Model() string { return "mock-model" }

func respond(payload map[string]any) func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	return func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
		data, _ := json.Marshal(payload)
		_ = json.Unmarshal(data, result)
		return &llm.Response{PromptTokens: 200, CompletionTokens: 50}, nil
	}
}

var _ = Describe("Collaborator", func() {
	var (
		ctx  context.Context
		mock *mockLLMClient
	)

	BeforeEach(func() {
		ctx = context.Background()
		mock = &mockLLMClient{}
	})

	lesson := &model.LessonDesign{
		SessionID: "sess-1",
		Version:   1,
		Title:     "Primary Sources",
		Objective: "Evaluate primary sources for bias",
		Activities: []model.Activity{
			{
				ID: "act-1", Name: "Warm Up", DurationMinutes: 10,
				CognitiveLevel: model.CognitiveRetrieval, Instructions: "List what you know.",
			},
		},
	}

	Describe("GenerateAssessment", func() {
		req := collab.AssessmentRequest{
			Lesson:       lesson,
			Persona:      model.Persona{ID: "ell-intermediate", Name: "English Language Learner"},
			ConcernCount: 3,
			HighCount:    1,
		}

		It("returns the model's summary and rating", func() {
			mock.chatFn = respond(map[string]any{
				"summary": "Several activities assume vocabulary I do not have yet.",
				"rating":  2,
			})

			c := collab.New(mock, nil, collab.Config{})
			assessment, err := c.GenerateAssessment(ctx, req)

			Expect(err).NotTo(HaveOccurred())
			Expect(assessment.Rating).To(Equal(2))
			Expect(assessment.Summary).To(ContainSubstring("vocabulary"))
			Expect(mock.lastReq.SchemaName).To(Equal("overall_assessment"))
		})

		It("rejects out-of-range ratings without coercing them", func() {
			mock.chatFn = respond(map[string]any{"summary": "fine", "rating": 9})

			c := collab.New(mock, nil, collab.Config{})
			_, err := c.GenerateAssessment(ctx, req)

			var schemaErr *collab.SchemaValidationError
			Expect(err).To(BeAssignableToTypeOf(schemaErr))
			Expect(err.Error()).To(ContainSubstring("rating 9"))
		})

		It("rejects an empty summary", func() {
			mock.chatFn = respond(map[string]any{"summary": "", "rating": 3})

			c := collab.New(mock, nil, collab.Config{})
			_, err := c.GenerateAssessment(ctx, req)

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("empty summary"))
		})

		It("fails fast when no feedback client is configured", func() {
			c := collab.New(nil, nil, collab.Config{})
			_, err := c.GenerateAssessment(ctx, req)

			Expect(err).To(HaveOccurred())
			Expect(mock.callCount).To(Equal(0))
		})

		It("rejects a request without a lesson before calling the model", func() {
			c := collab.New(mock, nil, collab.Config{})
			_, err := c.GenerateAssessment(ctx, collab.AssessmentRequest{
				Persona: model.Persona{ID: "ell-intermediate"},
			})

			var validationErr *model.ValidationError
			Expect(errors.As(err, &validationErr)).To(BeTrue())
			Expect(validationErr.Field).To(Equal("lesson"))
			Expect(mock.callCount).To(Equal(0))
		})
	})

	Describe("GenerateLesson", func() {
		spec := collab.LessonSpec{
			SessionID:       "sess-1",
			Competency:      "Evaluate primary sources for bias",
			GradeLevel:      "8",
			DurationMinutes: 50,
		}

		lessonJSON := map[string]any{
			"title":     "Primary Sources",
			"objective": "Evaluate primary sources for bias",
			"activities": []map[string]any{
				{
					"id": "act-1", "name": "Warm Up", "duration_minutes": 10,
					"cognitive_level": "retrieval", "instructions": "List what you know.",
				},
			},
		}

		It("stamps session and version onto the generated lesson", func() {
			mock.chatFn = respond(lessonJSON)

			c := collab.New(nil, mock, collab.Config{})
			lesson, err := c.GenerateLesson(ctx, spec)

			Expect(err).NotTo(HaveOccurred())
			Expect(lesson.SessionID).To(Equal("sess-1"))
			Expect(lesson.Version).To(Equal(1))
			Expect(lesson.Activities).To(HaveLen(1))
		})

		It("rejects generated lessons that fail schema validation", func() {
			bad := map[string]any{"title": "No Activities", "objective": "x", "activities": []map[string]any{}}
			mock.chatFn = respond(bad)

			c := collab.New(nil, mock, collab.Config{})
			_, err := c.GenerateLesson(ctx, spec)

			var schemaErr *collab.SchemaValidationError
			Expect(err).To(BeAssignableToTypeOf(schemaErr))
		})

		It("requires a competency", func() {
			c := collab.New(nil, mock, collab.Config{})
			_, err := c.GenerateLesson(ctx, collab.LessonSpec{SessionID: "sess-1"})

			Expect(err).To(HaveOccurred())
			Expect(mock.callCount).To(Equal(0))
		})
	})

	Describe("retry behavior", func() {
		It("retries timeouts up to the budget and surfaces ErrCollaboratorTimeout", func() {
			mock.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}

			c := collab.New(mock, nil, collab.Config{Timeout: 5 * time.Millisecond, MaxRetries: 2})
			_, err := c.GenerateAssessment(ctx, collab.AssessmentRequest{
				Lesson:  lesson,
				Persona: model.Persona{ID: "p"},
			})

			Expect(err).To(MatchError(collab.ErrCollaboratorTimeout))
			Expect(mock.callCount).To(Equal(3))
		})
	})
})
