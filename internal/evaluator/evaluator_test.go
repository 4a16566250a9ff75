package evaluator_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lessonlab.app/studio/internal/collab"
	"lessonlab.app/studio/internal/evaluator"
	"lessonlab.app/studio/internal/model"
	"lessonlab.app/studio/internal/store"
)

func sampleLesson() *model.LessonDesign {
	return &model.LessonDesign{
		SessionID: "sess-1",
		Version:   1,
		Title:     "Primary Sources",
		Objective: "Evaluate primary sources for bias",
		Activities: []model.Activity{
			{
				ID:              "act-1",
				Name:            "Warm Up",
				DurationMinutes: 10,
				CognitiveLevel:  model.CognitiveRetrieval,
				Instructions:    "List what you already know about primary sources.",
				Vocabulary: []model.VocabularyEntry{
					{Term: "bias", Definition: "a slanted view of events"},
					{Term: "source", Definition: "where information comes from", Example: "A diary is a source.", VisualRef: "visuals/source.png"},
				},
			},
			{
				ID:              "act-2",
				Name:            "Document Analysis",
				DurationMinutes: 35,
				CognitiveLevel:  model.CognitiveAnalysis,
				Instructions:    "Compare the two documents and identify bias in each.",
			},
		},
	}
}

var _ = Describe("Evaluator", func() {
	var (
		ctx     context.Context
		st      *store.MemoryStore
		persona model.Persona
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = store.NewMemoryStore()
		Expect(st.PutLesson(ctx, sampleLesson())).To(Succeed())

		persona = model.Persona{
			ID:   "ell-intermediate",
			Name: "English Language Learner",
			Rules: []model.DecisionRule{
				{ID: "vocab-example", Kind: model.RuleVocabularyNoExample, Severity: model.SeverityHigh},
				{ID: "analysis-scaffolds", Kind: model.RuleMissingScaffolding, Severity: model.SeverityHigh},
			},
		}
	})

	Describe("Evaluate", func() {
		It("flags only the rule violations present in the lesson", func() {
			doc, err := evaluator.New(st, nil).Evaluate(ctx, "sess-1", 1, persona)

			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Concerns).To(HaveLen(2))

			// "bias" lacks an example; "source" has one and must not be flagged.
			vocab := doc.Concerns[0]
			Expect(vocab.Issue).To(ContainSubstring(`"bias"`))
			Expect(vocab.Severity).To(Equal(model.SeverityHigh))
			Expect(vocab.Recommendation.Implementation.Vocabulary.Example).NotTo(BeEmpty())

			scaffold := doc.Concerns[1]
			Expect(scaffold.ActivityRef).To(Equal("act-2"))
			Expect(scaffold.Recommendation.Implementation.Scaffolding.SentenceFrames).NotTo(BeEmpty())
		})

		It("persists the document so the panel can read it back", func() {
			_, err := evaluator.New(st, nil).Evaluate(ctx, "sess-1", 1, persona)
			Expect(err).NotTo(HaveOccurred())

			stored, err := st.GetFeedback(ctx, "sess-1", "ell-intermediate", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Concerns).To(HaveLen(2))
		})

		It("produces identical concern ids and order on re-evaluation", func() {
			ev := evaluator.New(st, nil)

			first, err := ev.Evaluate(ctx, "sess-1", 1, persona)
			Expect(err).NotTo(HaveOccurred())
			second, err := ev.Evaluate(ctx, "sess-1", 1, persona)
			Expect(err).NotTo(HaveOccurred())

			Expect(second.Concerns).To(HaveLen(len(first.Concerns)))
			for i := range first.Concerns {
				Expect(second.Concerns[i].ID).To(Equal(first.Concerns[i].ID))
			}
		})

		It("fails when the lesson version does not exist", func() {
			_, err := evaluator.New(st, nil).Evaluate(ctx, "sess-1", 9, persona)
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		Context("rule failure isolation", func() {
			It("records a diagnostic and keeps the other rules' concerns", func() {
				persona.Rules = append(persona.Rules, model.DecisionRule{
					ID: "broken", Kind: model.RuleKind("unregistered"), Severity: model.SeverityLow,
				})

				doc, err := evaluator.New(st, nil).Evaluate(ctx, "sess-1", 1, persona)

				Expect(err).NotTo(HaveOccurred())
				Expect(doc.Concerns).To(HaveLen(2))
				Expect(doc.Diagnostics).To(HaveLen(1))
				Expect(doc.Diagnostics[0]).To(ContainSubstring("broken"))
				Expect(doc.Diagnostics[0]).To(ContainSubstring("did not run"))
			})
		})

		Context("overall assessment", func() {
			It("uses the collaborator's narrative when available", func() {
				mock := &collab.Mock{
					AssessmentFn: func(ctx context.Context, req collab.AssessmentRequest) (model.OverallAssessment, error) {
						Expect(req.ConcernCount).To(Equal(2))
						Expect(req.HighCount).To(Equal(2))
						return model.OverallAssessment{Summary: "needs language support throughout", Rating: 2}, nil
					},
				}

				doc, err := evaluator.New(st, mock).Evaluate(ctx, "sess-1", 1, persona)

				Expect(err).NotTo(HaveOccurred())
				Expect(doc.OverallAssessment.Summary).To(Equal("needs language support throughout"))
				Expect(mock.AssessmentCalls).To(HaveLen(1))
			})

			It("degrades to the deterministic summary when the collaborator errors", func() {
				mock := &collab.Mock{
					AssessmentFn: func(ctx context.Context, req collab.AssessmentRequest) (model.OverallAssessment, error) {
						return model.OverallAssessment{}, errors.New("provider unavailable")
					},
				}

				doc, err := evaluator.New(st, mock).Evaluate(ctx, "sess-1", 1, persona)

				Expect(err).NotTo(HaveOccurred())
				Expect(doc.OverallAssessment.Rating).To(Equal(2), "high severity concerns present")
				Expect(doc.OverallAssessment.Summary).NotTo(BeEmpty())
			})

			It("rates a clean lesson 5 without a collaborator", func() {
				persona.Rules = []model.DecisionRule{
					{ID: "too-long", Kind: model.RulePacingOverBudget, Severity: model.SeverityMedium,
						Params: model.RuleParams{MaxActivityMinutes: 60}},
				}

				doc, err := evaluator.New(st, nil).Evaluate(ctx, "sess-1", 1, persona)

				Expect(err).NotTo(HaveOccurred())
				Expect(doc.Concerns).To(BeEmpty())
				Expect(doc.OverallAssessment.Rating).To(Equal(5))
			})
		})
	})

	Describe("decision rules", func() {
		evaluate := func(rules ...model.DecisionRule) *model.FeedbackDocument {
			p := model.Persona{ID: "panel", Name: "Panel", Rules: rules}
			doc, err := evaluator.New(st, nil).Evaluate(ctx, "sess-1", 1, p)
			Expect(err).NotTo(HaveOccurred())
			return doc
		}

		It("proposes a negative pacing delta for over-budget activities", func() {
			doc := evaluate(model.DecisionRule{
				ID: "too-long", Kind: model.RulePacingOverBudget, Severity: model.SeverityMedium,
				Params: model.RuleParams{MaxActivityMinutes: 25},
			})

			Expect(doc.Concerns).To(HaveLen(1))
			impl := doc.Concerns[0].Recommendation.Implementation
			Expect(impl.Pacing.ActivityRef).To(Equal("act-2"))
			Expect(impl.Pacing.DeltaMinutes).To(Equal(-10))
		})

		It("proposes a closing check on the last activity when nothing assesses", func() {
			doc := evaluate(model.DecisionRule{
				ID: "no-check", Kind: model.RuleMissingAssessment, Severity: model.SeverityHigh,
				Params: model.RuleParams{AssessmentFormat: "exit_ticket"},
			})

			Expect(doc.Concerns).To(HaveLen(1))
			impl := doc.Concerns[0].Recommendation.Implementation
			Expect(impl.Assessment.ActivityRef).To(Equal("act-2"))
			Expect(impl.Assessment.Format).To(Equal("exit_ticket"))
			Expect(impl.Assessment.Items).NotTo(BeEmpty())
		})

		It("flags cognitive jumps past the configured limit", func() {
			doc := evaluate(model.DecisionRule{
				ID: "level-jump", Kind: model.RuleCognitiveLevelJump, Severity: model.SeverityMedium,
				Params: model.RuleParams{MaxCognitiveJump: 1},
			})

			// retrieval -> analysis is a two-rank jump.
			Expect(doc.Concerns).To(HaveLen(1))
			Expect(doc.Concerns[0].Recommendation.Implementation.Other.Description).To(ContainSubstring("comprehension"))
		})

		It("rewrites dense instructions into numbered steps", func() {
			doc := evaluate(model.DecisionRule{
				ID: "dense", Kind: model.RuleInstructionTooDense, Severity: model.SeverityLow,
				Params: model.RuleParams{MaxInstructionWords: 5},
			})

			Expect(doc.Concerns).NotTo(BeEmpty())
			impl := doc.Concerns[0].Recommendation.Implementation
			Expect(impl.InstructionClarity.RevisedInstructions).To(HavePrefix("1. "))
		})
	})
})
