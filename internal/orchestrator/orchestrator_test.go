package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lessonlab.app/studio/internal/model"
	"lessonlab.app/studio/internal/orchestrator"
)

type stubEvaluator struct {
	mu       sync.Mutex
	fn       func(persona model.Persona) (*model.FeedbackDocument, error)
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *stubEvaluator) Evaluate(ctx context.Context, sessionID string, version int, persona model.Persona) (*model.FeedbackDocument, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if cur <= peak || s.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		return fn(persona)
	}
	return &model.FeedbackDocument{
		Persona:           persona.ID,
		LessonVersion:     version,
		OverallAssessment: model.OverallAssessment{Summary: "ok", Rating: 4},
	}, nil
}

func personas(ids ...string) []model.Persona {
	out := make([]model.Persona, len(ids))
	for i, id := range ids {
		out[i] = model.Persona{ID: id, Name: id}
	}
	return out
}

func scaffoldConcern(id, frame string) model.Concern {
	return model.Concern{
		ID:          id,
		Severity:    model.SeverityHigh,
		ActivityRef: "Document Analysis",
		Issue:       "no language support",
		Recommendation: model.Recommendation{
			Rationale: "frames needed",
			Implementation: model.Implementation{
				ElementType: model.ElementScaffolding,
				Scaffolding: &model.ScaffoldingChange{
					ActivityRef:    "Document Analysis",
					SentenceFrames: []string{frame},
				},
			},
		},
	}
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx  context.Context
		stub *stubEvaluator
	)

	BeforeEach(func() {
		ctx = context.Background()
		stub = &stubEvaluator{}
	})

	Describe("RunAll", func() {
		It("returns documents sorted by persona id regardless of completion order", func() {
			docs, conflicts, err := orchestrator.New(stub, 4).RunAll(ctx, "sess-1", 1, personas("zeta", "alpha", "mid"))

			Expect(err).NotTo(HaveOccurred())
			Expect(conflicts).To(BeEmpty())
			Expect(docs).To(HaveLen(3))
			Expect(docs[0].Persona).To(Equal("alpha"))
			Expect(docs[1].Persona).To(Equal("mid"))
			Expect(docs[2].Persona).To(Equal("zeta"))
		})

		It("never runs more evaluations than the concurrency limit", func() {
			release := make(chan struct{})
			stub.fn = func(persona model.Persona) (*model.FeedbackDocument, error) {
				<-release
				return &model.FeedbackDocument{
					Persona: persona.ID, LessonVersion: 1,
					OverallAssessment: model.OverallAssessment{Summary: "ok", Rating: 4},
				}, nil
			}

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)
				_, _, err := orchestrator.New(stub, 2).RunAll(ctx, "sess-1", 1, personas("a", "b", "c", "d", "e"))
				Expect(err).NotTo(HaveOccurred())
			}()

			Eventually(func() int32 { return stub.inFlight.Load() }).Should(Equal(int32(2)))
			Consistently(func() int32 { return stub.inFlight.Load() }).Should(BeNumerically("<=", 2))
			close(release)
			Eventually(done).Should(BeClosed())

			Expect(stub.peak.Load()).To(BeNumerically("<=", 2))
		})

		It("reports failed personas while keeping the successful documents", func() {
			stub.fn = func(persona model.Persona) (*model.FeedbackDocument, error) {
				if persona.ID == "flaky" {
					return nil, errors.New("provider exploded")
				}
				return &model.FeedbackDocument{
					Persona: persona.ID, LessonVersion: 1,
					OverallAssessment: model.OverallAssessment{Summary: "ok", Rating: 4},
				}, nil
			}

			docs, _, err := orchestrator.New(stub, 4).RunAll(ctx, "sess-1", 1, personas("steady", "flaky"))

			var incomplete *orchestrator.IncompleteEvaluationError
			Expect(errors.As(err, &incomplete)).To(BeTrue())
			Expect(incomplete.Failed).To(HaveKey("flaky"))
			Expect(err.Error()).To(ContainSubstring("flaky"))
			Expect(docs).To(HaveLen(1))
			Expect(docs[0].Persona).To(Equal("steady"))
		})
	})

	Describe("DetectConflicts", func() {
		doc := func(persona string, concerns ...model.Concern) model.FeedbackDocument {
			return model.FeedbackDocument{
				Persona: persona, LessonVersion: 1,
				OverallAssessment: model.OverallAssessment{Summary: "ok", Rating: 3},
				Concerns:          concerns,
			}
		}

		It("flags differing proposals on a shared target", func() {
			conflicts := orchestrator.DetectConflicts([]model.FeedbackDocument{
				doc("a", scaffoldConcern("a.frames", "I notice ___.")),
				doc("b", scaffoldConcern("b.frames", "The evidence is ___.")),
			})

			Expect(conflicts).To(HaveLen(1))
			Expect(conflicts[0].ElementType).To(Equal(model.ElementScaffolding))
			Expect(conflicts[0].TargetRef).To(Equal("Document Analysis"))
			Expect(conflicts[0].EntryIDs).To(Equal([]string{"a.frames", "b.frames"}))
		})

		It("treats structurally equal proposals as merge candidates, not conflicts", func() {
			conflicts := orchestrator.DetectConflicts([]model.FeedbackDocument{
				doc("a", scaffoldConcern("a.frames", "I notice ___.")),
				doc("b", scaffoldConcern("b.frames", "I notice ___.")),
			})

			Expect(conflicts).To(BeEmpty())
		})

		It("keeps distinct targets apart", func() {
			other := scaffoldConcern("b.frames", "I notice ___.")
			other.Recommendation.Implementation.Scaffolding.ActivityRef = "Warm Up"

			conflicts := orchestrator.DetectConflicts([]model.FeedbackDocument{
				doc("a", scaffoldConcern("a.frames", "The evidence is ___.")),
				doc("b", other),
			})

			Expect(conflicts).To(BeEmpty())
		})
	})
})
