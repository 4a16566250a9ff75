package synthesizer_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lessonlab.app/studio/internal/model"
	"lessonlab.app/studio/internal/store"
	"lessonlab.app/studio/internal/synthesizer"
)

func concern(id string, sev model.Severity, impl model.Implementation) model.Concern {
	return model.Concern{
		ID:          id,
		Severity:    sev,
		ActivityRef: impl.ActivityRef(),
		Issue:       "issue behind " + id,
		Recommendation: model.Recommendation{
			Rationale:      "rationale behind " + id,
			Implementation: impl,
		},
	}
}

func scaffolding(frame string) model.Implementation {
	return model.Implementation{
		ElementType: model.ElementScaffolding,
		Scaffolding: &model.ScaffoldingChange{
			ActivityRef:    "Document Analysis",
			SentenceFrames: []string{frame},
		},
	}
}

func pacing(ref string, delta int) model.Implementation {
	return model.Implementation{
		ElementType: model.ElementPacing,
		Pacing:      &model.PacingChange{ActivityRef: ref, DeltaMinutes: delta},
	}
}

func feedback(persona string, concerns ...model.Concern) model.FeedbackDocument {
	return model.FeedbackDocument{
		Persona:           persona,
		LessonVersion:     1,
		OverallAssessment: model.OverallAssessment{Summary: "panel run", Rating: 3},
		Concerns:          concerns,
	}
}

var _ = Describe("Build", func() {
	It("merges structurally identical proposals into one multi-persona entry", func() {
		docs := []model.FeedbackDocument{
			feedback("ell-intermediate", concern("ell.frames", model.SeverityHigh, scaffolding("I notice ___."))),
			feedback("struggling-focus", concern("sf.frames", model.SeverityMedium, scaffolding("I notice ___."))),
		}

		plan := synthesizer.Build("sess-1", 1, docs)

		Expect(plan.Entries).To(HaveLen(1))
		entry := plan.Entries[0]
		Expect(entry.PersonaSource).To(Equal([]string{"ell-intermediate", "struggling-focus"}))
		Expect(entry.Priority).To(Equal(model.PriorityCritical), "two personas corroborate")
		Expect(entry.Rationales).To(HaveLen(2))
		Expect(entry.Conflicted).To(BeFalse())
		Expect(plan.Conflicts).To(BeEmpty())
	})

	It("keeps differing proposals on one target as separate conflicted entries", func() {
		docs := []model.FeedbackDocument{
			feedback("a", concern("a.frames", model.SeverityMedium, scaffolding("I notice ___."))),
			feedback("b", concern("b.frames", model.SeverityMedium, scaffolding("The evidence is ___."))),
		}

		plan := synthesizer.Build("sess-1", 1, docs)

		Expect(plan.Entries).To(HaveLen(2))
		for _, e := range plan.Entries {
			Expect(e.Conflicted).To(BeTrue())
			Expect(e.PersonaSource).To(HaveLen(1))
		}
		Expect(plan.Conflicts).To(HaveLen(1))
		Expect(plan.Conflicts[0].EntryIDs).To(ConsistOf(plan.Entries[0].ID, plan.Entries[1].ID))
		Expect(plan.Conflicts[0].TargetRef).To(Equal("Document Analysis"))
	})

	It("ranks critical before optional and stronger corroboration first", func() {
		shared := scaffolding("I notice ___.")
		docs := []model.FeedbackDocument{
			feedback("a",
				concern("a.pace", model.SeverityLow, pacing("Warm Up", -5)),
				concern("a.frames", model.SeverityMedium, shared),
				concern("a.check", model.SeverityHigh, model.Implementation{
					ElementType: model.ElementAssessment,
					Assessment:  &model.AssessmentChange{ActivityRef: "Closing", Format: "exit_ticket"},
				}),
			),
			feedback("b", concern("b.frames", model.SeverityMedium, shared)),
		}

		plan := synthesizer.Build("sess-1", 1, docs)

		Expect(plan.Entries).To(HaveLen(3))
		// Two-persona scaffolding entry outranks the single-persona high one.
		Expect(plan.Entries[0].Implementation.ElementType).To(Equal(model.ElementScaffolding))
		Expect(plan.Entries[0].Priority).To(Equal(model.PriorityCritical))
		Expect(plan.Entries[1].Implementation.ElementType).To(Equal(model.ElementAssessment))
		Expect(plan.Entries[1].Priority).To(Equal(model.PriorityCritical))
		Expect(plan.Entries[2].Implementation.ElementType).To(Equal(model.ElementPacing))
		Expect(plan.Entries[2].Priority).To(Equal(model.PriorityOptional))

		Expect(plan.Entries[0].ID).To(Equal("entry-001"))
		Expect(plan.Entries[1].ID).To(Equal("entry-002"))
		Expect(plan.Entries[2].ID).To(Equal("entry-003"))
	})

	It("is byte-for-byte deterministic under input permutation", func() {
		a := feedback("a",
			concern("a.frames", model.SeverityMedium, scaffolding("I notice ___.")),
			concern("a.pace", model.SeverityLow, pacing("Warm Up", -5)),
		)
		b := feedback("b", concern("b.frames", model.SeverityMedium, scaffolding("The evidence is ___.")))
		c := feedback("c", concern("c.pace", model.SeverityLow, pacing("Warm Up", -5)))

		first := synthesizer.Build("sess-1", 1, []model.FeedbackDocument{a, b, c})
		second := synthesizer.Build("sess-1", 1, []model.FeedbackDocument{c, b, a})

		fj, err := json.Marshal(first)
		Expect(err).NotTo(HaveOccurred())
		sj, err := json.Marshal(second)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(sj)).To(Equal(string(fj)))
	})

	It("starts every entry pending", func() {
		plan := synthesizer.Build("sess-1", 1, []model.FeedbackDocument{
			feedback("a", concern("a.pace", model.SeverityLow, pacing("Warm Up", -5))),
		})

		Expect(plan.Revision).To(Equal(0))
		Expect(plan.Entries[0].Status).To(Equal(model.StatusPending))
		Expect(plan.ApplyReady()).To(BeFalse())
	})
})

var _ = Describe("Synthesize", func() {
	var (
		ctx context.Context
		st  *store.MemoryStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = store.NewMemoryStore()
	})

	It("persists the built plan as revision 0", func() {
		doc := feedback("a", concern("a.pace", model.SeverityLow, pacing("Warm Up", -5)))
		Expect(st.PutFeedback(ctx, "sess-1", &doc)).To(Succeed())

		plan, err := synthesizer.New(st).Synthesize(ctx, "sess-1", 1)
		Expect(err).NotTo(HaveOccurred())

		stored, err := st.GetPlan(ctx, "sess-1", 1, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Entries).To(HaveLen(len(plan.Entries)))
	})

	It("refuses to synthesize when no feedback exists", func() {
		_, err := synthesizer.New(st).Synthesize(ctx, "sess-1", 1)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("no feedback documents"))
	})

	It("refuses to overwrite an existing plan", func() {
		doc := feedback("a", concern("a.pace", model.SeverityLow, pacing("Warm Up", -5)))
		Expect(st.PutFeedback(ctx, "sess-1", &doc)).To(Succeed())

		_, err := synthesizer.New(st).Synthesize(ctx, "sess-1", 1)
		Expect(err).NotTo(HaveOccurred())

		_, err = synthesizer.New(st).Synthesize(ctx, "sess-1", 1)
		Expect(err).To(MatchError(store.ErrVersionExists))
	})
})
