package gate_test

import (
	"context"
	"errors"
	"testing"

	"lessonlab.app/studio/internal/gate"
	"lessonlab.app/studio/internal/model"
	"lessonlab.app/studio/internal/store"
)

func scaffolding(frame string) model.Implementation {
	return model.Implementation{
		ElementType: model.ElementScaffolding,
		Scaffolding: &model.ScaffoldingChange{
			ActivityRef:    "Document Analysis",
			SentenceFrames: []string{frame},
		},
	}
}

func pendingEntry(id string, impl model.Implementation) model.PlanEntry {
	return model.PlanEntry{
		ID:             id,
		Priority:       model.PriorityCritical,
		PersonaSource:  []string{"ell-intermediate"},
		Status:         model.StatusPending,
		Implementation: impl,
	}
}

func seedPlan(t *testing.T, st store.SessionStore, plan *model.RevisionPlan) {
	t.Helper()
	if err := st.PutPlan(context.Background(), plan); err != nil {
		t.Fatalf("seeding plan: %v", err)
	}
}

func basePlan() *model.RevisionPlan {
	return &model.RevisionPlan{
		SessionID:     "sess-1",
		LessonVersion: 1,
		Revision:      0,
		Entries: []model.PlanEntry{
			pendingEntry("entry-001", scaffolding("I notice ___.")),
			pendingEntry("entry-002", model.Implementation{
				ElementType: model.ElementPacing,
				Pacing:      &model.PacingChange{ActivityRef: "Warm Up", DeltaMinutes: -5},
			}),
		},
	}
}

func conflictedPlan() *model.RevisionPlan {
	plan := &model.RevisionPlan{
		SessionID:     "sess-1",
		LessonVersion: 1,
		Revision:      0,
		Entries: []model.PlanEntry{
			pendingEntry("entry-001", scaffolding("I notice ___.")),
			pendingEntry("entry-002", scaffolding("The evidence is ___.")),
		},
		Conflicts: []model.ConflictAnnotation{
			{
				EntryIDs:    []string{"entry-001", "entry-002"},
				ElementType: model.ElementScaffolding,
				TargetRef:   "Document Analysis",
				Description: "2 differing scaffolding proposals",
			},
		},
	}
	plan.Entries[0].Conflicted = true
	plan.Entries[1].Conflicted = true
	return plan
}

func TestGate_DecisionsCreateNewRevision(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	seedPlan(t, st, basePlan())

	next, err := gate.New(st).Decide(ctx, "sess-1", 1, []gate.Decision{
		{EntryID: "entry-001", Action: gate.ActionApprove},
		{EntryID: "entry-002", Action: gate.ActionReject},
	})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if next.Revision != 1 {
		t.Errorf("Revision = %d, want 1", next.Revision)
	}
	if next.Entry("entry-001").Status != model.StatusApproved {
		t.Errorf("entry-001 status = %q, want approved", next.Entry("entry-001").Status)
	}
	if !next.ApplyReady() {
		t.Error("fully decided plan not ready")
	}

	// Revision 0 keeps its pending statuses.
	r0, err := st.GetPlan(ctx, "sess-1", 1, 0)
	if err != nil {
		t.Fatalf("GetPlan r0 failed: %v", err)
	}
	if r0.Entry("entry-001").Status != model.StatusPending {
		t.Error("revision 0 was mutated by a decision batch")
	}
}

func TestGate_EditReplacesPayload(t *testing.T) {
	st := store.NewMemoryStore()
	seedPlan(t, st, basePlan())

	replacement := scaffolding("My own frame: ___ because ___.")
	next, err := gate.New(st).Decide(context.Background(), "sess-1", 1, []gate.Decision{
		{EntryID: "entry-001", Action: gate.ActionEdit, Replacement: &replacement},
	})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	entry := next.Entry("entry-001")
	if entry.Status != model.StatusEdited {
		t.Fatalf("status = %q, want edited", entry.Status)
	}
	if entry.Effective().Scaffolding.SentenceFrames[0] != "My own frame: ___ because ___." {
		t.Error("effective implementation is not the replacement")
	}
	// Original payload preserved for the audit trail.
	if entry.Implementation.Scaffolding.SentenceFrames[0] != "I notice ___." {
		t.Error("original implementation was overwritten")
	}
}

func TestGate_BatchIsAtomic(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	seedPlan(t, st, basePlan())

	_, err := gate.New(st).Decide(ctx, "sess-1", 1, []gate.Decision{
		{EntryID: "entry-001", Action: gate.ActionApprove},
		{EntryID: "entry-999", Action: gate.ActionApprove},
	})
	var de *gate.DecisionError
	if !errors.As(err, &de) {
		t.Fatalf("Decide = %v, want DecisionError", err)
	}

	// Nothing from the batch persisted, not even the valid first decision.
	latest, err := st.LatestPlanRevision(ctx, "sess-1", 1)
	if err != nil {
		t.Fatalf("LatestPlanRevision failed: %v", err)
	}
	if latest != 0 {
		t.Errorf("latest revision = %d, want 0", latest)
	}
}

func TestGate_RefusedDecisions(t *testing.T) {
	replacement := scaffolding("frame")
	wrongType := model.Implementation{
		ElementType: model.ElementOther,
		Other:       &model.OtherChange{ActivityRef: "Document Analysis", Description: "something"},
	}
	invalid := model.Implementation{ElementType: model.ElementScaffolding}

	cases := []struct {
		name     string
		decision gate.Decision
	}{
		{"unknown action", gate.Decision{EntryID: "entry-001", Action: "defer"}},
		{"unknown entry", gate.Decision{EntryID: "entry-404", Action: gate.ActionApprove}},
		{"approve with replacement", gate.Decision{EntryID: "entry-001", Action: gate.ActionApprove, Replacement: &replacement}},
		{"reject with replacement", gate.Decision{EntryID: "entry-001", Action: gate.ActionReject, Replacement: &replacement}},
		{"edit without replacement", gate.Decision{EntryID: "entry-001", Action: gate.ActionEdit}},
		{"edit across element types", gate.Decision{EntryID: "entry-001", Action: gate.ActionEdit, Replacement: &wrongType}},
		{"edit with invalid payload", gate.Decision{EntryID: "entry-001", Action: gate.ActionEdit, Replacement: &invalid}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			seedPlan(t, st, basePlan())

			_, err := gate.New(st).Decide(context.Background(), "sess-1", 1, []gate.Decision{tc.decision})
			var de *gate.DecisionError
			if !errors.As(err, &de) {
				t.Fatalf("Decide = %v, want DecisionError", err)
			}
		})
	}
}

func TestGate_AlreadyDecidedEntryRefused(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	seedPlan(t, st, basePlan())
	g := gate.New(st)

	if _, err := g.Decide(ctx, "sess-1", 1, []gate.Decision{{EntryID: "entry-001", Action: gate.ActionApprove}}); err != nil {
		t.Fatalf("first decision failed: %v", err)
	}

	_, err := g.Decide(ctx, "sess-1", 1, []gate.Decision{{EntryID: "entry-001", Action: gate.ActionReject}})
	var de *gate.DecisionError
	if !errors.As(err, &de) {
		t.Fatalf("re-decision = %v, want DecisionError", err)
	}
}

func TestGate_ConflictArbitration(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	seedPlan(t, st, conflictedPlan())
	g := gate.New(st)

	if _, err := g.Decide(ctx, "sess-1", 1, []gate.Decision{{EntryID: "entry-001", Action: gate.ActionApprove}}); err != nil {
		t.Fatalf("approving first conflicted entry failed: %v", err)
	}

	// Second member of the group can only be rejected now.
	_, err := g.Decide(ctx, "sess-1", 1, []gate.Decision{{EntryID: "entry-002", Action: gate.ActionApprove}})
	var de *gate.DecisionError
	if !errors.As(err, &de) {
		t.Fatalf("approving second conflicted entry = %v, want DecisionError", err)
	}

	if _, err := g.Decide(ctx, "sess-1", 1, []gate.Decision{{EntryID: "entry-002", Action: gate.ActionReject}}); err != nil {
		t.Fatalf("rejecting second conflicted entry failed: %v", err)
	}
}

func TestGate_NoPlanYet(t *testing.T) {
	st := store.NewMemoryStore()

	_, err := gate.New(st).Decide(context.Background(), "sess-1", 1, []gate.Decision{
		{EntryID: "entry-001", Action: gate.ActionApprove},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Decide = %v, want ErrNotFound", err)
	}
}
