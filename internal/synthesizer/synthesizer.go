// Package synthesizer folds the persona feedback documents for one lesson
// version into a single actionable revision plan. Synthesis is fully
// deterministic: the same feedback always yields the same plan, byte for byte.
package synthesizer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"lessonlab.app/studio/common/logger"
	"lessonlab.app/studio/internal/model"
	"lessonlab.app/studio/internal/store"
)

type Synthesizer struct {
	store store.SessionStore
}

func New(st store.SessionStore) *Synthesizer {
	return &Synthesizer{store: st}
}

// candidate is one distinct payload accumulated during dedup.
type candidate struct {
	impl       model.Implementation
	groupKey   string
	personas   map[string]bool
	rationales map[string]string
	severities []model.Severity
}

// Synthesize builds the plan from the stored feedback for the lesson version,
// persists it as revision 0, and returns it. Re-synthesizing a version whose
// plan already exists fails with store.ErrVersionExists; the plan is an
// immutable artifact once decisions may reference it.
func (s *Synthesizer) Synthesize(ctx context.Context, sessionID string, version int) (*model.RevisionPlan, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:     "studio.synthesizer",
		SessionID:     logger.Ptr(sessionID),
		LessonVersion: logger.Ptr(version),
	})

	docs, err := s.store.ListFeedback(ctx, sessionID, version)
	if err != nil {
		return nil, fmt.Errorf("loading feedback for v%d: %w", version, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no feedback documents for session %s v%d", sessionID, version)
	}

	plan := Build(sessionID, version, docs)
	if err := s.store.PutPlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("persisting plan v%d r0: %w", version, err)
	}

	slog.InfoContext(ctx, "revision plan synthesized",
		"entries", len(plan.Entries),
		"conflicts", len(plan.Conflicts),
		"critical", countCritical(plan))
	return plan, nil
}

// Build is the pure synthesis step, exposed for direct use by the CLI and
// tests. Input document order does not matter; Build sorts by persona ID
// before accumulating so no map or argument order leaks into the output.
func Build(sessionID string, version int, docs []model.FeedbackDocument) *model.RevisionPlan {
	sorted := append([]model.FeedbackDocument(nil), docs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Persona < sorted[j].Persona })

	var cands []*candidate
	byGroup := make(map[string][]*candidate)

	for _, doc := range sorted {
		for _, concern := range doc.Concerns {
			impl := concern.Recommendation.Implementation
			key := impl.GroupKey()

			var match *candidate
			for _, c := range byGroup[key] {
				if c.impl.Equal(impl) {
					match = c
					break
				}
			}
			if match == nil {
				match = &candidate{
					impl:       impl,
					groupKey:   key,
					personas:   make(map[string]bool),
					rationales: make(map[string]string),
				}
				cands = append(cands, match)
				byGroup[key] = append(byGroup[key], match)
			}

			match.personas[doc.Persona] = true
			if _, ok := match.rationales[doc.Persona]; !ok {
				match.rationales[doc.Persona] = concern.Recommendation.Rationale
			}
			match.severities = append(match.severities, concern.Severity)
		}
	}

	entries := make([]model.PlanEntry, len(cands))
	for i, c := range cands {
		entries[i] = model.PlanEntry{
			Priority:       priorityFor(c),
			PersonaSource:  sortedKeys(c.personas),
			Status:         model.StatusPending,
			Implementation: c.impl,
			Rationales:     c.rationales,
			Conflicted:     len(byGroup[c.groupKey]) > 1,
		}
	}

	// Critical first, stronger corroboration first, then the order concerns
	// were first seen over the persona-sorted input (stable sort keeps it).
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority == model.PriorityCritical
		}
		if len(entries[i].PersonaSource) != len(entries[j].PersonaSource) {
			return len(entries[i].PersonaSource) > len(entries[j].PersonaSource)
		}
		return false
	})

	for i := range entries {
		entries[i].ID = fmt.Sprintf("entry-%03d", i+1)
	}

	return &model.RevisionPlan{
		SessionID:     sessionID,
		LessonVersion: version,
		Revision:      0,
		Entries:       entries,
		Conflicts:     annotateConflicts(entries),
	}
}

func priorityFor(c *candidate) model.Priority {
	if len(c.personas) >= 2 {
		return model.PriorityCritical
	}
	for _, sev := range c.severities {
		if sev == model.SeverityHigh {
			return model.PriorityCritical
		}
	}
	return model.PriorityOptional
}

// annotateConflicts emits one annotation per group of conflicted entries,
// keyed by the final entry IDs.
func annotateConflicts(entries []model.PlanEntry) []model.ConflictAnnotation {
	groups := make(map[string][]int)
	var order []string
	for i, e := range entries {
		if !e.Conflicted {
			continue
		}
		key := e.Implementation.GroupKey()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}
	sort.Strings(order)

	var out []model.ConflictAnnotation
	for _, key := range order {
		idxs := groups[key]
		if len(idxs) < 2 {
			continue
		}
		ids := make([]string, len(idxs))
		for i, idx := range idxs {
			ids[i] = entries[idx].ID
		}
		sort.Strings(ids)
		first := entries[idxs[0]].Implementation
		out = append(out, model.ConflictAnnotation{
			EntryIDs:    ids,
			ElementType: first.ElementType,
			TargetRef:   first.TargetRef(),
			Description: fmt.Sprintf("%d differing %s proposals target %s; resolve by approving or editing one and rejecting the rest.", len(ids), first.ElementType, first.TargetRef()),
		})
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func countCritical(plan *model.RevisionPlan) int {
	n := 0
	for _, e := range plan.Entries {
		if e.Priority == model.PriorityCritical {
			n++
		}
	}
	return n
}
