// Package orchestrator fans one lesson version out to every persona evaluator
// and joins the results.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"lessonlab.app/studio/common/logger"
	"lessonlab.app/studio/internal/model"
)

// IncompleteEvaluationError reports which persona evaluations failed. Feedback
// from the personas that succeeded is already persisted when this is returned;
// the caller decides whether a partial panel is usable.
type IncompleteEvaluationError struct {
	Failed map[string]error // persona ID -> failure
}

func (e *IncompleteEvaluationError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("evaluation incomplete, %d persona(s) failed: %s", len(ids), strings.Join(ids, ", "))
}

// PersonaEvaluator evaluates one persona against one lesson version.
type PersonaEvaluator interface {
	Evaluate(ctx context.Context, sessionID string, version int, persona model.Persona) (*model.FeedbackDocument, error)
}

type Orchestrator struct {
	evaluator     PersonaEvaluator
	maxConcurrent int
}

func New(evaluator PersonaEvaluator, maxConcurrent int) *Orchestrator {
	if maxConcurrent < 1 {
		maxConcurrent = 4
	}
	return &Orchestrator{evaluator: evaluator, maxConcurrent: maxConcurrent}
}

// RunAll evaluates every persona in parallel, bounded by the concurrency
// limit, and waits for all of them. Results come back sorted by persona ID
// regardless of completion order. The conflict annotations are an early signal
// over raw concerns; their entry IDs are concern IDs, which the synthesizer
// replaces with plan entry IDs when it persists the plan.
func (o *Orchestrator) RunAll(ctx context.Context, sessionID string, version int, personas []model.Persona) ([]model.FeedbackDocument, []model.ConflictAnnotation, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:     "studio.orchestrator",
		SessionID:     logger.Ptr(sessionID),
		LessonVersion: logger.Ptr(version),
	})
	slog.InfoContext(ctx, "starting persona panel", "personas", len(personas), "max_concurrent", o.maxConcurrent)

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		docs   []model.FeedbackDocument
		failed = make(map[string]error)
	)
	sem := make(chan struct{}, o.maxConcurrent)

	for _, persona := range personas {
		wg.Add(1)
		go func(p model.Persona) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			doc, err := o.evaluator.Evaluate(ctx, sessionID, version, p)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.ErrorContext(ctx, "persona evaluation failed", "persona", p.ID, "error", err)
				failed[p.ID] = err
				return
			}
			docs = append(docs, *doc)
		}(persona)
	}
	wg.Wait()

	sort.Slice(docs, func(i, j int) bool { return docs[i].Persona < docs[j].Persona })

	if len(failed) > 0 {
		return docs, nil, &IncompleteEvaluationError{Failed: failed}
	}

	conflicts := DetectConflicts(docs)
	if len(conflicts) > 0 {
		slog.WarnContext(ctx, "personas disagree on shared targets", "conflict_groups", len(conflicts))
	}
	return docs, conflicts, nil
}

// DetectConflicts groups concern implementations by (element type, target) and
// flags every group holding structurally differing payloads. Equal payloads on
// a shared target are merge candidates, not conflicts.
func DetectConflicts(docs []model.FeedbackDocument) []model.ConflictAnnotation {
	type member struct {
		concernID string
		impl      model.Implementation
	}
	groups := make(map[string][]member)
	var order []string

	for _, doc := range docs {
		for _, c := range doc.Concerns {
			key := c.Recommendation.Implementation.GroupKey()
			if _, seen := groups[key]; !seen {
				order = append(order, key)
			}
			groups[key] = append(groups[key], member{concernID: c.ID, impl: c.Recommendation.Implementation})
		}
	}

	var out []model.ConflictAnnotation
	for _, key := range order {
		members := groups[key]
		if len(members) < 2 {
			continue
		}
		differing := false
		for _, m := range members[1:] {
			if !m.impl.Equal(members[0].impl) {
				differing = true
				break
			}
		}
		if !differing {
			continue
		}

		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.concernID
		}
		sort.Strings(ids)
		out = append(out, model.ConflictAnnotation{
			EntryIDs:    ids,
			ElementType: members[0].impl.ElementType,
			TargetRef:   members[0].impl.TargetRef(),
			Description: fmt.Sprintf("%d differing %s proposals target %s; arbitration required.", len(members), members[0].impl.ElementType, members[0].impl.TargetRef()),
		})
	}
	return out
}
