// Package evaluator turns a persona's declarative decision rules into a
// structured feedback document for one lesson version. The rules drive what is
// flagged; the collaborator only narrates.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lessonlab.app/studio/common/logger"
	"lessonlab.app/studio/internal/collab"
	"lessonlab.app/studio/internal/model"
	"lessonlab.app/studio/internal/store"
)

type Evaluator struct {
	store  store.SessionStore
	collab collab.Collaborator
	now    func() time.Time
}

// New creates an Evaluator. collaborator may be nil; the overall assessment
// then falls back to the deterministic summary.
func New(st store.SessionStore, collaborator collab.Collaborator) *Evaluator {
	return &Evaluator{store: st, collab: collaborator, now: time.Now}
}

// Evaluate runs every decision rule of the persona against the lesson version,
// persists the resulting feedback document, and returns it. Evaluating the
// same version twice supersedes the earlier document. Concern IDs and order
// are fully determined by the persona declaration and the lesson content.
func (e *Evaluator) Evaluate(ctx context.Context, sessionID string, version int, persona model.Persona) (*model.FeedbackDocument, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:     "studio.evaluator",
		SessionID:     logger.Ptr(sessionID),
		LessonVersion: logger.Ptr(version),
		Persona:       logger.Ptr(persona.ID),
	})

	lesson, err := e.store.GetLesson(ctx, sessionID, version)
	if err != nil {
		return nil, fmt.Errorf("loading lesson v%d: %w", version, err)
	}

	concerns, diagnostics := e.runRules(ctx, lesson, persona)

	doc := &model.FeedbackDocument{
		Persona:       persona.ID,
		LessonVersion: version,
		Concerns:      concerns,
		Diagnostics:   diagnostics,
		GeneratedAt:   e.now().UTC(),
	}
	doc.OverallAssessment = e.assess(ctx, lesson, persona, doc)

	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("feedback for persona %s: %w", persona.ID, err)
	}
	if err := e.store.PutFeedback(ctx, sessionID, doc); err != nil {
		return nil, fmt.Errorf("persisting feedback for persona %s: %w", persona.ID, err)
	}

	slog.InfoContext(ctx, "persona evaluation complete",
		"concerns", len(doc.Concerns),
		"diagnostics", len(doc.Diagnostics),
		"rating", doc.OverallAssessment.Rating)
	return doc, nil
}

// runRules executes each rule in declared order. A failing rule is recorded as
// a diagnostic and never takes the rest of the evaluation down with it.
func (e *Evaluator) runRules(ctx context.Context, lesson *model.LessonDesign, persona model.Persona) ([]model.Concern, []string) {
	concerns := []model.Concern{}
	var diagnostics []string

	for _, rule := range persona.Rules {
		findings, err := e.runRule(lesson, rule)
		if err != nil {
			slog.WarnContext(ctx, "decision rule failed", "rule", rule.ID, "kind", rule.Kind, "error", err)
			diagnostics = append(diagnostics, fmt.Sprintf("rule %s (%s) did not run: %v", rule.ID, rule.Kind, err))
			continue
		}

		for _, f := range findings {
			if err := f.Implementation.Validate(); err != nil {
				diagnostics = append(diagnostics, fmt.Sprintf("rule %s produced an invalid proposal for %s: %v", rule.ID, f.ActivityRef, err))
				continue
			}
			concerns = append(concerns, model.Concern{
				ID:          concernID(persona.ID, rule.ID, f.Implementation),
				Severity:    rule.Severity,
				ActivityRef: f.ActivityRef,
				Issue:       f.Issue,
				Recommendation: model.Recommendation{
					Rationale:      f.Rationale,
					Implementation: f.Implementation,
				},
			})
		}
	}

	return concerns, diagnostics
}

func (e *Evaluator) runRule(lesson *model.LessonDesign, rule model.DecisionRule) (findings []finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			findings = nil
			err = fmt.Errorf("checker panicked: %v", r)
		}
	}()

	check, ok := checkers[rule.Kind]
	if !ok {
		return nil, fmt.Errorf("no checker registered for kind %q", rule.Kind)
	}
	return check(lesson, rule), nil
}

// concernID is stable across re-evaluations of the same lesson content.
func concernID(personaID, ruleID string, impl model.Implementation) string {
	return personaID + "." + ruleID + "." + slug(impl.TargetRef())
}

// assess produces the overall assessment, preferring the collaborator's
// narrative and degrading to a deterministic summary when it is unavailable.
func (e *Evaluator) assess(ctx context.Context, lesson *model.LessonDesign, persona model.Persona, doc *model.FeedbackDocument) model.OverallAssessment {
	high := 0
	for _, c := range doc.Concerns {
		if c.Severity == model.SeverityHigh {
			high++
		}
	}

	if e.collab != nil {
		assessment, err := e.collab.GenerateAssessment(ctx, collab.AssessmentRequest{
			Lesson:       lesson,
			Persona:      persona,
			ConcernCount: len(doc.Concerns),
			HighCount:    high,
			Diagnostics:  doc.Diagnostics,
		})
		if err == nil {
			return assessment
		}
		slog.WarnContext(ctx, "collaborator assessment unavailable, using deterministic summary", "error", err)
	}

	return fallbackAssessment(persona, len(doc.Concerns), high)
}

func fallbackAssessment(persona model.Persona, concerns, high int) model.OverallAssessment {
	switch {
	case concerns == 0:
		return model.OverallAssessment{
			Summary: fmt.Sprintf("No concerns from the %s lens; the lesson is workable as written.", persona.Name),
			Rating:  5,
		}
	case high > 0:
		return model.OverallAssessment{
			Summary: fmt.Sprintf("The %s lens raised %d concerns, %d of them high severity; revise before teaching.", persona.Name, concerns, high),
			Rating:  2,
		}
	default:
		return model.OverallAssessment{
			Summary: fmt.Sprintf("The %s lens raised %d concerns worth addressing, none blocking.", persona.Name, concerns),
			Rating:  4,
		}
	}
}
