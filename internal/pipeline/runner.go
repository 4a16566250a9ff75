// Package pipeline sequences the feedback loop stages and bounds how many
// times a session may cycle through them before a human has to step in.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lessonlab.app/studio/common/logger"
	"lessonlab.app/studio/internal/applier"
	"lessonlab.app/studio/internal/model"
	"lessonlab.app/studio/internal/orchestrator"
	"lessonlab.app/studio/internal/store"
	"lessonlab.app/studio/internal/synthesizer"
)

// ErrSessionEscalated is returned for any stage invoked on a session that has
// exhausted its revision cycles. Only an explicit human reset reopens it.
var ErrSessionEscalated = errors.New("session escalated, automated loop stopped")

type Runner struct {
	store        store.SessionStore
	orchestrator *orchestrator.Orchestrator
	synthesizer  *synthesizer.Synthesizer
	applier      *applier.Applier
	personas     []model.Persona
	maxCycles    int
}

func NewRunner(st store.SessionStore, orch *orchestrator.Orchestrator, synth *synthesizer.Synthesizer, app *applier.Applier, personas []model.Persona, maxCycles int) *Runner {
	if maxCycles < 1 {
		maxCycles = 3
	}
	return &Runner{
		store:        st,
		orchestrator: orch,
		synthesizer:  synth,
		applier:      app,
		personas:     personas,
		maxCycles:    maxCycles,
	}
}

// Evaluate runs the full persona panel against the lesson version.
func (r *Runner) Evaluate(ctx context.Context, sessionID string, version int) ([]model.FeedbackDocument, []model.ConflictAnnotation, error) {
	if err := r.checkOpen(ctx, sessionID); err != nil {
		return nil, nil, err
	}
	return r.orchestrator.RunAll(ctx, sessionID, version, r.personas)
}

// EvaluateOne re-runs a single persona, superseding its earlier feedback.
func (r *Runner) EvaluateOne(ctx context.Context, sessionID string, version int, personaID string) (*model.FeedbackDocument, error) {
	if err := r.checkOpen(ctx, sessionID); err != nil {
		return nil, err
	}
	for _, p := range r.personas {
		if p.ID == personaID {
			docs, _, err := r.orchestrator.RunAll(ctx, sessionID, version, []model.Persona{p})
			if err != nil {
				return nil, err
			}
			return &docs[0], nil
		}
	}
	return nil, fmt.Errorf("unknown persona %q", personaID)
}

// Synthesize builds and persists the revision plan for the lesson version.
// When the session has already burned through its cycle budget and the fresh
// plan still contains critical entries, the session escalates instead of
// feeding another round.
func (r *Runner) Synthesize(ctx context.Context, sessionID string, version int) (*model.RevisionPlan, error) {
	if err := r.checkOpen(ctx, sessionID); err != nil {
		return nil, err
	}

	plan, err := r.synthesizer.Synthesize(ctx, sessionID, version)
	if err != nil {
		return nil, err
	}

	cycle, err := r.cycleCount(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cycle >= r.maxCycles && hasCritical(plan) {
		reason := fmt.Sprintf("critical concerns remain after %d revision cycles", cycle)
		if err := r.escalate(ctx, sessionID, cycle, reason); err != nil {
			return nil, err
		}
		return plan, fmt.Errorf("%w: %s", ErrSessionEscalated, reason)
	}

	return plan, nil
}

// Apply executes the latest apply-ready plan revision and advances the cycle
// count.
func (r *Runner) Apply(ctx context.Context, sessionID string, version int, actor string) (*model.LessonDesign, *model.AuditRecord, error) {
	if err := r.checkOpen(ctx, sessionID); err != nil {
		return nil, nil, err
	}

	lesson, record, err := r.applier.Apply(ctx, sessionID, version, actor)
	if err != nil {
		return nil, nil, err
	}

	cycle, err := r.cycleCount(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	status := model.SessionStatus{
		State:     model.SessionActive,
		Cycle:     cycle,
		UpdatedAt: time.Now().UTC(),
	}
	if err := r.store.PutStatus(ctx, sessionID, status); err != nil {
		return nil, nil, fmt.Errorf("updating session status: %w", err)
	}

	return lesson, record, nil
}

// Reset reopens an escalated session. Human-only operation; the CLI and API
// expose it, nothing in the automated loop calls it.
func (r *Runner) Reset(ctx context.Context, sessionID string) error {
	cycle, err := r.cycleCount(ctx, sessionID)
	if err != nil {
		return err
	}
	status := model.SessionStatus{
		State:     model.SessionActive,
		Cycle:     cycle,
		Reason:    "manually reopened",
		UpdatedAt: time.Now().UTC(),
	}
	return r.store.PutStatus(ctx, sessionID, status)
}

func (r *Runner) MaxCycles() int {
	return r.maxCycles
}

func (r *Runner) checkOpen(ctx context.Context, sessionID string) error {
	status, err := r.store.GetStatus(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("reading session status: %w", err)
	}
	if status.State == model.SessionEscalated {
		return fmt.Errorf("%w: %s", ErrSessionEscalated, status.Reason)
	}
	return nil
}

// cycleCount is the number of applies recorded for the session. Deriving it
// from the audit log keeps it correct even if the status artifact is lost.
func (r *Runner) cycleCount(ctx context.Context, sessionID string) (int, error) {
	records, err := r.store.ListAudit(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("reading audit log: %w", err)
	}
	return len(records), nil
}

func (r *Runner) escalate(ctx context.Context, sessionID string, cycle int, reason string) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "studio.pipeline",
		SessionID: logger.Ptr(sessionID),
	})
	status := model.SessionStatus{
		State:     model.SessionEscalated,
		Cycle:     cycle,
		Reason:    reason,
		UpdatedAt: time.Now().UTC(),
	}
	if err := r.store.PutStatus(ctx, sessionID, status); err != nil {
		return fmt.Errorf("persisting escalation: %w", err)
	}
	slog.WarnContext(ctx, "session escalated for human review", "cycle", cycle, "reason", reason)
	return nil
}

func hasCritical(plan *model.RevisionPlan) bool {
	for _, e := range plan.Entries {
		if e.Priority == model.PriorityCritical {
			return true
		}
	}
	return false
}
