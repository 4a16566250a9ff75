// Package applier executes an apply-ready revision plan against a lesson
// version, producing the next immutable version plus an audit record.
package applier

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"lessonlab.app/studio/common/id"
	"lessonlab.app/studio/common/logger"
	"lessonlab.app/studio/internal/model"
	"lessonlab.app/studio/internal/store"
)

// PlanNotReadyError is returned when the plan still has pending entries.
type PlanNotReadyError struct {
	PendingIDs []string
}

func (e *PlanNotReadyError) Error() string {
	return fmt.Sprintf("plan not apply-ready, %d entries pending: %s",
		len(e.PendingIDs), strings.Join(e.PendingIDs, ", "))
}

// ConflictUnresolvedError is returned when a conflict group has more than one
// accepted entry. The gate refuses such batches, so hitting this means the
// plan artifact was produced outside the gate.
type ConflictUnresolvedError struct {
	TargetRef string
	EntryIDs  []string
}

func (e *ConflictUnresolvedError) Error() string {
	return fmt.Sprintf("conflict on %s unresolved: entries %s are all accepted",
		e.TargetRef, strings.Join(e.EntryIDs, ", "))
}

// handler mutates the lesson copy for one implementation type. Handlers are
// upserts on stable keys so a retried apply converges to the same state.
type handler func(lesson *model.LessonDesign, impl model.Implementation) error

var handlers = map[model.ElementType]handler{
	model.ElementVocabulary:         applyVocabulary,
	model.ElementScaffolding:        applyScaffolding,
	model.ElementPacing:             applyPacing,
	model.ElementInstructionClarity: applyInstructionClarity,
	model.ElementAssessment:         applyAssessment,
	model.ElementOther:              applyOther,
}

type Applier struct {
	store store.SessionStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex // session/version -> apply lock
}

func New(st store.SessionStore) *Applier {
	return &Applier{store: st, locks: make(map[string]*sync.Mutex)}
}

// Apply executes the latest plan revision for the lesson version. Exactly one
// apply may run against a given source version at a time; the lesson clone is
// persisted as version+1 only after every handler and re-validation succeeds,
// so a mid-batch failure leaves no partial state anywhere.
func (a *Applier) Apply(ctx context.Context, sessionID string, version int, actor string) (*model.LessonDesign, *model.AuditRecord, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:     "studio.applier",
		SessionID:     logger.Ptr(sessionID),
		LessonVersion: logger.Ptr(version),
	})

	lock := a.versionLock(sessionID, version)
	lock.Lock()
	defer lock.Unlock()

	lesson, err := a.store.GetLesson(ctx, sessionID, version)
	if err != nil {
		return nil, nil, fmt.Errorf("loading lesson v%d: %w", version, err)
	}
	revision, err := a.store.LatestPlanRevision(ctx, sessionID, version)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving latest plan revision: %w", err)
	}
	if revision < 0 {
		return nil, nil, fmt.Errorf("no revision plan for session %s v%d: %w", sessionID, version, store.ErrNotFound)
	}
	plan, err := a.store.GetPlan(ctx, sessionID, version, revision)
	if err != nil {
		return nil, nil, fmt.Errorf("loading plan v%d r%d: %w", version, revision, err)
	}

	if pending := plan.PendingIDs(); len(pending) > 0 {
		return nil, nil, &PlanNotReadyError{PendingIDs: pending}
	}
	if err := checkConflictsResolved(plan); err != nil {
		return nil, nil, err
	}

	revised := lesson.Clone()
	revised.Version = version + 1

	var applied, rejected []string
	for _, entry := range plan.Entries {
		switch entry.Status {
		case model.StatusRejected:
			rejected = append(rejected, entry.ID)
			continue
		case model.StatusApproved, model.StatusEdited:
		default:
			return nil, nil, &PlanNotReadyError{PendingIDs: []string{entry.ID}}
		}

		impl := entry.Effective()
		apply, ok := handlers[impl.ElementType]
		if !ok {
			return nil, nil, fmt.Errorf("entry %s: no handler for element type %q", entry.ID, impl.ElementType)
		}
		if err := apply(revised, impl); err != nil {
			return nil, nil, fmt.Errorf("entry %s: %w", entry.ID, err)
		}
		applied = append(applied, entry.ID)
	}

	if err := revised.Validate(); err != nil {
		return nil, nil, fmt.Errorf("revised lesson invalid: %w", err)
	}
	if err := a.store.PutLesson(ctx, revised); err != nil {
		return nil, nil, fmt.Errorf("persisting lesson v%d: %w", revised.Version, err)
	}

	record := model.AuditRecord{
		ID:               id.NewString(),
		SessionID:        sessionID,
		FromVersion:      version,
		ToVersion:        revised.Version,
		PlanRevision:     revision,
		AppliedEntryIDs:  applied,
		RejectedEntryIDs: rejected,
		Actor:            actor,
		RecordedAt:       time.Now().UTC(),
	}
	if err := a.store.AppendAudit(ctx, record); err != nil {
		return nil, nil, fmt.Errorf("appending audit record: %w", err)
	}

	slog.InfoContext(ctx, "revision plan applied",
		"from_version", version,
		"to_version", revised.Version,
		"plan_revision", revision,
		"applied", len(applied),
		"rejected", len(rejected),
		"actor", actor)
	return revised, &record, nil
}

func (a *Applier) versionLock(sessionID string, version int) *sync.Mutex {
	key := fmt.Sprintf("%s/v%d", sessionID, version)
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[key] = lock
	}
	return lock
}

// checkConflictsResolved verifies each conflict group carries at most one
// accepted entry.
func checkConflictsResolved(plan *model.RevisionPlan) error {
	for _, c := range plan.Conflicts {
		var accepted []string
		for _, eid := range c.EntryIDs {
			entry := plan.Entry(eid)
			if entry == nil {
				continue
			}
			if entry.Status == model.StatusApproved || entry.Status == model.StatusEdited {
				accepted = append(accepted, eid)
			}
		}
		if len(accepted) > 1 {
			sort.Strings(accepted)
			return &ConflictUnresolvedError{TargetRef: c.TargetRef, EntryIDs: accepted}
		}
	}
	return nil
}

func targetActivity(lesson *model.LessonDesign, ref string) (*model.Activity, error) {
	act := lesson.Activity(ref)
	if act == nil {
		return nil, fmt.Errorf("activity %q not found in lesson", ref)
	}
	return act, nil
}

// applyVocabulary upserts the term keyed case-insensitively: an existing entry
// is overwritten in place, a new one is appended.
func applyVocabulary(lesson *model.LessonDesign, impl model.Implementation) error {
	v := impl.Vocabulary
	act, err := targetActivity(lesson, v.ActivityRef)
	if err != nil {
		return err
	}

	entry := model.VocabularyEntry{
		Term:       v.Term,
		Definition: v.Definition,
		Example:    v.Example,
		VisualRef:  v.VisualRef,
	}
	for i := range act.Vocabulary {
		if strings.EqualFold(act.Vocabulary[i].Term, v.Term) {
			act.Vocabulary[i] = entry
			return nil
		}
	}
	act.Vocabulary = append(act.Vocabulary, entry)
	return nil
}

// applyScaffolding replaces the activity's scaffolding block wholesale.
func applyScaffolding(lesson *model.LessonDesign, impl model.Implementation) error {
	s := impl.Scaffolding
	act, err := targetActivity(lesson, s.ActivityRef)
	if err != nil {
		return err
	}
	act.Scaffolding = &model.Scaffolding{
		SentenceFrames:   append([]string(nil), s.SentenceFrames...),
		WordBank:         append([]string(nil), s.WordBank...),
		GraphicOrganizer: s.GraphicOrganizer,
	}
	return nil
}

func applyPacing(lesson *model.LessonDesign, impl model.Implementation) error {
	p := impl.Pacing
	act, err := targetActivity(lesson, p.ActivityRef)
	if err != nil {
		return err
	}
	next := act.DurationMinutes + p.DeltaMinutes
	if next <= 0 {
		return fmt.Errorf("pacing change of %+d minutes would leave %q at %d minutes", p.DeltaMinutes, act.Name, next)
	}
	act.DurationMinutes = next
	return nil
}

func applyInstructionClarity(lesson *model.LessonDesign, impl model.Implementation) error {
	ic := impl.InstructionClarity
	act, err := targetActivity(lesson, ic.ActivityRef)
	if err != nil {
		return err
	}
	act.Instructions = ic.RevisedInstructions
	return nil
}

// applyAssessment replaces the activity's assessment block wholesale.
func applyAssessment(lesson *model.LessonDesign, impl model.Implementation) error {
	as := impl.Assessment
	act, err := targetActivity(lesson, as.ActivityRef)
	if err != nil {
		return err
	}
	act.Assessment = &model.AssessmentSpec{
		Format: as.Format,
		Items:  append([]model.AssessmentItem(nil), as.Items...),
	}
	return nil
}

// applyOther carries no mechanical mutation; the approved description is
// appended to the activity's instructions as a revision note so it survives
// into the next version. Re-applying the same note is a no-op.
func applyOther(lesson *model.LessonDesign, impl model.Implementation) error {
	o := impl.Other
	act, err := targetActivity(lesson, o.ActivityRef)
	if err != nil {
		return err
	}
	note := "Revision note: " + o.Description
	if strings.Contains(act.Instructions, note) {
		return nil
	}
	act.Instructions = strings.TrimRight(act.Instructions, "\n") + "\n\n" + note
	return nil
}
