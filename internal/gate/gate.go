// Package gate is the human approval checkpoint. Every plan entry passes
// through it; nothing is applied to a lesson without a recorded decision.
package gate

import (
	"context"
	"fmt"
	"log/slog"

	"lessonlab.app/studio/common/logger"
	"lessonlab.app/studio/internal/model"
	"lessonlab.app/studio/internal/store"
)

// Action is the teacher's decision on one pending entry.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionEdit    Action = "edit"
)

func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionEdit:
		return true
	}
	return false
}

// Decision is one entry decision. Replacement is required for edits and
// forbidden otherwise.
type Decision struct {
	EntryID     string                `json:"entry_id"`
	Action      Action                `json:"action"`
	Replacement *model.Implementation `json:"replacement,omitempty"`
}

// DecisionError rejects a whole decision batch. Batches are atomic: one bad
// decision and nothing in the batch is persisted, every entry keeps its
// current status.
type DecisionError struct {
	EntryID string
	Reason  string
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("decision on entry %s refused: %s", e.EntryID, e.Reason)
}

type Gate struct {
	store store.SessionStore
}

func New(st store.SessionStore) *Gate {
	return &Gate{store: st}
}

// Decide applies a batch of decisions to the latest plan revision and
// persists the result as a new revision. Earlier revisions are never mutated.
func (g *Gate) Decide(ctx context.Context, sessionID string, version int, decisions []Decision) (*model.RevisionPlan, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:     "studio.gate",
		SessionID:     logger.Ptr(sessionID),
		LessonVersion: logger.Ptr(version),
	})

	if len(decisions) == 0 {
		return nil, fmt.Errorf("empty decision batch")
	}

	latest, err := g.store.LatestPlanRevision(ctx, sessionID, version)
	if err != nil {
		return nil, fmt.Errorf("resolving latest plan revision: %w", err)
	}
	if latest < 0 {
		return nil, fmt.Errorf("no revision plan for session %s v%d: %w", sessionID, version, store.ErrNotFound)
	}
	current, err := g.store.GetPlan(ctx, sessionID, version, latest)
	if err != nil {
		return nil, fmt.Errorf("loading plan v%d r%d: %w", version, latest, err)
	}

	next := current.Clone()
	for _, d := range decisions {
		if err := applyDecision(next, d); err != nil {
			return nil, err
		}
	}

	next.Revision = latest + 1
	if err := g.store.PutPlan(ctx, next); err != nil {
		return nil, fmt.Errorf("persisting plan v%d r%d: %w", version, next.Revision, err)
	}

	slog.InfoContext(ctx, "decision batch recorded",
		"plan_revision", next.Revision,
		"decisions", len(decisions),
		"pending_remaining", len(next.PendingIDs()))
	return next, nil
}

func applyDecision(plan *model.RevisionPlan, d Decision) error {
	if !d.Action.Valid() {
		return &DecisionError{EntryID: d.EntryID, Reason: fmt.Sprintf("unknown action %q", d.Action)}
	}
	entry := plan.Entry(d.EntryID)
	if entry == nil {
		return &DecisionError{EntryID: d.EntryID, Reason: "no such entry"}
	}
	if entry.Status.Terminal() {
		return &DecisionError{EntryID: d.EntryID, Reason: fmt.Sprintf("already %s", entry.Status)}
	}

	switch d.Action {
	case ActionApprove:
		if d.Replacement != nil {
			return &DecisionError{EntryID: d.EntryID, Reason: "approve carries no replacement; use edit"}
		}
		if err := checkArbitration(plan, entry); err != nil {
			return err
		}
		entry.Status = model.StatusApproved

	case ActionReject:
		if d.Replacement != nil {
			return &DecisionError{EntryID: d.EntryID, Reason: "reject carries no replacement"}
		}
		entry.Status = model.StatusRejected

	case ActionEdit:
		if d.Replacement == nil {
			return &DecisionError{EntryID: d.EntryID, Reason: "edit requires a replacement implementation"}
		}
		if d.Replacement.ElementType != entry.Implementation.ElementType {
			return &DecisionError{EntryID: d.EntryID, Reason: fmt.Sprintf(
				"replacement element_type %q does not match original %q",
				d.Replacement.ElementType, entry.Implementation.ElementType)}
		}
		if err := d.Replacement.Validate(); err != nil {
			return &DecisionError{EntryID: d.EntryID, Reason: fmt.Sprintf("replacement invalid: %v", err)}
		}
		if err := checkArbitration(plan, entry); err != nil {
			return err
		}
		entry.Status = model.StatusEdited
		replacement := *d.Replacement
		entry.Edited = &replacement
	}
	return nil
}

// checkArbitration enforces that at most one entry per conflict group can be
// accepted: approving or editing a conflicted entry is allowed only while no
// other member of its group has already been accepted.
func checkArbitration(plan *model.RevisionPlan, entry *model.PlanEntry) error {
	if !entry.Conflicted {
		return nil
	}
	for _, c := range plan.Conflicts {
		if !contains(c.EntryIDs, entry.ID) {
			continue
		}
		for _, id := range c.EntryIDs {
			if id == entry.ID {
				continue
			}
			other := plan.Entry(id)
			if other == nil {
				continue
			}
			if other.Status == model.StatusApproved || other.Status == model.StatusEdited {
				return &DecisionError{EntryID: entry.ID, Reason: fmt.Sprintf(
					"conflicts with already-accepted entry %s on %s; reject one of them", id, c.TargetRef)}
			}
		}
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
