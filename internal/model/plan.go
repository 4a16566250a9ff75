package model

import (
	"fmt"
)

// Priority ranks a revision plan entry.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityOptional Priority = "optional"
)

// EntryStatus is the approval state of a plan entry.
// pending is the only non-terminal status.
type EntryStatus string

const (
	StatusPending  EntryStatus = "pending"
	StatusApproved EntryStatus = "approved"
	StatusRejected EntryStatus = "rejected"
	StatusEdited   EntryStatus = "edited"
)

func (s EntryStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusEdited:
		return true
	}
	return false
}

// PlanEntry is one deduplicated, possibly persona-merged unit of change.
type PlanEntry struct {
	ID             string         `json:"id"`
	Priority       Priority       `json:"priority"`
	PersonaSource  []string       `json:"persona_source"`
	Status         EntryStatus    `json:"status"`
	Implementation Implementation `json:"implementation"`
	// Edited holds the replacement payload when Status is "edited". The
	// original Implementation is preserved for the audit trail.
	Edited     *Implementation   `json:"edited,omitempty"`
	Rationales map[string]string `json:"rationales,omitempty"` // persona ID -> rationale
	Conflicted bool              `json:"conflicted,omitempty"`
}

// Effective returns the implementation that would be applied: the edited
// payload when present, otherwise the original.
func (e *PlanEntry) Effective() Implementation {
	if e.Status == StatusEdited && e.Edited != nil {
		return *e.Edited
	}
	return e.Implementation
}

// ConflictAnnotation groups entries whose implementations target the same
// lesson location with incompatible payloads.
type ConflictAnnotation struct {
	EntryIDs    []string    `json:"entry_ids"`
	ElementType ElementType `json:"element_type"`
	TargetRef   string      `json:"target_ref"`
	Description string      `json:"description"`
}

// RevisionPlan is the synthesized, prioritized, conflict-annotated set of
// proposed changes for one lesson version. Revision 0 is the synthesized plan;
// the approval gate persists each decision batch as a new revision, never
// mutating earlier ones.
type RevisionPlan struct {
	SessionID     string               `json:"session_id"`
	LessonVersion int                  `json:"lesson_version"`
	Revision      int                  `json:"revision"`
	Entries       []PlanEntry          `json:"entries"`
	Conflicts     []ConflictAnnotation `json:"conflicts,omitempty"`
}

// Entry returns a pointer to the entry with the given ID, nil if absent.
func (p *RevisionPlan) Entry(id string) *PlanEntry {
	for i := range p.Entries {
		if p.Entries[i].ID == id {
			return &p.Entries[i]
		}
	}
	return nil
}

// PendingIDs lists entries that still await a decision.
func (p *RevisionPlan) PendingIDs() []string {
	var ids []string
	for _, e := range p.Entries {
		if !e.Status.Terminal() {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// ApplyReady reports whether every entry has a terminal status.
func (p *RevisionPlan) ApplyReady() bool {
	return len(p.PendingIDs()) == 0
}

// Clone deep-copies the plan so gate decisions never alias earlier revisions.
func (p *RevisionPlan) Clone() *RevisionPlan {
	out := *p
	out.Entries = make([]PlanEntry, len(p.Entries))
	for i, e := range p.Entries {
		ec := e
		ec.PersonaSource = append([]string(nil), e.PersonaSource...)
		if e.Edited != nil {
			edited := *e.Edited
			ec.Edited = &edited
		}
		if e.Rationales != nil {
			ec.Rationales = make(map[string]string, len(e.Rationales))
			for k, v := range e.Rationales {
				ec.Rationales[k] = v
			}
		}
		out.Entries[i] = ec
	}
	out.Conflicts = make([]ConflictAnnotation, len(p.Conflicts))
	for i, c := range p.Conflicts {
		cc := c
		cc.EntryIDs = append([]string(nil), c.EntryIDs...)
		out.Conflicts[i] = cc
	}
	return &out
}

// Validate checks plan structure and entry payloads.
func (p *RevisionPlan) Validate() error {
	if p.SessionID == "" {
		return invalid("plan", "session_id", "required")
	}
	if p.LessonVersion < 1 {
		return invalid("plan", "lesson_version", "must be >= 1")
	}
	seen := make(map[string]bool, len(p.Entries))
	for i, e := range p.Entries {
		field := fmt.Sprintf("entries[%d]", i)
		if e.ID == "" {
			return invalid("plan", field+".id", "required")
		}
		if seen[e.ID] {
			return invalid("plan", field+".id", fmt.Sprintf("duplicate entry id %q", e.ID))
		}
		seen[e.ID] = true
		if e.Priority != PriorityCritical && e.Priority != PriorityOptional {
			return invalid("plan", field+".priority", fmt.Sprintf("unknown priority %q", e.Priority))
		}
		if len(e.PersonaSource) == 0 {
			return invalid("plan", field+".persona_source", "at least one contributing persona required")
		}
		if e.Status != StatusPending && !e.Status.Terminal() {
			return invalid("plan", field+".status", fmt.Sprintf("unknown status %q", e.Status))
		}
		if err := e.Implementation.Validate(); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		if e.Status == StatusEdited {
			if e.Edited == nil {
				return invalid("plan", field+".edited", "edited status requires replacement implementation")
			}
			if e.Edited.ElementType != e.Implementation.ElementType {
				return invalid("plan", field+".edited", "replacement must keep the original element_type")
			}
			if err := e.Edited.Validate(); err != nil {
				return fmt.Errorf("%s.edited: %w", field, err)
			}
		}
	}
	for i, c := range p.Conflicts {
		field := fmt.Sprintf("conflicts[%d]", i)
		if len(c.EntryIDs) < 2 {
			return invalid("plan", field+".entry_ids", "a conflict references at least two entries")
		}
		for _, id := range c.EntryIDs {
			if !seen[id] {
				return invalid("plan", field+".entry_ids", fmt.Sprintf("unknown entry id %q", id))
			}
		}
	}
	return nil
}
