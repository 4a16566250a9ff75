package model

import "time"

// AuditRecord is one append-only log entry per apply operation. Records are
// never deleted or edited.
type AuditRecord struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	FromVersion      int       `json:"from_version"`
	ToVersion        int       `json:"to_version"`
	PlanRevision     int       `json:"plan_revision"`
	AppliedEntryIDs  []string  `json:"applied_entry_ids"`
	RejectedEntryIDs []string  `json:"rejected_entry_ids,omitempty"`
	Actor            string    `json:"actor"`
	RecordedAt       time.Time `json:"recorded_at"`
}
