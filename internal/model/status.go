package model

import "time"

// SessionState tracks where a session sits in the feedback loop.
type SessionState string

const (
	SessionActive    SessionState = "active"
	SessionComplete  SessionState = "complete"
	SessionEscalated SessionState = "escalated"
)

// SessionStatus is the mutable per-session control artifact. Unlike lessons
// and plans it is overwritten in place; history lives in the audit log.
type SessionStatus struct {
	State     SessionState `json:"state"`
	Cycle     int          `json:"cycle"`
	Reason    string       `json:"reason,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}
