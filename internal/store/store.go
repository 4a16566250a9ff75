package store

import (
	"context"
	"errors"

	"lessonlab.app/studio/internal/model"
)

var (
	// ErrNotFound is returned when a requested artifact does not exist.
	ErrNotFound = errors.New("artifact not found")

	// ErrVersionExists guards artifact immutability: lesson versions and plan
	// revisions are written once and never overwritten.
	ErrVersionExists = errors.New("artifact version already exists")

	// ErrInvalidSession is returned for session identifiers that cannot form
	// a safe artifact path.
	ErrInvalidSession = errors.New("invalid session identifier")
)

// SessionStore is the sole state-transfer mechanism between pipeline stages.
// No component touches the filesystem directly; everything goes through this
// interface so tests can use the in-memory implementation.
type SessionStore interface {
	// Lessons. PutLesson fails with ErrVersionExists if the version is
	// already stored; versions are immutable.
	PutLesson(ctx context.Context, lesson *model.LessonDesign) error
	GetLesson(ctx context.Context, sessionID string, version int) (*model.LessonDesign, error)
	LatestLessonVersion(ctx context.Context, sessionID string) (int, error) // 0 = none

	// Feedback documents, keyed by (session, persona, lesson version).
	// Re-evaluation supersedes the prior document, so PutFeedback overwrites.
	PutFeedback(ctx context.Context, sessionID string, doc *model.FeedbackDocument) error
	GetFeedback(ctx context.Context, sessionID, persona string, version int) (*model.FeedbackDocument, error)
	ListFeedback(ctx context.Context, sessionID string, version int) ([]model.FeedbackDocument, error)

	// Revision plans. Revision 0 is the synthesized plan; every gate decision
	// batch persists a new revision. PutPlan fails with ErrVersionExists if
	// (lesson version, revision) is already stored.
	PutPlan(ctx context.Context, plan *model.RevisionPlan) error
	GetPlan(ctx context.Context, sessionID string, version, revision int) (*model.RevisionPlan, error)
	LatestPlanRevision(ctx context.Context, sessionID string, version int) (int, error) // -1 = none

	// Audit log, append-only.
	AppendAudit(ctx context.Context, rec model.AuditRecord) error
	ListAudit(ctx context.Context, sessionID string) ([]model.AuditRecord, error)

	// Session status, the one mutable artifact. GetStatus returns an active
	// zero-cycle status when none has been written yet.
	PutStatus(ctx context.Context, sessionID string, status model.SessionStatus) error
	GetStatus(ctx context.Context, sessionID string) (model.SessionStatus, error)
}
