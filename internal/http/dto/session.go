package dto

import "lessonlab.app/studio/internal/model"

type DecisionRequest struct {
	Action      string                `json:"action" binding:"required"`
	Replacement *model.Implementation `json:"replacement,omitempty"`
}

type DecisionResponse struct {
	PlanRevision int    `json:"plan_revision"`
	EntryID      string `json:"entry_id"`
	Status       string `json:"status"`
	PendingCount int    `json:"pending_count"`
	ApplyReady   bool   `json:"apply_ready"`
}

type EvaluateRequest struct {
	LessonVersion int    `json:"lesson_version" binding:"required"`
	Persona       string `json:"persona,omitempty"`
}

type EvaluateResponse struct {
	Enqueued      bool   `json:"enqueued"`
	SessionID     string `json:"session_id"`
	LessonVersion int    `json:"lesson_version"`
}

type PlanResponse struct {
	Plan       *model.RevisionPlan `json:"plan"`
	ApplyReady bool                `json:"apply_ready"`
}
