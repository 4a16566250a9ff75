package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"lessonlab.app/studio/internal/gate"
	"lessonlab.app/studio/internal/http/dto"
	"lessonlab.app/studio/internal/model"
	"lessonlab.app/studio/internal/queue"
	"lessonlab.app/studio/internal/store"
)

type SessionHandler struct {
	store    store.SessionStore
	gate     *gate.Gate
	producer queue.Producer
}

func NewSessionHandler(st store.SessionStore, g *gate.Gate, producer queue.Producer) *SessionHandler {
	return &SessionHandler{store: st, gate: g, producer: producer}
}

func (h *SessionHandler) GetLesson(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	version, ok := versionParam(c)
	if !ok {
		return
	}

	lesson, err := h.store.GetLesson(ctx, sessionID, version)
	if err != nil {
		respondStoreError(c, err, "lesson")
		return
	}
	c.JSON(http.StatusOK, lesson)
}

// GetPlan returns the latest revision of the plan for the lesson version.
func (h *SessionHandler) GetPlan(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	version, ok := versionParam(c)
	if !ok {
		return
	}

	revision, err := h.store.LatestPlanRevision(ctx, sessionID, version)
	if err != nil {
		respondStoreError(c, err, "plan")
		return
	}
	if revision < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no plan for this lesson version"})
		return
	}
	plan, err := h.store.GetPlan(ctx, sessionID, version, revision)
	if err != nil {
		respondStoreError(c, err, "plan")
		return
	}
	c.JSON(http.StatusOK, dto.PlanResponse{Plan: plan, ApplyReady: plan.ApplyReady()})
}

func (h *SessionHandler) Decide(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	entryID := c.Param("entryID")
	version, ok := versionParam(c)
	if !ok {
		return
	}

	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid decision request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	plan, err := h.gate.Decide(ctx, sessionID, version, []gate.Decision{{
		EntryID:     entryID,
		Action:      gate.Action(req.Action),
		Replacement: req.Replacement,
	}})
	if err != nil {
		var decisionErr *gate.DecisionError
		if errors.As(err, &decisionErr) {
			c.JSON(http.StatusConflict, gin.H{"error": decisionErr.Error()})
			return
		}
		respondStoreError(c, err, "plan")
		return
	}

	entry := plan.Entry(entryID)
	c.JSON(http.StatusOK, dto.DecisionResponse{
		PlanRevision: plan.Revision,
		EntryID:      entryID,
		Status:       string(entry.Status),
		PendingCount: len(plan.PendingIDs()),
		ApplyReady:   plan.ApplyReady(),
	})
}

func (h *SessionHandler) GetAudit(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	records, err := h.store.ListAudit(ctx, sessionID)
	if err != nil {
		respondStoreError(c, err, "audit log")
		return
	}
	if records == nil {
		records = []model.AuditRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *SessionHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	status, err := h.store.GetStatus(ctx, sessionID)
	if err != nil {
		respondStoreError(c, err, "session status")
		return
	}
	c.JSON(http.StatusOK, status)
}

// Evaluate enqueues an evaluation task; the worker runs the panel.
func (h *SessionHandler) Evaluate(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	var req dto.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid evaluate request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.store.GetLesson(ctx, sessionID, req.LessonVersion); err != nil {
		respondStoreError(c, err, "lesson")
		return
	}

	task := queue.Task{
		TaskType:      queue.TaskTypeEvaluateLesson,
		SessionID:     sessionID,
		LessonVersion: req.LessonVersion,
		Persona:       req.Persona,
	}
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		traceID := spanCtx.TraceID().String()
		task.TraceID = &traceID
	}

	if err := h.producer.Enqueue(ctx, task); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue evaluation", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue evaluation"})
		return
	}

	c.JSON(http.StatusAccepted, dto.EvaluateResponse{
		Enqueued:      true,
		SessionID:     sessionID,
		LessonVersion: req.LessonVersion,
	})
}

func versionParam(c *gin.Context) (int, bool) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lesson version"})
		return 0, false
	}
	return version, true
}

func respondStoreError(c *gin.Context, err error, artifact string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": artifact + " not found"})
	case errors.Is(err, store.ErrInvalidSession):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session identifier"})
	default:
		slog.ErrorContext(c.Request.Context(), "store operation failed", "artifact", artifact, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
