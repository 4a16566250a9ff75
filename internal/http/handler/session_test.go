package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lessonlab.app/studio/internal/gate"
	"lessonlab.app/studio/internal/http/handler"
	"lessonlab.app/studio/internal/model"
	"lessonlab.app/studio/internal/queue"
	"lessonlab.app/studio/internal/store"
)

var _ = Describe("SessionHandler", func() {
	var (
		router   *gin.Engine
		st       *store.MemoryStore
		producer *mockProducer
	)

	seedLesson := func() {
		lesson := &model.LessonDesign{
			SessionID: "sess-1",
			Version:   1,
			Title:     "Primary Sources",
			Objective: "Students evaluate primary sources for bias",
			Activities: []model.Activity{
				{
					ID:              "act-1",
					Name:            "Warm Up",
					DurationMinutes: 10,
					CognitiveLevel:  model.CognitiveRetrieval,
					Instructions:    "List three things you know about primary sources.",
				},
			},
		}
		Expect(st.PutLesson(context.Background(), lesson)).To(Succeed())
	}

	seedPlan := func() {
		plan := &model.RevisionPlan{
			SessionID:     "sess-1",
			LessonVersion: 1,
			Revision:      0,
			Entries: []model.PlanEntry{
				{
					ID:            "entry-001",
					Priority:      model.PriorityCritical,
					PersonaSource: []string{"ell-intermediate"},
					Status:        model.StatusPending,
					Implementation: model.Implementation{
						ElementType: model.ElementScaffolding,
						Scaffolding: &model.ScaffoldingChange{
							ActivityRef:    "Warm Up",
							SentenceFrames: []string{"I notice ___."},
						},
					},
				},
			},
		}
		Expect(st.PutPlan(context.Background(), plan)).To(Succeed())
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		st = store.NewMemoryStore()
		producer = &mockProducer{}
		h := handler.NewSessionHandler(st, gate.New(st), producer)

		sessions := router.Group("/api/v1/sessions/:id")
		sessions.GET("/lessons/:version", h.GetLesson)
		sessions.GET("/plans/:version", h.GetPlan)
		sessions.POST("/plans/:version/entries/:entryID/decision", h.Decide)
		sessions.GET("/audit", h.GetAudit)
		sessions.GET("/status", h.GetStatus)
		sessions.POST("/evaluate", h.Evaluate)
	})

	Describe("GetLesson", func() {
		It("returns 200 with the stored lesson", func() {
			seedLesson()

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-1/lessons/1", nil)
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var lesson model.LessonDesign
			Expect(json.Unmarshal(w.Body.Bytes(), &lesson)).To(Succeed())
			Expect(lesson.Title).To(Equal("Primary Sources"))
			Expect(lesson.Activities).To(HaveLen(1))
		})

		It("returns 404 when the version does not exist", func() {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-1/lessons/3", nil)
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns 400 on a non-numeric version", func() {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-1/lessons/latest", nil)
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GetPlan", func() {
		It("returns the latest revision with its readiness flag", func() {
			seedPlan()

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-1/plans/1", nil)
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["apply_ready"]).To(BeFalse())
			Expect(resp["plan"]).NotTo(BeNil())
		})

		It("returns 404 when no plan exists for the version", func() {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-1/plans/1", nil)
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Decide", func() {
		It("approves an entry and reports the new revision", func() {
			seedPlan()

			body, _ := json.Marshal(map[string]string{"action": "approve"})
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost,
				"/api/v1/sessions/sess-1/plans/1/entries/entry-001/decision", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["plan_revision"]).To(BeEquivalentTo(1))
			Expect(resp["status"]).To(Equal("approved"))
			Expect(resp["pending_count"]).To(BeEquivalentTo(0))
			Expect(resp["apply_ready"]).To(BeTrue())
		})

		It("returns 409 when the decision is refused", func() {
			seedPlan()

			body, _ := json.Marshal(map[string]string{"action": "approve"})
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost,
				"/api/v1/sessions/sess-1/plans/1/entries/entry-999/decision", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusConflict))
		})

		It("returns 400 on a malformed body", func() {
			seedPlan()

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost,
				"/api/v1/sessions/sess-1/plans/1/entries/entry-001/decision", bytes.NewBufferString(`{`))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 when no plan exists", func() {
			body, _ := json.Marshal(map[string]string{"action": "approve"})
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost,
				"/api/v1/sessions/sess-1/plans/1/entries/entry-001/decision", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GetAudit", func() {
		It("returns an empty array rather than null for a fresh session", func() {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-1/audit", nil)
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"records":[]`))
		})

		It("returns appended records in order", func() {
			Expect(st.AppendAudit(context.Background(), model.AuditRecord{
				ID: "rec-1", SessionID: "sess-1", FromVersion: 1, ToVersion: 2,
			})).To(Succeed())

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-1/audit", nil)
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp struct {
				Records []model.AuditRecord `json:"records"`
			}
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Records).To(HaveLen(1))
			Expect(resp.Records[0].ToVersion).To(Equal(2))
		})
	})

	Describe("GetStatus", func() {
		It("defaults to an active session", func() {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-1/status", nil)
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var status model.SessionStatus
			Expect(json.Unmarshal(w.Body.Bytes(), &status)).To(Succeed())
			Expect(status.State).To(Equal(model.SessionActive))
			Expect(status.Cycle).To(BeZero())
		})
	})

	Describe("Evaluate", func() {
		It("enqueues an evaluation task and returns 202", func() {
			seedLesson()

			body, _ := json.Marshal(map[string]any{"lesson_version": 1, "persona": "ell-intermediate"})
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-1/evaluate", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(producer.tasks).To(HaveLen(1))
			task := producer.tasks[0]
			Expect(task.TaskType).To(Equal(queue.TaskTypeEvaluateLesson))
			Expect(task.SessionID).To(Equal("sess-1"))
			Expect(task.LessonVersion).To(Equal(1))
			Expect(task.Persona).To(Equal("ell-intermediate"))
		})

		It("returns 404 when the lesson version does not exist", func() {
			body, _ := json.Marshal(map[string]any{"lesson_version": 4})
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-1/evaluate", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(producer.tasks).To(BeEmpty())
		})

		It("returns 400 when the body omits the lesson version", func() {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-1/evaluate", bytes.NewBufferString(`{}`))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 500 when the queue is unavailable", func() {
			seedLesson()
			producer.enqueueFn = func(context.Context, queue.Task) error {
				return errors.New("stream down")
			}

			body, _ := json.Marshal(map[string]any{"lesson_version": 1})
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-1/evaluate", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})
	})
})
