package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"lessonlab.app/studio/internal/model"
)

// MemoryStore is an in-memory SessionStore for tests. Artifacts round-trip
// through JSON so tests exercise the same (de)serialization as the local store.
type MemoryStore struct {
	mu       sync.RWMutex
	lessons  map[string][]byte // key: session/vN
	feedback map[string][]byte // key: session/persona/vN
	plans    map[string][]byte // key: session/vN/rM
	audits   map[string][]model.AuditRecord
	statuses map[string]model.SessionStatus
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lessons:  make(map[string][]byte),
		feedback: make(map[string][]byte),
		plans:    make(map[string][]byte),
		audits:   make(map[string][]model.AuditRecord),
		statuses: make(map[string]model.SessionStatus),
	}
}

func (s *MemoryStore) PutLesson(ctx context.Context, lesson *model.LessonDesign) error {
	if err := lesson.Validate(); err != nil {
		return err
	}
	key := fmt.Sprintf("%s/v%d", lesson.SessionID, lesson.Version)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lessons[key]; ok {
		return fmt.Errorf("lesson v%d: %w", lesson.Version, ErrVersionExists)
	}
	data, err := json.Marshal(lesson)
	if err != nil {
		return err
	}
	s.lessons[key] = data
	return nil
}

func (s *MemoryStore) GetLesson(ctx context.Context, sessionID string, version int) (*model.LessonDesign, error) {
	s.mu.RLock()
	data, ok := s.lessons[fmt.Sprintf("%s/v%d", sessionID, version)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var lesson model.LessonDesign
	if err := json.Unmarshal(data, &lesson); err != nil {
		return nil, err
	}
	return &lesson, nil
}

func (s *MemoryStore) LatestLessonVersion(ctx context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := 0
	prefix := sessionID + "/v"
	for key := range s.lessons {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if v, err := strconv.Atoi(key[len(prefix):]); err == nil && v > latest {
			latest = v
		}
	}
	return latest, nil
}

func (s *MemoryStore) PutFeedback(ctx context.Context, sessionID string, doc *model.FeedbackDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[fmt.Sprintf("%s/%s/v%d", sessionID, doc.Persona, doc.LessonVersion)] = data
	return nil
}

func (s *MemoryStore) GetFeedback(ctx context.Context, sessionID, persona string, version int) (*model.FeedbackDocument, error) {
	s.mu.RLock()
	data, ok := s.feedback[fmt.Sprintf("%s/%s/v%d", sessionID, persona, version)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var doc model.FeedbackDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *MemoryStore) ListFeedback(ctx context.Context, sessionID string, version int) ([]model.FeedbackDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []model.FeedbackDocument
	for key, data := range s.feedback {
		var doc model.FeedbackDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if doc.LessonVersion != version {
			continue
		}
		if key != fmt.Sprintf("%s/%s/v%d", sessionID, doc.Persona, version) {
			continue
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Persona < docs[j].Persona })
	return docs, nil
}

func (s *MemoryStore) PutPlan(ctx context.Context, plan *model.RevisionPlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	key := fmt.Sprintf("%s/v%d/r%d", plan.SessionID, plan.LessonVersion, plan.Revision)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[key]; ok {
		return fmt.Errorf("plan v%d r%d: %w", plan.LessonVersion, plan.Revision, ErrVersionExists)
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	s.plans[key] = data
	return nil
}

func (s *MemoryStore) GetPlan(ctx context.Context, sessionID string, version, revision int) (*model.RevisionPlan, error) {
	s.mu.RLock()
	data, ok := s.plans[fmt.Sprintf("%s/v%d/r%d", sessionID, version, revision)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var plan model.RevisionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *MemoryStore) LatestPlanRevision(ctx context.Context, sessionID string, version int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := -1
	prefix := fmt.Sprintf("%s/v%d/r", sessionID, version)
	for key := range s.plans {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if r, err := strconv.Atoi(key[len(prefix):]); err == nil && r > latest {
			latest = r
		}
	}
	return latest, nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits[rec.SessionID] = append(s.audits[rec.SessionID], rec)
	return nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, sessionID string) ([]model.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AuditRecord(nil), s.audits[sessionID]...), nil
}

func (s *MemoryStore) PutStatus(ctx context.Context, sessionID string, status model.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[sessionID] = status
	return nil
}

func (s *MemoryStore) GetStatus(ctx context.Context, sessionID string) (model.SessionStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if status, ok := s.statuses[sessionID]; ok {
		return status, nil
	}
	return model.SessionStatus{State: model.SessionActive}, nil
}
