package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"lessonlab.app/studio/internal/model"
)

const (
	auditFilename  = "audit_log.jsonl"
	statusFilename = "session_status.json"

	// MaxArtifactSize bounds a single JSON artifact.
	MaxArtifactSize = 2 * 1024 * 1024 // 2MB
)

var sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// LocalStore implements SessionStore on the local filesystem. One directory
// per session; all writes are atomic (temp file then rename); the audit log
// is a single append-only JSONL file.
type LocalStore struct {
	rootDir string

	// Serializes audit appends within this process. Cross-process appends
	// rely on O_APPEND semantics for whole-line writes.
	auditMu sync.Mutex
}

// NewLocalStore creates a LocalStore rooted at the given directory.
func NewLocalStore(rootDir string) (*LocalStore, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("session root directory is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session root directory: %w", err)
	}
	return &LocalStore{rootDir: rootDir}, nil
}

func lessonFilename(version int) string {
	return fmt.Sprintf("lesson_v%d.json", version)
}

func feedbackFilename(persona string, version int) string {
	return fmt.Sprintf("feedback_%s_v%d.json", persona, version)
}

func planFilename(version, revision int) string {
	if revision == 0 {
		return fmt.Sprintf("revision_plan_v%d.json", version)
	}
	return fmt.Sprintf("revision_plan_v%d.r%d.json", version, revision)
}

func planRenderFilename(version int) string {
	return fmt.Sprintf("revision_plan_v%d.md", version)
}

func (s *LocalStore) PutLesson(ctx context.Context, lesson *model.LessonDesign) error {
	if err := lesson.Validate(); err != nil {
		return err
	}
	dir, err := s.sessionDir(lesson.SessionID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, lessonFilename(lesson.Version))
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("lesson v%d: %w", lesson.Version, ErrVersionExists)
	}
	return s.writeJSON(path, lesson)
}

func (s *LocalStore) GetLesson(ctx context.Context, sessionID string, version int) (*model.LessonDesign, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	var lesson model.LessonDesign
	if err := s.readJSON(filepath.Join(dir, lessonFilename(version)), &lesson); err != nil {
		return nil, err
	}
	return &lesson, nil
}

func (s *LocalStore) LatestLessonVersion(ctx context.Context, sessionID string) (int, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return 0, err
	}
	latest := 0
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("listing session dir: %w", err)
	}
	for _, e := range entries {
		var v int
		if n, _ := fmt.Sscanf(e.Name(), "lesson_v%d.json", &v); n == 1 && v > latest {
			if strings.HasSuffix(e.Name(), ".json") {
				latest = v
			}
		}
	}
	return latest, nil
}

func (s *LocalStore) PutFeedback(ctx context.Context, sessionID string, doc *model.FeedbackDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return err
	}
	return s.writeJSON(filepath.Join(dir, feedbackFilename(doc.Persona, doc.LessonVersion)), doc)
}

func (s *LocalStore) GetFeedback(ctx context.Context, sessionID, persona string, version int) (*model.FeedbackDocument, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	var doc model.FeedbackDocument
	if err := s.readJSON(filepath.Join(dir, feedbackFilename(persona, version)), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *LocalStore) ListFeedback(ctx context.Context, sessionID string, version int) ([]model.FeedbackDocument, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing session dir: %w", err)
	}

	suffix := fmt.Sprintf("_v%d.json", version)
	var docs []model.FeedbackDocument
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "feedback_") || !strings.HasSuffix(name, suffix) {
			continue
		}
		var doc model.FeedbackDocument
		if err := s.readJSON(filepath.Join(dir, name), &doc); err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		if doc.LessonVersion == version {
			docs = append(docs, doc)
		}
	}

	// Stable order regardless of directory listing order.
	sort.Slice(docs, func(i, j int) bool { return docs[i].Persona < docs[j].Persona })
	return docs, nil
}

func (s *LocalStore) PutPlan(ctx context.Context, plan *model.RevisionPlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	dir, err := s.sessionDir(plan.SessionID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, planFilename(plan.LessonVersion, plan.Revision))
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("plan v%d r%d: %w", plan.LessonVersion, plan.Revision, ErrVersionExists)
	}
	if err := s.writeJSON(path, plan); err != nil {
		return err
	}

	// Human-readable rendering tracks the latest revision; best effort.
	rendered := RenderPlanMarkdown(plan)
	_ = s.writeRaw(filepath.Join(dir, planRenderFilename(plan.LessonVersion)), []byte(rendered))

	return nil
}

func (s *LocalStore) GetPlan(ctx context.Context, sessionID string, version, revision int) (*model.RevisionPlan, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	var plan model.RevisionPlan
	if err := s.readJSON(filepath.Join(dir, planFilename(version, revision)), &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *LocalStore) LatestPlanRevision(ctx context.Context, sessionID string, version int) (int, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return -1, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return -1, nil
		}
		return -1, fmt.Errorf("listing session dir: %w", err)
	}

	latest := -1
	base := fmt.Sprintf("revision_plan_v%d.json", version)
	revPrefix := fmt.Sprintf("revision_plan_v%d.r", version)
	for _, e := range entries {
		name := e.Name()
		if name == base {
			if latest < 0 {
				latest = 0
			}
			continue
		}
		if strings.HasPrefix(name, revPrefix) && strings.HasSuffix(name, ".json") {
			var r int
			if n, _ := fmt.Sscanf(name[len(revPrefix):], "%d.json", &r); n == 1 && r > latest {
				latest = r
			}
		}
	}
	return latest, nil
}

func (s *LocalStore) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	dir, err := s.sessionDir(rec.SessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	line = append(line, '\n')

	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	f, err := os.OpenFile(filepath.Join(dir, auditFilename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}
	return nil
}

func (s *LocalStore) ListAudit(ctx context.Context, sessionID string) ([]model.AuditRecord, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, auditFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	var records []model.AuditRecord
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var rec model.AuditRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parsing audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *LocalStore) PutStatus(ctx context.Context, sessionID string, status model.SessionStatus) error {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return err
	}
	return s.writeJSON(filepath.Join(dir, statusFilename), status)
}

func (s *LocalStore) GetStatus(ctx context.Context, sessionID string) (model.SessionStatus, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return model.SessionStatus{}, err
	}
	var status model.SessionStatus
	if err := s.readJSON(filepath.Join(dir, statusFilename), &status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.SessionStatus{State: model.SessionActive}, nil
		}
		return model.SessionStatus{}, err
	}
	return status, nil
}

func (s *LocalStore) sessionDir(sessionID string) (string, error) {
	if !sessionIDRegex.MatchString(sessionID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSession, sessionID)
	}
	return filepath.Join(s.rootDir, sessionID), nil
}

// writeJSON marshals v and writes it atomically.
func (s *LocalStore) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	if len(data) > MaxArtifactSize {
		return fmt.Errorf("artifact %s exceeds maximum size", filepath.Base(path))
	}
	return s.writeRaw(path, data)
}

// writeRaw writes to a temp file then renames, so readers never observe a
// partially written artifact.
func (s *LocalStore) writeRaw(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing temp artifact: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming artifact: %w", err)
	}
	return nil
}

func (s *LocalStore) readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("reading artifact: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}
