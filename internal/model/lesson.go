package model

import (
	"fmt"
	"strings"
)

// CognitiveLevel tags an activity with its intended cognitive demand.
type CognitiveLevel string

const (
	CognitiveRetrieval     CognitiveLevel = "retrieval"
	CognitiveComprehension CognitiveLevel = "comprehension"
	CognitiveAnalysis      CognitiveLevel = "analysis"
	CognitiveUtilization   CognitiveLevel = "knowledge_utilization"
)

// cognitiveRank orders levels from lowest to highest demand.
var cognitiveRank = map[CognitiveLevel]int{
	CognitiveRetrieval:     1,
	CognitiveComprehension: 2,
	CognitiveAnalysis:      3,
	CognitiveUtilization:   4,
}

// Rank returns the ordering of the level, or 0 if unknown.
func (c CognitiveLevel) Rank() int {
	return cognitiveRank[c]
}

func (c CognitiveLevel) Valid() bool {
	_, ok := cognitiveRank[c]
	return ok
}

// MaxLessonMinutes bounds the total duration of a lesson design. Revisions
// that push the total past this bound fail lesson re-validation.
const MaxLessonMinutes = 120

// LessonDesign is the subject under evaluation: an ordered sequence of
// activities. Each version is immutable once written; revisions produce a new
// version, never an in-place edit.
type LessonDesign struct {
	SessionID  string     `json:"session_id"`
	Version    int        `json:"version"`
	Title      string     `json:"title"`
	Objective  string     `json:"objective"`
	Activities []Activity `json:"activities"`
}

type Activity struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	DurationMinutes int               `json:"duration_minutes"`
	CognitiveLevel  CognitiveLevel    `json:"cognitive_level"`
	Instructions    string            `json:"instructions"`
	Vocabulary      []VocabularyEntry `json:"vocabulary,omitempty"`
	Scaffolding     *Scaffolding      `json:"scaffolding,omitempty"`
	Assessment      *AssessmentSpec   `json:"assessment,omitempty"`
}

type VocabularyEntry struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
	Example    string `json:"example,omitempty"`
	VisualRef  string `json:"visual_ref,omitempty"`
}

type Scaffolding struct {
	SentenceFrames   []string `json:"sentence_frames,omitempty"`
	WordBank         []string `json:"word_bank,omitempty"`
	GraphicOrganizer string   `json:"graphic_organizer,omitempty"`
}

type AssessmentSpec struct {
	Format string           `json:"format"`
	Items  []AssessmentItem `json:"items,omitempty"`
}

type AssessmentItem struct {
	Prompt         string         `json:"prompt"`
	CognitiveLevel CognitiveLevel `json:"cognitive_level,omitempty"`
}

// TotalMinutes sums activity durations.
func (l *LessonDesign) TotalMinutes() int {
	total := 0
	for _, a := range l.Activities {
		total += a.DurationMinutes
	}
	return total
}

// Activity returns the activity with the given ID or name, nil if absent.
// Personas reference activities by name in implementation payloads, so lookup
// accepts either.
func (l *LessonDesign) Activity(ref string) *Activity {
	for i := range l.Activities {
		if l.Activities[i].ID == ref || l.Activities[i].Name == ref {
			return &l.Activities[i]
		}
	}
	return nil
}

// Validate checks the lesson design against its schema.
func (l *LessonDesign) Validate() error {
	if l.SessionID == "" {
		return invalid("lesson", "session_id", "required")
	}
	if l.Version < 1 {
		return invalid("lesson", "version", fmt.Sprintf("must be >= 1, got %d", l.Version))
	}
	if len(l.Activities) == 0 {
		return invalid("lesson", "activities", "at least one activity required")
	}

	seen := make(map[string]bool, len(l.Activities))
	for i, a := range l.Activities {
		field := fmt.Sprintf("activities[%d]", i)
		if a.ID == "" {
			return invalid("lesson", field+".id", "required")
		}
		if seen[a.ID] {
			return invalid("lesson", field+".id", fmt.Sprintf("duplicate activity id %q", a.ID))
		}
		seen[a.ID] = true
		if strings.TrimSpace(a.Name) == "" {
			return invalid("lesson", field+".name", "required")
		}
		if a.DurationMinutes <= 0 {
			return invalid("lesson", field+".duration_minutes", "must be positive")
		}
		if !a.CognitiveLevel.Valid() {
			return invalid("lesson", field+".cognitive_level", fmt.Sprintf("unknown level %q", a.CognitiveLevel))
		}
		for j, v := range a.Vocabulary {
			if strings.TrimSpace(v.Term) == "" {
				return invalid("lesson", fmt.Sprintf("%s.vocabulary[%d].term", field, j), "required")
			}
		}
	}

	if total := l.TotalMinutes(); total > MaxLessonMinutes {
		return invalid("lesson", "activities",
			fmt.Sprintf("total duration %d minutes exceeds limit of %d", total, MaxLessonMinutes))
	}

	return nil
}

// Clone returns a deep copy. The applier mutates the copy and persists it only
// when every handler succeeds, so the source version is never touched.
func (l *LessonDesign) Clone() *LessonDesign {
	out := *l
	out.Activities = make([]Activity, len(l.Activities))
	for i, a := range l.Activities {
		ac := a
		if len(a.Vocabulary) > 0 {
			ac.Vocabulary = append([]VocabularyEntry(nil), a.Vocabulary...)
		}
		if a.Scaffolding != nil {
			sc := *a.Scaffolding
			sc.SentenceFrames = append([]string(nil), a.Scaffolding.SentenceFrames...)
			sc.WordBank = append([]string(nil), a.Scaffolding.WordBank...)
			ac.Scaffolding = &sc
		}
		if a.Assessment != nil {
			as := *a.Assessment
			as.Items = append([]AssessmentItem(nil), a.Assessment.Items...)
			ac.Assessment = &as
		}
		out.Activities[i] = ac
	}
	return &out
}
