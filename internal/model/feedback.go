package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity grades a concern.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// UnmarshalJSON normalizes case and whitespace; collaborator output is not
// trusted to be canonical.
func (s *Severity) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}

	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("severity must be a string: %w", err)
	}

	*s = Severity(strings.ToLower(strings.TrimSpace(raw)))
	return nil
}

// FeedbackDocument is one persona's structured critique of one lesson version.
// Created once by the evaluator; never mutated, only superseded.
type FeedbackDocument struct {
	Persona           string            `json:"persona"`
	LessonVersion     int               `json:"lesson_version"`
	OverallAssessment OverallAssessment `json:"overall_assessment"`
	Concerns          []Concern         `json:"concerns"`
	Diagnostics       []string          `json:"diagnostics,omitempty"`
	GeneratedAt       time.Time         `json:"generated_at"`
}

type OverallAssessment struct {
	Summary string `json:"summary"`
	Rating  int    `json:"rating"` // 1 (unworkable) to 5 (ready as-is)
}

type Concern struct {
	ID             string         `json:"id"`
	Severity       Severity       `json:"severity"`
	ActivityRef    string         `json:"activity_ref"`
	Issue          string         `json:"issue"`
	Recommendation Recommendation `json:"recommendation"`
}

type Recommendation struct {
	Rationale      string         `json:"rationale"`
	Implementation Implementation `json:"implementation"`
}

// Validate checks the document and every concern's implementation payload.
func (f *FeedbackDocument) Validate() error {
	if f.Persona == "" {
		return invalid("feedback", "persona", "required")
	}
	if f.LessonVersion < 1 {
		return invalid("feedback", "lesson_version", "must be >= 1")
	}
	if f.OverallAssessment.Rating < 1 || f.OverallAssessment.Rating > 5 {
		return invalid("feedback", "overall_assessment.rating", "must be between 1 and 5")
	}
	for i, c := range f.Concerns {
		field := fmt.Sprintf("concerns[%d]", i)
		if c.ID == "" {
			return invalid("feedback", field+".id", "required")
		}
		if !c.Severity.Valid() {
			return invalid("feedback", field+".severity", fmt.Sprintf("unknown severity %q", c.Severity))
		}
		if c.ActivityRef == "" {
			return invalid("feedback", field+".activity_ref", "required")
		}
		if strings.TrimSpace(c.Recommendation.Rationale) == "" {
			return invalid("feedback", field+".recommendation.rationale", "required")
		}
		if err := c.Recommendation.Implementation.Validate(); err != nil {
			return fmt.Errorf("%s.recommendation: %w", field, err)
		}
	}
	return nil
}
