package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ElementType discriminates implementation payloads. The set is closed: every
// type has exactly one payload struct and one mutation handler in the applier.
type ElementType string

const (
	ElementVocabulary         ElementType = "vocabulary"
	ElementScaffolding        ElementType = "scaffolding"
	ElementPacing             ElementType = "pacing"
	ElementInstructionClarity ElementType = "instruction_clarity"
	ElementAssessment         ElementType = "assessment"
	ElementOther              ElementType = "other"
)

var elementTypes = map[ElementType]bool{
	ElementVocabulary:         true,
	ElementScaffolding:        true,
	ElementPacing:             true,
	ElementInstructionClarity: true,
	ElementAssessment:         true,
	ElementOther:              true,
}

func (e ElementType) Valid() bool {
	return elementTypes[e]
}

// Implementation is a typed description of one concrete lesson change.
// Exactly one payload field is set, matching ElementType. An implementation
// with missing required payload fields is a contract violation, not a no-op.
type Implementation struct {
	ElementType ElementType `json:"element_type"`

	Vocabulary         *VocabularyChange         `json:"-"`
	Scaffolding        *ScaffoldingChange        `json:"-"`
	Pacing             *PacingChange             `json:"-"`
	InstructionClarity *InstructionClarityChange `json:"-"`
	Assessment         *AssessmentChange         `json:"-"`
	Other              *OtherChange              `json:"-"`
}

type VocabularyChange struct {
	ActivityRef string `json:"activity_ref"`
	Term        string `json:"term"`
	Definition  string `json:"definition"`
	Example     string `json:"example"`
	VisualRef   string `json:"visual_ref"`
}

type ScaffoldingChange struct {
	ActivityRef      string   `json:"activity_ref"`
	SentenceFrames   []string `json:"sentence_frames,omitempty"`
	WordBank         []string `json:"word_bank,omitempty"`
	GraphicOrganizer string   `json:"graphic_organizer,omitempty"`
}

type PacingChange struct {
	ActivityRef  string `json:"activity_ref"`
	DeltaMinutes int    `json:"delta_minutes"`
}

type InstructionClarityChange struct {
	ActivityRef         string `json:"activity_ref"`
	RevisedInstructions string `json:"revised_instructions"`
	ReadingLevelNote    string `json:"reading_level_note,omitempty"`
}

type AssessmentChange struct {
	ActivityRef string           `json:"activity_ref"`
	Format      string           `json:"format"`
	Items       []AssessmentItem `json:"items,omitempty"`
}

type OtherChange struct {
	ActivityRef string `json:"activity_ref"`
	Description string `json:"description"`
}

// implEnvelope is the flat wire form: element_type plus the payload fields of
// that type, all at the top level.
type implEnvelope struct {
	ElementType ElementType `json:"element_type"`

	// Union of all payload fields; only the discriminated subset is read.
	ActivityRef         string           `json:"activity_ref,omitempty"`
	Term                string           `json:"term,omitempty"`
	Definition          string           `json:"definition,omitempty"`
	Example             string           `json:"example,omitempty"`
	VisualRef           string           `json:"visual_ref,omitempty"`
	SentenceFrames      []string         `json:"sentence_frames,omitempty"`
	WordBank            []string         `json:"word_bank,omitempty"`
	GraphicOrganizer    string           `json:"graphic_organizer,omitempty"`
	DeltaMinutes        *int             `json:"delta_minutes,omitempty"`
	RevisedInstructions string           `json:"revised_instructions,omitempty"`
	ReadingLevelNote    string           `json:"reading_level_note,omitempty"`
	Format              string           `json:"format,omitempty"`
	Items               []AssessmentItem `json:"items,omitempty"`
	Description         string           `json:"description,omitempty"`
}

func (im Implementation) MarshalJSON() ([]byte, error) {
	env := implEnvelope{ElementType: im.ElementType}
	switch im.ElementType {
	case ElementVocabulary:
		if im.Vocabulary != nil {
			env.ActivityRef = im.Vocabulary.ActivityRef
			env.Term = im.Vocabulary.Term
			env.Definition = im.Vocabulary.Definition
			env.Example = im.Vocabulary.Example
			env.VisualRef = im.Vocabulary.VisualRef
		}
	case ElementScaffolding:
		if im.Scaffolding != nil {
			env.ActivityRef = im.Scaffolding.ActivityRef
			env.SentenceFrames = im.Scaffolding.SentenceFrames
			env.WordBank = im.Scaffolding.WordBank
			env.GraphicOrganizer = im.Scaffolding.GraphicOrganizer
		}
	case ElementPacing:
		if im.Pacing != nil {
			env.ActivityRef = im.Pacing.ActivityRef
			env.DeltaMinutes = &im.Pacing.DeltaMinutes
		}
	case ElementInstructionClarity:
		if im.InstructionClarity != nil {
			env.ActivityRef = im.InstructionClarity.ActivityRef
			env.RevisedInstructions = im.InstructionClarity.RevisedInstructions
			env.ReadingLevelNote = im.InstructionClarity.ReadingLevelNote
		}
	case ElementAssessment:
		if im.Assessment != nil {
			env.ActivityRef = im.Assessment.ActivityRef
			env.Format = im.Assessment.Format
			env.Items = im.Assessment.Items
		}
	case ElementOther:
		if im.Other != nil {
			env.ActivityRef = im.Other.ActivityRef
			env.Description = im.Other.Description
		}
	}
	return json.Marshal(env)
}

func (im *Implementation) UnmarshalJSON(data []byte) error {
	var env implEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	*im = Implementation{ElementType: env.ElementType}
	switch env.ElementType {
	case ElementVocabulary:
		im.Vocabulary = &VocabularyChange{
			ActivityRef: env.ActivityRef,
			Term:        env.Term,
			Definition:  env.Definition,
			Example:     env.Example,
			VisualRef:   env.VisualRef,
		}
	case ElementScaffolding:
		im.Scaffolding = &ScaffoldingChange{
			ActivityRef:      env.ActivityRef,
			SentenceFrames:   env.SentenceFrames,
			WordBank:         env.WordBank,
			GraphicOrganizer: env.GraphicOrganizer,
		}
	case ElementPacing:
		delta := 0
		if env.DeltaMinutes != nil {
			delta = *env.DeltaMinutes
		}
		im.Pacing = &PacingChange{ActivityRef: env.ActivityRef, DeltaMinutes: delta}
	case ElementInstructionClarity:
		im.InstructionClarity = &InstructionClarityChange{
			ActivityRef:         env.ActivityRef,
			RevisedInstructions: env.RevisedInstructions,
			ReadingLevelNote:    env.ReadingLevelNote,
		}
	case ElementAssessment:
		im.Assessment = &AssessmentChange{
			ActivityRef: env.ActivityRef,
			Format:      env.Format,
			Items:       env.Items,
		}
	case ElementOther:
		im.Other = &OtherChange{ActivityRef: env.ActivityRef, Description: env.Description}
	default:
		return invalid("implementation", "element_type", fmt.Sprintf("unknown type %q", env.ElementType))
	}
	return nil
}

// ActivityRef returns the activity the implementation targets.
func (im Implementation) ActivityRef() string {
	switch im.ElementType {
	case ElementVocabulary:
		if im.Vocabulary != nil {
			return im.Vocabulary.ActivityRef
		}
	case ElementScaffolding:
		if im.Scaffolding != nil {
			return im.Scaffolding.ActivityRef
		}
	case ElementPacing:
		if im.Pacing != nil {
			return im.Pacing.ActivityRef
		}
	case ElementInstructionClarity:
		if im.InstructionClarity != nil {
			return im.InstructionClarity.ActivityRef
		}
	case ElementAssessment:
		if im.Assessment != nil {
			return im.Assessment.ActivityRef
		}
	case ElementOther:
		if im.Other != nil {
			return im.Other.ActivityRef
		}
	}
	return ""
}

// TargetRef identifies the lesson location the implementation mutates.
// Vocabulary changes key on (activity, term) so two personas defining
// different terms in the same activity never collide.
func (im Implementation) TargetRef() string {
	if im.ElementType == ElementVocabulary && im.Vocabulary != nil {
		return im.Vocabulary.ActivityRef + "/" + strings.ToLower(im.Vocabulary.Term)
	}
	return im.ActivityRef()
}

// GroupKey combines element type and target. Implementations sharing a group
// key either merge (equal payloads) or conflict (differing payloads).
func (im Implementation) GroupKey() string {
	return string(im.ElementType) + "|" + im.TargetRef()
}

// Equal reports structural payload equality. Exact equality is the merge rule:
// near-identical wordings are deliberately treated as distinct (and therefore
// as conflicts when they share a target) so a human arbitrates, never a
// similarity heuristic.
func (im Implementation) Equal(other Implementation) bool {
	if im.ElementType != other.ElementType {
		return false
	}
	a, err := json.Marshal(im)
	if err != nil {
		return false
	}
	b, err := json.Marshal(other)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

// Validate checks the payload against its type's schema. Placeholder or
// missing payloads are defects.
func (im Implementation) Validate() error {
	if !im.ElementType.Valid() {
		return invalid("implementation", "element_type", fmt.Sprintf("unknown type %q", im.ElementType))
	}

	switch im.ElementType {
	case ElementVocabulary:
		v := im.Vocabulary
		if v == nil {
			return invalid("implementation", "vocabulary", "payload required")
		}
		if strings.TrimSpace(v.ActivityRef) == "" {
			return invalid("implementation", "vocabulary.activity_ref", "required")
		}
		if strings.TrimSpace(v.Term) == "" {
			return invalid("implementation", "vocabulary.term", "required")
		}
		if strings.TrimSpace(v.Definition) == "" {
			return invalid("implementation", "vocabulary.definition", "required")
		}
		if strings.TrimSpace(v.Example) == "" && strings.TrimSpace(v.VisualRef) == "" {
			return invalid("implementation", "vocabulary", "example or visual_ref required")
		}
	case ElementScaffolding:
		s := im.Scaffolding
		if s == nil {
			return invalid("implementation", "scaffolding", "payload required")
		}
		if strings.TrimSpace(s.ActivityRef) == "" {
			return invalid("implementation", "scaffolding.activity_ref", "required")
		}
		if len(s.SentenceFrames) == 0 && len(s.WordBank) == 0 && s.GraphicOrganizer == "" {
			return invalid("implementation", "scaffolding", "at least one aid required")
		}
	case ElementPacing:
		p := im.Pacing
		if p == nil {
			return invalid("implementation", "pacing", "payload required")
		}
		if strings.TrimSpace(p.ActivityRef) == "" {
			return invalid("implementation", "pacing.activity_ref", "required")
		}
		if p.DeltaMinutes == 0 {
			return invalid("implementation", "pacing.delta_minutes", "must be non-zero")
		}
	case ElementInstructionClarity:
		ic := im.InstructionClarity
		if ic == nil {
			return invalid("implementation", "instruction_clarity", "payload required")
		}
		if strings.TrimSpace(ic.ActivityRef) == "" {
			return invalid("implementation", "instruction_clarity.activity_ref", "required")
		}
		if strings.TrimSpace(ic.RevisedInstructions) == "" {
			return invalid("implementation", "instruction_clarity.revised_instructions", "required")
		}
	case ElementAssessment:
		a := im.Assessment
		if a == nil {
			return invalid("implementation", "assessment", "payload required")
		}
		if strings.TrimSpace(a.ActivityRef) == "" {
			return invalid("implementation", "assessment.activity_ref", "required")
		}
		if strings.TrimSpace(a.Format) == "" {
			return invalid("implementation", "assessment.format", "required")
		}
	case ElementOther:
		o := im.Other
		if o == nil {
			return invalid("implementation", "other", "payload required")
		}
		if strings.TrimSpace(o.ActivityRef) == "" {
			return invalid("implementation", "other.activity_ref", "required")
		}
		if strings.TrimSpace(o.Description) == "" {
			return invalid("implementation", "other.description", "required")
		}
	}
	return nil
}
