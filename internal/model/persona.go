package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleKind is the closed set of decision-rule classifiers. Each kind has one
// registered checker in the evaluator; adding a persona dimension means adding
// a kind here and a checker there, both compile-time checked.
type RuleKind string

const (
	RuleVocabularyNoExample RuleKind = "vocabulary_no_example"
	RuleVocabularyNoVisual  RuleKind = "vocabulary_no_visual"
	RulePacingOverBudget    RuleKind = "pacing_over_budget"
	RulePacingUnderMinimum  RuleKind = "pacing_under_minimum"
	RuleMissingScaffolding  RuleKind = "missing_scaffolding"
	RuleInstructionTooDense RuleKind = "instruction_too_dense"
	RuleMissingAssessment   RuleKind = "missing_assessment"
	RuleCognitiveLevelJump  RuleKind = "cognitive_level_jump"
)

var ruleKinds = map[RuleKind]bool{
	RuleVocabularyNoExample: true,
	RuleVocabularyNoVisual:  true,
	RulePacingOverBudget:    true,
	RulePacingUnderMinimum:  true,
	RuleMissingScaffolding:  true,
	RuleInstructionTooDense: true,
	RuleMissingAssessment:   true,
	RuleCognitiveLevelJump:  true,
}

func (k RuleKind) Valid() bool {
	return ruleKinds[k]
}

// Persona is a fixed evaluation lens simulating one category of learner.
// Loaded from configuration, immutable at runtime.
type Persona struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Dimensions  []string       `yaml:"dimensions" json:"dimensions,omitempty"`
	Rules       []DecisionRule `yaml:"rules" json:"rules"`
}

// DecisionRule maps a lesson feature predicate to a concern template with a
// fixed severity and an implementation template the checker fills with
// lesson-specific values.
type DecisionRule struct {
	ID       string     `yaml:"id" json:"id"`
	Kind     RuleKind   `yaml:"kind" json:"kind"`
	Severity Severity   `yaml:"severity" json:"severity"`
	Params   RuleParams `yaml:"params" json:"params,omitempty"`
}

// RuleParams carries the per-rule thresholds and proposal material. Which
// fields a checker reads depends on the rule kind; unused fields are ignored.
type RuleParams struct {
	MaxActivityMinutes  int      `yaml:"max_activity_minutes,omitempty" json:"max_activity_minutes,omitempty"`
	MinActivityMinutes  int      `yaml:"min_activity_minutes,omitempty" json:"min_activity_minutes,omitempty"`
	MaxInstructionWords int      `yaml:"max_instruction_words,omitempty" json:"max_instruction_words,omitempty"`
	MaxCognitiveJump    int      `yaml:"max_cognitive_jump,omitempty" json:"max_cognitive_jump,omitempty"`
	DeltaMinutes        int      `yaml:"delta_minutes,omitempty" json:"delta_minutes,omitempty"`
	SentenceFrames      []string `yaml:"sentence_frames,omitempty" json:"sentence_frames,omitempty"`
	WordBank            []string `yaml:"word_bank,omitempty" json:"word_bank,omitempty"`
	AssessmentFormat    string   `yaml:"assessment_format,omitempty" json:"assessment_format,omitempty"`
}

// Validate checks the persona declaration. A persona must declare at least one
// decision rule to be usable as an evaluation lens.
func (p *Persona) Validate() error {
	if p.ID == "" {
		return invalid("persona", "id", "required")
	}
	if len(p.Rules) == 0 {
		return invalid("persona", "rules", "at least one decision rule required")
	}
	seen := make(map[string]bool, len(p.Rules))
	for i, r := range p.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		if r.ID == "" {
			return invalid("persona", field+".id", "required")
		}
		if seen[r.ID] {
			return invalid("persona", field+".id", fmt.Sprintf("duplicate rule id %q", r.ID))
		}
		seen[r.ID] = true
		if !r.Kind.Valid() {
			return invalid("persona", field+".kind", fmt.Sprintf("unknown rule kind %q", r.Kind))
		}
		if !r.Severity.Valid() {
			return invalid("persona", field+".severity", fmt.Sprintf("unknown severity %q", r.Severity))
		}
	}
	return nil
}

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadPersonas reads and validates persona definitions from a YAML file.
func LoadPersonas(path string) ([]Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading personas file: %w", err)
	}

	var file personaFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing personas file: %w", err)
	}
	if len(file.Personas) == 0 {
		return nil, invalid("persona", "personas", "file declares no personas")
	}

	seen := make(map[string]bool, len(file.Personas))
	for i := range file.Personas {
		p := &file.Personas[i]
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("persona %q: %w", p.ID, err)
		}
		if seen[p.ID] {
			return nil, invalid("persona", "id", fmt.Sprintf("duplicate persona id %q", p.ID))
		}
		seen[p.ID] = true
	}

	return file.Personas, nil
}
