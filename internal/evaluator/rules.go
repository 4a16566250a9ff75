package evaluator

import (
	"fmt"
	"strings"

	"lessonlab.app/studio/internal/model"
)

// finding is one rule hit: the concern text plus the concrete change proposal.
type finding struct {
	ActivityRef    string
	Issue          string
	Rationale      string
	Implementation model.Implementation
}

// checker evaluates one decision rule against a lesson. Checkers are pure:
// same lesson and rule always yield the same findings in the same order.
type checker func(lesson *model.LessonDesign, rule model.DecisionRule) []finding

// checkers maps every rule kind to its checker. The map is the extension
// point: a kind without a checker is rejected at persona load by
// model.RuleKind.Valid, and a checker without a kind is unreachable.
var checkers = map[model.RuleKind]checker{
	model.RuleVocabularyNoExample: checkVocabularyNoExample,
	model.RuleVocabularyNoVisual:  checkVocabularyNoVisual,
	model.RulePacingOverBudget:    checkPacingOverBudget,
	model.RulePacingUnderMinimum:  checkPacingUnderMinimum,
	model.RuleMissingScaffolding:  checkMissingScaffolding,
	model.RuleInstructionTooDense: checkInstructionTooDense,
	model.RuleMissingAssessment:   checkMissingAssessment,
	model.RuleCognitiveLevelJump:  checkCognitiveLevelJump,
}

const (
	defaultMaxActivityMinutes  = 25
	defaultMinActivityMinutes  = 5
	defaultMaxInstructionWords = 60
	defaultMaxCognitiveJump    = 1
	defaultAssessmentFormat    = "exit_ticket"
)

func checkVocabularyNoExample(lesson *model.LessonDesign, _ model.DecisionRule) []finding {
	var out []finding
	for _, a := range lesson.Activities {
		for _, v := range a.Vocabulary {
			if strings.TrimSpace(v.Example) != "" {
				continue
			}
			out = append(out, finding{
				ActivityRef: a.ID,
				Issue:       fmt.Sprintf("Term %q in %q is defined but never shown in use.", v.Term, a.Name),
				Rationale:   "A definition without a usage example stays abstract; students need to hear the term in a sentence before they are asked to produce it.",
				Implementation: model.Implementation{
					ElementType: model.ElementVocabulary,
					Vocabulary: &model.VocabularyChange{
						ActivityRef: a.ID,
						Term:        v.Term,
						Definition:  definitionOr(v),
						Example:     fmt.Sprintf("During %s, say: \"This is what %s looks like in practice.\"", a.Name, v.Term),
						VisualRef:   v.VisualRef,
					},
				},
			})
		}
	}
	return out
}

func checkVocabularyNoVisual(lesson *model.LessonDesign, _ model.DecisionRule) []finding {
	var out []finding
	for _, a := range lesson.Activities {
		for _, v := range a.Vocabulary {
			if strings.TrimSpace(v.VisualRef) != "" {
				continue
			}
			out = append(out, finding{
				ActivityRef: a.ID,
				Issue:       fmt.Sprintf("Term %q in %q has no visual support.", v.Term, a.Name),
				Rationale:   "Students still acquiring the language of instruction anchor new terms to images faster than to definitions alone.",
				Implementation: model.Implementation{
					ElementType: model.ElementVocabulary,
					Vocabulary: &model.VocabularyChange{
						ActivityRef: a.ID,
						Term:        v.Term,
						Definition:  definitionOr(v),
						Example:     v.Example,
						VisualRef:   "visuals/" + slug(v.Term) + ".png",
					},
				},
			})
		}
	}
	return out
}

func checkPacingOverBudget(lesson *model.LessonDesign, rule model.DecisionRule) []finding {
	max := rule.Params.MaxActivityMinutes
	if max <= 0 {
		max = defaultMaxActivityMinutes
	}
	var out []finding
	for _, a := range lesson.Activities {
		if a.DurationMinutes <= max {
			continue
		}
		out = append(out, finding{
			ActivityRef: a.ID,
			Issue:       fmt.Sprintf("%q runs %d minutes, past the %d-minute attention window.", a.Name, a.DurationMinutes, max),
			Rationale:   fmt.Sprintf("Sustained single-activity blocks past %d minutes lose the room; trimming keeps the segment inside one attention span.", max),
			Implementation: model.Implementation{
				ElementType: model.ElementPacing,
				Pacing: &model.PacingChange{
					ActivityRef:  a.ID,
					DeltaMinutes: max - a.DurationMinutes,
				},
			},
		})
	}
	return out
}

func checkPacingUnderMinimum(lesson *model.LessonDesign, rule model.DecisionRule) []finding {
	min := rule.Params.MinActivityMinutes
	if min <= 0 {
		min = defaultMinActivityMinutes
	}
	var out []finding
	for _, a := range lesson.Activities {
		if a.DurationMinutes >= min {
			continue
		}
		out = append(out, finding{
			ActivityRef: a.ID,
			Issue:       fmt.Sprintf("%q is only %d minutes; students barely start before it ends.", a.Name, a.DurationMinutes),
			Rationale:   fmt.Sprintf("Segments shorter than %d minutes do not leave time to settle in and produce anything; stretch it or fold it into a neighbor.", min),
			Implementation: model.Implementation{
				ElementType: model.ElementPacing,
				Pacing: &model.PacingChange{
					ActivityRef:  a.ID,
					DeltaMinutes: min - a.DurationMinutes,
				},
			},
		})
	}
	return out
}

func checkMissingScaffolding(lesson *model.LessonDesign, rule model.DecisionRule) []finding {
	var out []finding
	for _, a := range lesson.Activities {
		if a.CognitiveLevel.Rank() < model.CognitiveAnalysis.Rank() {
			continue
		}
		if a.Scaffolding != nil && (len(a.Scaffolding.SentenceFrames) > 0 || len(a.Scaffolding.WordBank) > 0 || a.Scaffolding.GraphicOrganizer != "") {
			continue
		}

		frames := rule.Params.SentenceFrames
		bank := rule.Params.WordBank
		if len(frames) == 0 && len(bank) == 0 {
			frames = []string{
				"I noticed ___ which makes me think ___.",
				"The evidence for ___ is ___.",
			}
		}

		out = append(out, finding{
			ActivityRef: a.ID,
			Issue:       fmt.Sprintf("%q asks for %s-level work with no language support.", a.Name, a.CognitiveLevel),
			Rationale:   "Higher-order tasks without sentence frames or a word bank shut out students who have the thinking but not yet the academic language for it.",
			Implementation: model.Implementation{
				ElementType: model.ElementScaffolding,
				Scaffolding: &model.ScaffoldingChange{
					ActivityRef:    a.ID,
					SentenceFrames: frames,
					WordBank:       bank,
				},
			},
		})
	}
	return out
}

func checkInstructionTooDense(lesson *model.LessonDesign, rule model.DecisionRule) []finding {
	max := rule.Params.MaxInstructionWords
	if max <= 0 {
		max = defaultMaxInstructionWords
	}
	var out []finding
	for _, a := range lesson.Activities {
		words := len(strings.Fields(a.Instructions))
		if words <= max {
			continue
		}
		out = append(out, finding{
			ActivityRef: a.ID,
			Issue:       fmt.Sprintf("Instructions for %q run %d words in a block; students lose the task before step one.", a.Name, words),
			Rationale:   fmt.Sprintf("Directions over %d words need to be chunked into numbered steps so each step carries one action.", max),
			Implementation: model.Implementation{
				ElementType: model.ElementInstructionClarity,
				InstructionClarity: &model.InstructionClarityChange{
					ActivityRef:         a.ID,
					RevisedInstructions: numberedSteps(a.Instructions),
					ReadingLevelNote:    fmt.Sprintf("Rewritten from a %d-word block into numbered single-action steps.", words),
				},
			},
		})
	}
	return out
}

func checkMissingAssessment(lesson *model.LessonDesign, rule model.DecisionRule) []finding {
	for _, a := range lesson.Activities {
		if a.Assessment != nil && a.Assessment.Format != "" {
			return nil
		}
	}

	format := rule.Params.AssessmentFormat
	if format == "" {
		format = defaultAssessmentFormat
	}
	last := lesson.Activities[len(lesson.Activities)-1]

	return []finding{{
		ActivityRef: last.ID,
		Issue:       "No activity checks whether the objective landed; the lesson ends without evidence of learning.",
		Rationale:   "Without a closing check there is nothing to reteach from tomorrow; even two prompts at the end surface who got it.",
		Implementation: model.Implementation{
			ElementType: model.ElementAssessment,
			Assessment: &model.AssessmentChange{
				ActivityRef: last.ID,
				Format:      format,
				Items: []model.AssessmentItem{
					{Prompt: fmt.Sprintf("In your own words: %s", lesson.Objective), CognitiveLevel: model.CognitiveComprehension},
					{Prompt: "What is one question you still have about today's work?"},
				},
			},
		},
	}}
}

func checkCognitiveLevelJump(lesson *model.LessonDesign, rule model.DecisionRule) []finding {
	maxJump := rule.Params.MaxCognitiveJump
	if maxJump <= 0 {
		maxJump = defaultMaxCognitiveJump
	}
	var out []finding
	for i := 1; i < len(lesson.Activities); i++ {
		prev, cur := lesson.Activities[i-1], lesson.Activities[i]
		jump := cur.CognitiveLevel.Rank() - prev.CognitiveLevel.Rank()
		if jump <= maxJump {
			continue
		}
		out = append(out, finding{
			ActivityRef: cur.ID,
			Issue:       fmt.Sprintf("%q jumps from %s straight to %s.", cur.Name, prev.CognitiveLevel, cur.CognitiveLevel),
			Rationale:   "Skipping intermediate cognitive work means students meet the hardest demand cold; a short bridging step rehearses the move first.",
			Implementation: model.Implementation{
				ElementType: model.ElementOther,
				Other: &model.OtherChange{
					ActivityRef: cur.ID,
					Description: fmt.Sprintf("Insert a short %s-level bridge before %q that rehearses the move from %q.", midLevel(prev.CognitiveLevel, cur.CognitiveLevel), cur.Name, prev.Name),
				},
			},
		})
	}
	return out
}

func definitionOr(v model.VocabularyEntry) string {
	if strings.TrimSpace(v.Definition) != "" {
		return v.Definition
	}
	return fmt.Sprintf("Student-friendly definition of %q (to be written by the teacher).", v.Term)
}

// numberedSteps splits a prose block into numbered steps at sentence
// boundaries. Deterministic mechanical rewrite; the teacher refines it through
// the approval gate's edit path.
func numberedSteps(instructions string) string {
	parts := strings.FieldsFunc(instructions, func(r rune) bool {
		return r == '.' || r == ';' || r == '\n'
	})
	var steps []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		steps = append(steps, fmt.Sprintf("%d. %s.", len(steps)+1, p))
	}
	if len(steps) == 0 {
		return instructions
	}
	return strings.Join(steps, "\n")
}

// midLevel picks the level one rank above from, toward to.
func midLevel(from, to model.CognitiveLevel) model.CognitiveLevel {
	target := from.Rank() + 1
	if target > to.Rank() {
		target = to.Rank()
	}
	for _, l := range []model.CognitiveLevel{
		model.CognitiveRetrieval, model.CognitiveComprehension,
		model.CognitiveAnalysis, model.CognitiveUtilization,
	} {
		if l.Rank() == target {
			return l
		}
	}
	return to
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '/':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
