package collab

import (
	"fmt"
	"strings"
)

const assessmentSystemPrompt = `You are a reviewer embodying a specific classroom stakeholder persona. You are given a lesson design and the results of a structured evaluation run for your persona. Write an overall assessment of the lesson from that persona's point of view.

Ground every claim in the evaluation results you were given. Do not invent concerns that the evaluation did not surface, and do not soften concerns it did. The rating reflects readiness: 5 means the lesson works for this persona as written, 1 means it is unworkable without major revision.`

const lessonSystemPrompt = `You are an experienced instructional designer. Produce a complete lesson design for the competency, grade level, and duration you are given.

Requirements:
- Every activity has a unique id, a name, a positive duration in minutes, a cognitive level (retrieval, comprehension, analysis, or knowledge_utilization), and student-facing instructions.
- Activity durations sum to at most the requested lesson duration.
- Sequence cognitive levels so students build up rather than jump straight to the most demanding work.
- Include vocabulary terms, scaffolding, and an assessment where the competency calls for them.`

func buildAssessmentPrompt(req AssessmentRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Persona\n%s: %s\n", req.Persona.Name, req.Persona.Description)
	if len(req.Persona.Dimensions) > 0 {
		fmt.Fprintf(&b, "Cares about: %s\n", strings.Join(req.Persona.Dimensions, ", "))
	}

	fmt.Fprintf(&b, "\n## Lesson\nTitle: %s\nObjective: %s\nActivities:\n", req.Lesson.Title, req.Lesson.Objective)
	for _, a := range req.Lesson.Activities {
		fmt.Fprintf(&b, "- %s (%d min, %s): %s\n", a.Name, a.DurationMinutes, a.CognitiveLevel, a.Instructions)
	}

	fmt.Fprintf(&b, "\n## Evaluation results\nConcerns raised: %d (%d high severity)\n", req.ConcernCount, req.HighCount)
	if len(req.Diagnostics) > 0 {
		fmt.Fprintf(&b, "Checks that could not run: %s\n", strings.Join(req.Diagnostics, "; "))
	}

	b.WriteString("\nWrite the overall assessment.")
	return b.String()
}

func buildLessonPrompt(spec LessonSpec) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Competency: %s\n", spec.Competency)
	if spec.GradeLevel != "" {
		fmt.Fprintf(&b, "Grade level: %s\n", spec.GradeLevel)
	}
	fmt.Fprintf(&b, "Lesson duration: %d minutes\n", spec.DurationMinutes)
	b.WriteString("\nDesign the lesson.")
	return b.String()
}
