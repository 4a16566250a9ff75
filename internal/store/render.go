package store

import (
	"fmt"
	"sort"
	"strings"

	"lessonlab.app/studio/internal/model"
)

// RenderPlanMarkdown produces the human-readable companion to a revision plan
// artifact. Approvers read this; the JSON is what the pipeline consumes.
func RenderPlanMarkdown(plan *model.RevisionPlan) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Revision Plan: lesson v%d (revision %d)\n\n", plan.LessonVersion, plan.Revision)
	fmt.Fprintf(&b, "Session: %s\n\n", plan.SessionID)

	if len(plan.Conflicts) > 0 {
		b.WriteString("## Conflicts requiring arbitration\n\n")
		for _, c := range plan.Conflicts {
			fmt.Fprintf(&b, "- **%s** on `%s`: %s (entries %s)\n",
				c.ElementType, c.TargetRef, c.Description, strings.Join(c.EntryIDs, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Entries\n\n")
	for _, e := range plan.Entries {
		marker := ""
		if e.Conflicted {
			marker = " ⚠ conflicted"
		}
		fmt.Fprintf(&b, "### %s [%s] %s%s\n\n", e.ID, e.Priority, e.Status, marker)
		fmt.Fprintf(&b, "- Element: `%s`, target: `%s`\n",
			e.Implementation.ElementType, e.Implementation.TargetRef())
		fmt.Fprintf(&b, "- Raised by: %s\n", strings.Join(e.PersonaSource, ", "))

		personas := make([]string, 0, len(e.Rationales))
		for p := range e.Rationales {
			personas = append(personas, p)
		}
		sort.Strings(personas)
		for _, p := range personas {
			fmt.Fprintf(&b, "- %s: %s\n", p, e.Rationales[p])
		}
		b.WriteString("\n")
	}

	return b.String()
}
