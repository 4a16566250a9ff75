// Command studio is the one-shot pipeline runner: each subcommand executes a
// single stage in-process against the session store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"lessonlab.app/studio/common/id"
	"lessonlab.app/studio/common/llm"
	"lessonlab.app/studio/common/logger"
	"lessonlab.app/studio/core/config"
	"lessonlab.app/studio/internal/applier"
	"lessonlab.app/studio/internal/collab"
	"lessonlab.app/studio/internal/evaluator"
	"lessonlab.app/studio/internal/gate"
	"lessonlab.app/studio/internal/model"
	"lessonlab.app/studio/internal/orchestrator"
	"lessonlab.app/studio/internal/pipeline"
	"lessonlab.app/studio/internal/store"
	"lessonlab.app/studio/internal/synthesizer"
)

const usage = `usage: studio <command> [flags]

commands:
  generate    generate a lesson design from a competency (requires collaborator)
  evaluate    run the persona panel against a lesson version
  synthesize  build the revision plan from stored feedback
  decide      record an approval decision on a plan entry
  apply       apply the approved plan, producing the next lesson version
  validate    validate session artifacts (exit 0 ok, 1 warnings, 2 invalid)
  reset       reopen an escalated session
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeCLI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}
	logger.Setup(cfg)
	if err := id.Init(3); err != nil {
		fatal("failed to initialize id generator: %v", err)
	}

	app, err := newApp(ctx, cfg)
	if err != nil {
		fatal("%v", err)
	}

	switch os.Args[1] {
	case "generate":
		app.generate(ctx, os.Args[2:])
	case "evaluate":
		app.evaluate(ctx, os.Args[2:])
	case "synthesize":
		app.synthesize(ctx, os.Args[2:])
	case "decide":
		app.decide(ctx, os.Args[2:])
	case "apply":
		app.apply(ctx, os.Args[2:])
	case "validate":
		app.validate(ctx, os.Args[2:])
	case "reset":
		app.reset(ctx, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

type app struct {
	cfg          config.Config
	store        store.SessionStore
	runner       *pipeline.Runner
	gate         *gate.Gate
	collaborator collab.Collaborator
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	sessionStore, err := store.NewLocalStore(cfg.Session.RootDir)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	personas, err := model.LoadPersonas(cfg.Personas.Path)
	if err != nil {
		return nil, fmt.Errorf("loading personas: %w", err)
	}

	var collaborator collab.Collaborator
	feedbackLLM := newLLMClient(cfg.FeedbackLLM)
	lessonLLM := newLLMClient(cfg.LessonLLM)
	if feedbackLLM != nil || lessonLLM != nil {
		collaborator = collab.New(feedbackLLM, lessonLLM, collab.Config{
			Timeout:    cfg.LessonLLM.Timeout,
			MaxRetries: cfg.LessonLLM.MaxRetries,
			MaxTokens:  cfg.LessonLLM.MaxTokens,
		})
	}

	eval := evaluator.New(sessionStore, collaborator)
	runner := pipeline.NewRunner(
		sessionStore,
		orchestrator.New(eval, cfg.Session.MaxParallel),
		synthesizer.New(sessionStore),
		applier.New(sessionStore),
		personas,
		cfg.Session.MaxCycles,
	)

	return &app{
		cfg:          cfg,
		store:        sessionStore,
		runner:       runner,
		gate:         gate.New(sessionStore),
		collaborator: collaborator,
	}, nil
}

func newLLMClient(cfg config.LLMConfig) llm.Client {
	if !cfg.Enabled() {
		return nil
	}
	client, err := llm.New(llm.Config{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
	})
	if err != nil {
		slog.Warn("failed to create llm client", "error", err)
		return nil
	}
	return client
}

func (a *app) generate(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	session := fs.String("session", "", "session identifier")
	competency := fs.String("competency", "", "target competency")
	grade := fs.String("grade", "", "grade level")
	minutes := fs.Int("minutes", 60, "lesson duration in minutes")
	_ = fs.Parse(args)
	mustArg(fs, "session", *session)
	mustArg(fs, "competency", *competency)

	if a.collaborator == nil {
		fatal("generate requires a configured lesson collaborator")
	}

	lesson, err := a.collaborator.GenerateLesson(ctx, collab.LessonSpec{
		SessionID:       *session,
		Competency:      *competency,
		GradeLevel:      *grade,
		DurationMinutes: *minutes,
	})
	if err != nil {
		fatal("generating lesson: %v", err)
	}
	if err := a.store.PutLesson(ctx, lesson); err != nil {
		fatal("persisting lesson: %v", err)
	}
	fmt.Printf("lesson v%d written for session %s (%d activities)\n", lesson.Version, *session, len(lesson.Activities))
}

func (a *app) evaluate(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	session := fs.String("session", "", "session identifier")
	version := fs.Int("version", 0, "lesson version")
	persona := fs.String("persona", "", "evaluate a single persona")
	_ = fs.Parse(args)
	mustArg(fs, "session", *session)
	mustVersion(fs, *version)

	if *persona != "" {
		doc, err := a.runner.EvaluateOne(ctx, *session, *version, *persona)
		if err != nil {
			fatal("evaluating: %v", err)
		}
		fmt.Printf("persona %s: %d concerns, rating %d/5\n", doc.Persona, len(doc.Concerns), doc.OverallAssessment.Rating)
		return
	}

	docs, conflicts, err := a.runner.Evaluate(ctx, *session, *version)
	if err != nil {
		var incomplete *orchestrator.IncompleteEvaluationError
		if errors.As(err, &incomplete) {
			fmt.Fprintf(os.Stderr, "%d of %d personas completed; %v\n", len(docs), len(docs)+len(incomplete.Failed), err)
			os.Exit(1)
		}
		fatal("evaluating: %v", err)
	}
	for _, doc := range docs {
		fmt.Printf("persona %s: %d concerns, rating %d/5\n", doc.Persona, len(doc.Concerns), doc.OverallAssessment.Rating)
	}
	if len(conflicts) > 0 {
		fmt.Printf("%d conflict group(s) detected\n", len(conflicts))
	}
}

func (a *app) synthesize(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("synthesize", flag.ExitOnError)
	session := fs.String("session", "", "session identifier")
	version := fs.Int("version", 0, "lesson version")
	_ = fs.Parse(args)
	mustArg(fs, "session", *session)
	mustVersion(fs, *version)

	plan, err := a.runner.Synthesize(ctx, *session, *version)
	if err != nil {
		if errors.Is(err, pipeline.ErrSessionEscalated) && plan != nil {
			fmt.Fprintf(os.Stderr, "plan written, but: %v\n", err)
			os.Exit(1)
		}
		fatal("synthesizing: %v", err)
	}
	fmt.Printf("plan v%d r%d: %d entries, %d conflicts\n", plan.LessonVersion, plan.Revision, len(plan.Entries), len(plan.Conflicts))
}

func (a *app) decide(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("decide", flag.ExitOnError)
	session := fs.String("session", "", "session identifier")
	version := fs.Int("version", 0, "lesson version")
	entry := fs.String("entry", "", "plan entry id")
	action := fs.String("action", "", "approve, reject, or edit")
	replacementPath := fs.String("replacement", "", "path to replacement implementation JSON (edit only)")
	_ = fs.Parse(args)
	mustArg(fs, "session", *session)
	mustArg(fs, "entry", *entry)
	mustArg(fs, "action", *action)
	mustVersion(fs, *version)

	decision := gate.Decision{EntryID: *entry, Action: gate.Action(*action)}
	if *replacementPath != "" {
		raw, err := os.ReadFile(*replacementPath)
		if err != nil {
			fatal("reading replacement: %v", err)
		}
		var impl model.Implementation
		if err := json.Unmarshal(raw, &impl); err != nil {
			fatal("parsing replacement: %v", err)
		}
		decision.Replacement = &impl
	}

	plan, err := a.gate.Decide(ctx, *session, *version, []gate.Decision{decision})
	if err != nil {
		fatal("recording decision: %v", err)
	}
	fmt.Printf("plan r%d: entry %s %s, %d pending, apply-ready=%t\n",
		plan.Revision, *entry, plan.Entry(*entry).Status, len(plan.PendingIDs()), plan.ApplyReady())
}

func (a *app) apply(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	session := fs.String("session", "", "session identifier")
	version := fs.Int("version", 0, "lesson version")
	actor := fs.String("actor", "", "who approved this apply")
	_ = fs.Parse(args)
	mustArg(fs, "session", *session)
	mustArg(fs, "actor", *actor)
	mustVersion(fs, *version)

	lesson, record, err := a.runner.Apply(ctx, *session, *version, *actor)
	if err != nil {
		fatal("applying: %v", err)
	}
	fmt.Printf("lesson v%d written (%d applied, %d rejected), audit %s\n",
		lesson.Version, len(record.AppliedEntryIDs), len(record.RejectedEntryIDs), record.ID)
}

// validate checks the session's artifacts for the given version.
// Exit codes: 0 valid, 1 valid with warnings, 2 invalid.
func (a *app) validate(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	session := fs.String("session", "", "session identifier")
	version := fs.Int("version", 0, "lesson version")
	_ = fs.Parse(args)
	mustArg(fs, "session", *session)
	mustVersion(fs, *version)

	lesson, err := a.store.GetLesson(ctx, *session, *version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lesson v%d: %v\n", *version, err)
		os.Exit(2)
	}
	if err := lesson.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "lesson v%d invalid: %v\n", *version, err)
		os.Exit(2)
	}

	warnings := 0
	docs, err := a.store.ListFeedback(ctx, *session, *version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "feedback: %v\n", err)
		os.Exit(2)
	}
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "feedback %s invalid: %v\n", doc.Persona, err)
			os.Exit(2)
		}
		if len(doc.Diagnostics) > 0 {
			fmt.Printf("warning: feedback %s has %d diagnostics\n", doc.Persona, len(doc.Diagnostics))
			warnings++
		}
	}

	if revision, err := a.store.LatestPlanRevision(ctx, *session, *version); err == nil && revision >= 0 {
		plan, err := a.store.GetPlan(ctx, *session, *version, revision)
		if err != nil {
			fmt.Fprintf(os.Stderr, "plan r%d: %v\n", revision, err)
			os.Exit(2)
		}
		if err := plan.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "plan r%d invalid: %v\n", revision, err)
			os.Exit(2)
		}
		if len(plan.Conflicts) > 0 && !plan.ApplyReady() {
			fmt.Printf("warning: plan r%d has %d unresolved conflict group(s)\n", revision, len(plan.Conflicts))
			warnings++
		}
	}

	if warnings > 0 {
		fmt.Printf("valid with %d warning(s)\n", warnings)
		os.Exit(1)
	}
	fmt.Println("valid")
}

func (a *app) reset(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	session := fs.String("session", "", "session identifier")
	_ = fs.Parse(args)
	mustArg(fs, "session", *session)

	if err := a.runner.Reset(ctx, *session); err != nil {
		fatal("resetting session: %v", err)
	}
	fmt.Printf("session %s reopened\n", *session)
}

func mustArg(fs *flag.FlagSet, name, value string) {
	if value == "" {
		fmt.Fprintf(os.Stderr, "-%s is required\n", name)
		fs.Usage()
		os.Exit(2)
	}
}

func mustVersion(fs *flag.FlagSet, version int) {
	if version < 1 {
		fmt.Fprintln(os.Stderr, "-version must be a positive lesson version")
		fs.Usage()
		os.Exit(2)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}
