package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"lessonlab.app/studio/common/id"
	"lessonlab.app/studio/common/llm"
	"lessonlab.app/studio/common/logger"
	"lessonlab.app/studio/common/otel"
	"lessonlab.app/studio/core/config"
	"lessonlab.app/studio/internal/applier"
	"lessonlab.app/studio/internal/collab"
	"lessonlab.app/studio/internal/evaluator"
	"lessonlab.app/studio/internal/model"
	"lessonlab.app/studio/internal/orchestrator"
	"lessonlab.app/studio/internal/pipeline"
	"lessonlab.app/studio/internal/queue"
	"lessonlab.app/studio/internal/store"
	"lessonlab.app/studio/internal/synthesizer"
	"lessonlab.app/studio/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "studio worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// Different node ID than the server so snowflake IDs never collide.
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	sessionStore, err := store.NewLocalStore(cfg.Session.RootDir)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open session store", "error", err)
		os.Exit(1)
	}

	personas, err := model.LoadPersonas(cfg.Personas.Path)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load personas", "error", err, "path", cfg.Personas.Path)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "personas loaded", "count", len(personas))

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    1, // One pipeline task at a time
		Block:        5 * time.Second,
		MaxAttempts:  3,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	runner := buildRunner(ctx, cfg, sessionStore, personas)
	processor := pipeline.NewProcessor(runner)

	w := worker.New(consumer, processor, worker.Config{MaxAttempts: 3})
	reclaimer := worker.NewReclaimer(redisClient, worker.ReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, processor)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.InfoContext(ctx, "shutting down...")
		w.Stop()
		reclaimer.Stop()
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker exited with error", "error", err)
		}
	}

	if telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "shutdown complete")
}

func buildRunner(ctx context.Context, cfg config.Config, sessionStore store.SessionStore, personas []model.Persona) *pipeline.Runner {
	var collaborator collab.Collaborator
	feedbackLLM := newLLMClient(ctx, cfg.FeedbackLLM, "feedback")
	lessonLLM := newLLMClient(ctx, cfg.LessonLLM, "lesson")
	if feedbackLLM != nil || lessonLLM != nil {
		collaborator = collab.New(feedbackLLM, lessonLLM, collab.Config{
			Timeout:    cfg.FeedbackLLM.Timeout,
			MaxRetries: cfg.FeedbackLLM.MaxRetries,
			MaxTokens:  cfg.FeedbackLLM.MaxTokens,
		})
	}

	eval := evaluator.New(sessionStore, collaborator)
	orch := orchestrator.New(eval, cfg.Session.MaxParallel)
	synth := synthesizer.New(sessionStore)
	app := applier.New(sessionStore)

	return pipeline.NewRunner(sessionStore, orch, synth, app, personas, cfg.Session.MaxCycles)
}

// newLLMClient returns nil when the role is not configured; the pipeline then
// runs with deterministic fallbacks.
func newLLMClient(ctx context.Context, cfg config.LLMConfig, role string) llm.Client {
	if !cfg.Enabled() {
		slog.InfoContext(ctx, "collaborator role not configured, using deterministic fallback", "role", role)
		return nil
	}
	client, err := llm.New(llm.Config{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to create llm client, using deterministic fallback", "role", role, "error", err)
		return nil
	}
	return client
}
