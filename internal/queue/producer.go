package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	Enqueue(ctx context.Context, task Task) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, task Task) error {
	if task.TaskType == "" {
		return fmt.Errorf("task type is required")
	}
	if task.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	attempt := task.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"task_type":      string(task.TaskType),
		"session_id":     task.SessionID,
		"lesson_version": task.LessonVersion,
		"attempt":        attempt,
	}
	if task.Persona != "" {
		fields["persona"] = task.Persona
	}
	if task.Actor != "" {
		fields["actor"] = task.Actor
	}
	if task.TraceID != nil && *task.TraceID != "" {
		fields["trace_id"] = *task.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued pipeline task",
		"task_type", task.TaskType,
		"session_id", task.SessionID,
		"lesson_version", task.LessonVersion,
		"attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
