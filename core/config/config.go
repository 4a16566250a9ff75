package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        string
	OTel        OTelConfig
	Session     SessionConfig
	Pipeline    PipelineConfig
	Personas    PersonasConfig
	FeedbackLLM LLMConfig
	LessonLLM   LLMConfig
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

// SessionConfig controls the session artifact store and the revision loop.
type SessionConfig struct {
	RootDir     string // Root directory for session artifacts
	MaxCycles   int    // Evaluate→revise cycles before human escalation
	MaxParallel int    // Concurrent persona evaluations per panel run
}

// PipelineConfig holds the Redis stream settings for the task queue.
type PipelineConfig struct {
	RedisURL       string
	RedisStream    string
	RedisGroup     string
	RedisDLQStream string
	RedisConsumer  string
}

// PersonasConfig points at the persona definition file.
type PersonasConfig struct {
	Path string
}

// LLMConfig configures one collaborator role (feedback narrative or lesson
// content generation).
type LLMConfig struct {
	Provider   string // "openai" or "anthropic"
	APIKey     string
	BaseURL    string // Optional: for custom endpoints
	Model      string
	MaxTokens  int
	Timeout    time.Duration // Per-call deadline for collaborator requests
	MaxRetries int           // Bounded retries on retryable failures
}

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeWorker ServiceType = "worker"
	ServiceTypeCLI    ServiceType = "cli"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files
// (.env.server / .env.worker), falling back to .env.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("STUDIO_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	cfg := Config{
		Env:  getEnv("STUDIO_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "studio"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Session: SessionConfig{
			RootDir:     getEnv("SESSION_ROOT_DIR", "./sessions"),
			MaxCycles:   getEnvInt("SESSION_MAX_CYCLES", 3),
			MaxParallel: getEnvInt("SESSION_MAX_PARALLEL", 4),
		},
		Pipeline: PipelineConfig{
			RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			RedisStream:    getEnv("REDIS_STREAM", "studio_tasks"),
			RedisGroup:     getEnv("REDIS_CONSUMER_GROUP", "studio_group"),
			RedisDLQStream: getEnv("REDIS_DLQ_STREAM", "studio_tasks_dlq"),
			RedisConsumer:  getEnv("REDIS_CONSUMER_NAME", "studio-worker"),
		},
		Personas: PersonasConfig{
			Path: getEnv("PERSONAS_PATH", "./personas.yaml"),
		},
		FeedbackLLM: LLMConfig{
			Provider:   getEnv("FEEDBACK_LLM_PROVIDER", "openai"),
			APIKey:     getEnv("FEEDBACK_LLM_API_KEY", ""),
			BaseURL:    getEnv("FEEDBACK_LLM_BASE_URL", ""),
			Model:      getEnv("FEEDBACK_LLM_MODEL", "gpt-4o-mini"),
			MaxTokens:  getEnvInt("FEEDBACK_LLM_MAX_TOKENS", 2048),
			Timeout:    getEnvDuration("FEEDBACK_LLM_TIMEOUT", 60*time.Second),
			MaxRetries: getEnvInt("FEEDBACK_LLM_MAX_RETRIES", 2),
		},
		LessonLLM: LLMConfig{
			Provider:   getEnv("LESSON_LLM_PROVIDER", "openai"),
			APIKey:     getEnv("LESSON_LLM_API_KEY", ""),
			BaseURL:    getEnv("LESSON_LLM_BASE_URL", ""),
			Model:      getEnv("LESSON_LLM_MODEL", "gpt-4o"),
			MaxTokens:  getEnvInt("LESSON_LLM_MAX_TOKENS", 8192),
			Timeout:    getEnvDuration("LESSON_LLM_TIMEOUT", 120*time.Second),
			MaxRetries: getEnvInt("LESSON_LLM_MAX_RETRIES", 2),
		},
	}

	if cfg.Session.RootDir == "" {
		return Config{}, fmt.Errorf("SESSION_ROOT_DIR is required")
	}
	if cfg.Session.MaxCycles < 1 {
		return Config{}, fmt.Errorf("SESSION_MAX_CYCLES must be at least 1")
	}
	if cfg.Session.MaxParallel < 1 {
		return Config{}, fmt.Errorf("SESSION_MAX_PARALLEL must be at least 1")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && (c.Provider == "openai" || c.Provider == "anthropic")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
