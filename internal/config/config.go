// Package config loads and validates service configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds everything the serve command needs. DatabaseURL empty means
// the in-memory ledger and artifact store are used, which is the mode unit
// tests and quick local runs rely on.
type Config struct {
	Port        int    `validate:"gt=0,lte=65535"`
	DatabaseURL string `validate:"omitempty,uri"`

	// Provider credentials
	AssemblyAIKey     string
	AssemblyAIBaseURL string `validate:"omitempty,url"`
	GeminiAPIKey      string
	FFmpegPath        string

	// Auth for the ingest/cancel surface
	IngestJWTSecret string

	// Pipeline tuning. Backoff and timeout numbers are deployment
	// concerns, not core constants.
	StageRetryLimit   int           `validate:"gte=0,lte=20"`
	StageTimeout      time.Duration `validate:"gt=0"`
	BackoffInitial    time.Duration `validate:"gt=0"`
	BackoffMax        time.Duration `validate:"gt=0"`
	WorkerPoolSize    int           `validate:"gt=0,lte=256"`
	VisibilityTimeout time.Duration `validate:"gt=0"`
}

// Load reads configuration from environment variables, applying defaults
// for everything optional.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              envInt("PORT", 8080),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		AssemblyAIKey:     os.Getenv("ASSEMBLYAI_API_KEY"),
		AssemblyAIBaseURL: envOr("ASSEMBLYAI_BASE_URL", "https://api.assemblyai.com"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		FFmpegPath:        envOr("FFMPEG_PATH", "ffmpeg"),
		IngestJWTSecret:   os.Getenv("INGEST_JWT_SECRET"),
		StageRetryLimit:   envInt("STAGE_RETRY_LIMIT", 3),
		StageTimeout:      envDuration("STAGE_TIMEOUT_SEC", 300*time.Second),
		BackoffInitial:    envDurationMs("RETRY_BACKOFF_INITIAL_MS", 500*time.Millisecond),
		BackoffMax:        envDuration("RETRY_BACKOFF_MAX_SEC", 60*time.Second),
		WorkerPoolSize:    envInt("WORKER_POOL_SIZE", 4),
		VisibilityTimeout: envDuration("CHANNEL_VISIBILITY_TIMEOUT_SEC", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and relationships between settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.BackoffInitial > c.BackoffMax {
		return fmt.Errorf("config error: RETRY_BACKOFF_INITIAL_MS exceeds RETRY_BACKOFF_MAX_SEC")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	n := envInt(key, 0)
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func envDurationMs(key string, def time.Duration) time.Duration {
	n := envInt(key, 0)
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
