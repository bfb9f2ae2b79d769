package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the collaboration backend.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string
	RedisURL    string

	// Live collaboration.
	SessionCapacity int
	InviteTTL       time.Duration

	// Generation pipeline.
	GeneratorURL     string
	GeneratorTimeout time.Duration
	WorkerIdleSleep  time.Duration

	// Task status streaming.
	StreamPollInterval time.Duration
	TaskChannelPrefix  string

	// Quota guard.
	QuotaDefault int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "codevoice"),
		AllowAnyOrigin:   false,
		DatabaseURL:      envTrimmed("DATABASE_URL"),
		RedisURL:         envTrimmed("REDIS_URL"),
		SessionCapacity:  10,
		InviteTTL:        24 * time.Hour,
		GeneratorURL:     envTrimmed("GENERATOR_HTTP_URL"),
		// The external pipeline owns its own deadline; this only bounds the HTTP
		// adapter's transport, not the worker loop.
		GeneratorTimeout:   30 * time.Minute,
		WorkerIdleSleep:    200 * time.Millisecond,
		StreamPollInterval: 800 * time.Millisecond,
		TaskChannelPrefix:  envOrDefault("PROJECT_TASKS_REDIS_PREFIX", "generation_tasks"),
		QuotaDefault:       100,
		ShutdownTimeout:    15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GeneratorTimeout, err = durationFromEnv("GENERATOR_TIMEOUT", cfg.GeneratorTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerIdleSleep, err = durationFromEnv("WORKER_IDLE_SLEEP", cfg.WorkerIdleSleep)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamPollInterval, err = durationFromEnv("STREAM_POLL_INTERVAL", cfg.StreamPollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.InviteTTL, err = durationFromEnv("INVITE_TTL", cfg.InviteTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionCapacity, err = intFromEnv("SESSION_MAX_PARTICIPANTS", cfg.SessionCapacity)
	if err != nil {
		return Config{}, err
	}
	cfg.QuotaDefault, err = intFromEnv("USER_QUOTA_DEFAULT", cfg.QuotaDefault)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionCapacity <= 0 {
		return Config{}, fmt.Errorf("SESSION_MAX_PARTICIPANTS must be positive")
	}
	if cfg.QuotaDefault <= 0 {
		return Config{}, fmt.Errorf("USER_QUOTA_DEFAULT must be positive")
	}
	if cfg.WorkerIdleSleep < 10*time.Millisecond {
		return Config{}, fmt.Errorf("WORKER_IDLE_SLEEP must be at least 10ms")
	}
	if cfg.StreamPollInterval < 100*time.Millisecond {
		return Config{}, fmt.Errorf("STREAM_POLL_INTERVAL must be at least 100ms")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
