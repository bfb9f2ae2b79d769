package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8000" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8000")
	}
	if cfg.SessionCapacity != 10 {
		t.Fatalf("SessionCapacity = %d, want 10", cfg.SessionCapacity)
	}
	if cfg.QuotaDefault != 100 {
		t.Fatalf("QuotaDefault = %d, want 100", cfg.QuotaDefault)
	}
	if cfg.TaskChannelPrefix != "generation_tasks" {
		t.Fatalf("TaskChannelPrefix = %q, want %q", cfg.TaskChannelPrefix, "generation_tasks")
	}
	if cfg.StreamPollInterval != 800*time.Millisecond {
		t.Fatalf("StreamPollInterval = %v, want 800ms", cfg.StreamPollInterval)
	}
	if cfg.RedisURL != "" {
		t.Fatalf("RedisURL = %q, want empty default", cfg.RedisURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("SESSION_MAX_PARTICIPANTS", "2")
	t.Setenv("STREAM_POLL_INTERVAL", "250ms")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SessionCapacity != 2 {
		t.Fatalf("SessionCapacity = %d, want 2", cfg.SessionCapacity)
	}
	if cfg.StreamPollInterval != 250*time.Millisecond {
		t.Fatalf("StreamPollInterval = %v, want 250ms", cfg.StreamPollInterval)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("RedisURL = %q, want explicit value", cfg.RedisURL)
	}
}

func TestLoadRejectsInvalidCapacity(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("SESSION_MAX_PARTICIPANTS", "0")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want capacity validation error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"DATABASE_URL",
		"REDIS_URL",
		"SESSION_MAX_PARTICIPANTS",
		"INVITE_TTL",
		"GENERATOR_HTTP_URL",
		"GENERATOR_TIMEOUT",
		"WORKER_IDLE_SLEEP",
		"STREAM_POLL_INTERVAL",
		"PROJECT_TASKS_REDIS_PREFIX",
		"USER_QUOTA_DEFAULT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
