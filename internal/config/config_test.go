package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type mapEnv map[string]string

func (m mapEnv) Getenv(key string) string { return m[key] }

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"MASTER_SECRET": "x"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 3000 {
		t.Fatalf("expected default port 3000, got %d", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("expected default gin mode release, got %q", cfg.GinMode)
	}
	if cfg.ReplayWindow != 5*time.Minute {
		t.Fatalf("expected default replay window 5m, got %v", cfg.ReplayWindow)
	}
	if cfg.MaxAttempts != 5 || cfg.BackoffBase != time.Second || cfg.BackoffCap != 60*time.Second {
		t.Fatalf("unexpected dispatch defaults: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	_, err := LoadConfigFromEnv(mapEnv{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{
		"MASTER_SECRET":  "x",
		"PORT":           "1234",
		"REDIS_ADDR":     "localhost:6379",
		"REDIS_DB":       "2",
		"REPLAY_WINDOW":  "90s",
		"MAX_ATTEMPTS":   "3",
		"NOTIFY_TIMEOUT": "2s",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 1234 {
		t.Fatalf("expected port 1234, got %d", cfg.Port)
	}
	if cfg.RedisAddr != "localhost:6379" || cfg.RedisDB != 2 {
		t.Fatalf("unexpected redis config: %+v", cfg)
	}
	if cfg.ReplayWindow != 90*time.Second || cfg.MaxAttempts != 3 || cfg.NotifyTimeout != 2*time.Second {
		t.Fatalf("unexpected dispatch overrides: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_InvalidValues(t *testing.T) {
	for name, env := range map[string]mapEnv{
		"port":         {"MASTER_SECRET": "x", "PORT": "notaport"},
		"maxAttempts":  {"MASTER_SECRET": "x", "MAX_ATTEMPTS": "0"},
		"replayWindow": {"MASTER_SECRET": "x", "REPLAY_WINDOW": "soon"},
	} {
		if _, err := LoadConfigFromEnv(env); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadConfigFromEnv_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardian.yaml")
	data := []byte("port: 4000\nredis_addr: redis:6379\nbackoff_base: 500ms\nsink_url: http://sink.local/notify\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfigFromEnv(mapEnv{"MASTER_SECRET": "x", "GUARDIAN_CONFIG": path})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 4000 || cfg.RedisAddr != "redis:6379" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.BackoffBase != 500*time.Millisecond || cfg.SinkURL != "http://sink.local/notify" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardian.yaml")
	if err := os.WriteFile(path, []byte("port: 4000\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfigFromEnv(mapEnv{"MASTER_SECRET": "x", "GUARDIAN_CONFIG": path, "PORT": "5000"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 5000 {
		t.Fatalf("expected env to win, got %d", cfg.Port)
	}
}
