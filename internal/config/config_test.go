package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "DATABASE_URL", "REDIS_URL", "LOG_LEVEL", "GRAPHDESK_LOCK_TTL_SECONDS"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" {
		t.Fatalf("expected in-memory defaults, got %+v", cfg)
	}
	if cfg.LockTTL != 30*time.Second {
		t.Fatalf("LockTTL = %v", cfg.LockTTL)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.UserProperties != nil {
		t.Fatalf("UserProperties = %v", cfg.UserProperties)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("GRAPHDESK_ACCESS_TTL_SECONDS", "60")
	t.Setenv("GRAPHDESK_LOCK_TTL_SECONDS", "not-a-number")
	t.Setenv("LOG_FORMAT", "Console")
	t.Setenv("MEILI_URL", "http://localhost:7700")
	t.Setenv("GRAPHDESK_USER_PROPERTIES", " http://graphdesk.io#name, ,http://graphdesk.io#age")

	cfg := Load()
	if cfg.Addr != ":9000" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.AccessTTL != time.Minute {
		t.Fatalf("AccessTTL = %v", cfg.AccessTTL)
	}
	if cfg.LockTTL != 30*time.Second {
		t.Fatalf("an unparseable value falls back, got %v", cfg.LockTTL)
	}
	if cfg.LogFormat != "console" {
		t.Fatalf("LogFormat = %q", cfg.LogFormat)
	}
	if cfg.MeiliURL != "http://localhost:7700" || cfg.MeiliAPIKey != "" {
		t.Fatalf("Meili = %q / %q", cfg.MeiliURL, cfg.MeiliAPIKey)
	}
	if len(cfg.UserProperties) != 2 || cfg.UserProperties[0] != "http://graphdesk.io#name" || cfg.UserProperties[1] != "http://graphdesk.io#age" {
		t.Fatalf("UserProperties = %v", cfg.UserProperties)
	}
}
