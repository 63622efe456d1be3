package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{envHTTPAddr, envMetricsAddr, envDataDir, envRetentionSeconds, envGrantBackend, envRedisURL, envLimitsConfigPath} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.HTTPAddr != defaultHTTPAddr {
		t.Fatalf("unexpected http addr: %s", cfg.HTTPAddr)
	}
	if cfg.Retention != defaultRetention {
		t.Fatalf("unexpected retention: %v", cfg.Retention)
	}
	if cfg.GrantBackend != "memory" {
		t.Fatalf("unexpected grant backend: %s", cfg.GrantBackend)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(envHTTPAddr, ":9999")
	t.Setenv(envRetentionSeconds, "60")
	t.Setenv(envGrantBackend, "redis")
	cfg := Load()
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("unexpected http addr: %s", cfg.HTTPAddr)
	}
	if cfg.Retention != 60*time.Second {
		t.Fatalf("unexpected retention: %v", cfg.Retention)
	}
	if cfg.GrantBackend != "redis" {
		t.Fatalf("unexpected grant backend: %s", cfg.GrantBackend)
	}
}

func TestLoadLimitsMissingFileFallsBack(t *testing.T) {
	cfg, err := LoadLimits(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing limits file should not error: %v", err)
	}
	if cfg.ForFamily("pdf").MaxInputBytes != 50<<20 {
		t.Fatalf("unexpected pdf ceiling: %d", cfg.ForFamily("pdf").MaxInputBytes)
	}
	if cfg.Timeout("image") != 60*time.Second {
		t.Fatalf("unexpected image timeout: %v", cfg.Timeout("image"))
	}
}

func TestLoadLimitsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	content := []byte("families:\n  pdf:\n    max_input_bytes: 1048576\n    execution_timeout_seconds: 30\nsweep:\n  interval_seconds: 60\n  max_age_seconds: 600\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write limits: %v", err)
	}
	cfg, err := LoadLimits(path)
	if err != nil {
		t.Fatalf("load limits: %v", err)
	}
	if cfg.ForFamily("pdf").MaxInputBytes != 1048576 {
		t.Fatalf("unexpected pdf ceiling: %d", cfg.ForFamily("pdf").MaxInputBytes)
	}
	if cfg.Sweep.IntervalSeconds != 60 {
		t.Fatalf("unexpected sweep interval: %d", cfg.Sweep.IntervalSeconds)
	}
	// Families absent from the file keep their defaults.
	if cfg.ForFamily("image").MaxInputBytes != 20<<20 {
		t.Fatalf("unexpected image ceiling: %d", cfg.ForFamily("image").MaxInputBytes)
	}
}

func TestLoadLimitsRejectsBadSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	content := []byte("families:\n  pdf:\n    max_input_bytes: -5\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write limits: %v", err)
	}
	if _, err := LoadLimits(path); err == nil {
		t.Fatalf("expected schema rejection")
	}
}

func TestForFamilyUnknownIsRestrictive(t *testing.T) {
	cfg := DefaultLimits()
	lim := cfg.ForFamily("video")
	if lim.MaxInputBytes != 1<<20 {
		t.Fatalf("unexpected fallback ceiling: %d", lim.MaxInputBytes)
	}
}
