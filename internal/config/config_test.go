package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("BORESIGHT_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8420 {
		t.Fatalf("expected default port 8420, got %d", cfg.Server.Port)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"server":{"port":9000,"telescope_port":4040,"long_poll_max":"5s"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Setenv("BORESIGHT_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Server.TelescopePort != 4040 {
		t.Fatalf("expected overridden ports, got %+v", cfg.Server)
	}
	// fields not present in the override file keep their defaults.
	if cfg.Solve.DesiredStarCount != 20 {
		t.Fatalf("expected default solve settings to survive a partial override, got %d", cfg.Solve.DesiredStarCount)
	}
}

func TestFrameAndTelescopeAddr(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.FrameAddr(); got != ":8420" {
		t.Fatalf("expected :8420, got %s", got)
	}
	if got := cfg.TelescopeAddr(); got != ":4030" {
		t.Fatalf("expected :4030, got %s", got)
	}
}

func TestMaxExposureDurationFallsBackOnBadValue(t *testing.T) {
	cfg := defaultConfig()
	cfg.Solve.MaxExposure = "not-a-duration"
	if got := cfg.MaxExposureDuration(); got.Seconds() != 2 {
		t.Fatalf("expected 2s fallback, got %v", got)
	}
}

func TestLongPollMaxDurationFallsBackOnBadValue(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.LongPollMax = "bogus"
	if got := cfg.LongPollMaxDuration(); got.Seconds() != 10 {
		t.Fatalf("expected 10s fallback, got %v", got)
	}
}
