package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envPrefix+"CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Detection.HistoryCapacity != 10000 || cfg.Detection.ZThreshold != 3 || cfg.Detection.IQRMultiplier != 1.5 {
		t.Fatalf("unexpected detection defaults: %+v", cfg.Detection)
	}
	if cfg.Detection.DedupWindow != 10*time.Minute || cfg.Patterns.SyncInterval != 30*time.Minute {
		t.Fatalf("unexpected window defaults: %+v %+v", cfg.Detection, cfg.Patterns)
	}
	if !cfg.Patterns.LearningMode {
		t.Fatalf("learning mode should default on")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  httpAddress: ":9000"
detection:
  zThreshold: 4
  dedupWindow: 5m
patterns:
  learningMode: false
cache:
  enabled: true
  addr: "localhost:6379"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(envPrefix+"Z_THRESHOLD", "3.5")
	t.Setenv(envPrefix+"LEARNING_MODE", "true")
	t.Setenv(envPrefix+"CACHE_DB", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddress != ":9000" {
		t.Fatalf("file value not applied: %s", cfg.Server.HTTPAddress)
	}
	if cfg.Detection.DedupWindow != 5*time.Minute {
		t.Fatalf("dedup window = %s", cfg.Detection.DedupWindow)
	}
	if cfg.Detection.ZThreshold != 3.5 {
		t.Fatalf("env override not applied: %v", cfg.Detection.ZThreshold)
	}
	if !cfg.Patterns.LearningMode || cfg.Cache.DB != 3 || !cfg.Cache.Enabled {
		t.Fatalf("unexpected overrides: %+v %+v", cfg.Patterns, cfg.Cache)
	}
	if cfg.Detection.IQRMultiplier != 1.5 {
		t.Fatalf("defaults lost for unset keys: %v", cfg.Detection.IQRMultiplier)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
