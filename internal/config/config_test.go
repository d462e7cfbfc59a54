package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if len(cfg.Keywords) == 0 {
		t.Error("expected keywords to be populated")
	}
	if cfg.Source.RetryBase != time.Second {
		t.Errorf("expected retry_base 1s, got %v", cfg.Source.RetryBase)
	}
	if cfg.Scoring.Threshold != 60 {
		t.Errorf("expected threshold 60, got %d", cfg.Scoring.Threshold)
	}
	if cfg.Scheduler.IntervalMinutes != 30 {
		t.Errorf("expected interval 30, got %d", cfg.Scheduler.IntervalMinutes)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
scoring:
  provider: ollama
  model: qwen2.5:7b
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Scoring.Provider != "ollama" {
		t.Errorf("expected provider 'ollama', got %q", cfg.Scoring.Provider)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Scoring.MaxClassificationsPerCycle != 20 {
		t.Errorf("expected default max classifications, got %d", cfg.Scoring.MaxClassificationsPerCycle)
	}
	if cfg.Source.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.Source.MaxRetries)
	}
	if cfg.LLM.Ollama.URL != "http://localhost:11434" {
		t.Errorf("expected default ollama url, got %q", cfg.LLM.Ollama.URL)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.IntervalMinutes = 0
	cfg.Scoring.Threshold = 101
	cfg.Source.PageSize = 501
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"interval_minutes", "threshold", "page_size", "logging.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in error: %v", want, err)
		}
	}
}

func TestValidateIntervalBounds(t *testing.T) {
	tests := []struct {
		minutes int
		ok      bool
	}{
		{0, false},
		{1, true},
		{1440, true},
		{1441, false},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Scheduler.IntervalMinutes = tt.minutes
		if err := cfg.Validate(); (err == nil) != tt.ok {
			t.Errorf("interval %d: err=%v, want ok=%v", tt.minutes, err, tt.ok)
		}
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Source.Categories) == 0 {
		t.Error("expected categories to be populated from file")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("scheduler:\n  interval_minutes: 5000\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected error for out-of-range interval")
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	os.WriteFile(path, []byte("BIDSCOUT_TEST_A=from-file\nBIDSCOUT_TEST_B=from-file\n"), 0o644)

	t.Setenv("BIDSCOUT_TEST_A", "from-env")
	t.Setenv("BIDSCOUT_TEST_B", "")
	os.Unsetenv("BIDSCOUT_TEST_B")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := Secret("BIDSCOUT_TEST_A"); got != "from-env" {
		t.Errorf("existing variable overridden: %q", got)
	}
	if got := Secret("BIDSCOUT_TEST_B"); got != "from-file" {
		t.Errorf("expected value from .env, got %q", got)
	}
	os.Unsetenv("BIDSCOUT_TEST_B")
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Errorf("missing .env should not be an error: %v", err)
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected custom data dir, got %q", cfg.GetDataDir())
	}
	if cfg.DBPath() != filepath.Join("/custom/path", "bidscout.db") {
		t.Errorf("unexpected db path %q", cfg.DBPath())
	}
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}
