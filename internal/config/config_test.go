package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.WindowSeconds != 600 || cfg.OverlapSeconds != 60 {
		t.Errorf("window/overlap = %g/%g, want 600/60", cfg.WindowSeconds, cfg.OverlapSeconds)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.MaxRetries)
	}
	if cfg.ContextTailLines != 20 {
		t.Errorf("ContextTailLines = %d, want 20", cfg.ContextTailLines)
	}
	if cfg.Validation.MinCoveragePercent != 60 || cfg.Validation.MaxGapSeconds != 120 || cfg.Validation.Strict {
		t.Errorf("unexpected validation defaults %+v", cfg.Validation)
	}
	if len(cfg.Models.Fallbacks) != 3 || cfg.Models.Fallbacks[0] != "gemini-2.5-flash" {
		t.Errorf("Fallbacks = %v", cfg.Models.Fallbacks)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
window_seconds: 300
overlap_seconds: 30
max_retries: 1
validation:
  strict: true
models:
  preferred: gemini-2.5-pro
  fallbacks: ["gemini-2.5-flash"]
output:
  formats: [txt, json]
cache_dir: /tmp/ls-cache
`
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WindowSeconds != 300 || cfg.OverlapSeconds != 30 || cfg.MaxRetries != 1 {
		t.Errorf("unexpected timing values %+v", cfg)
	}
	if !cfg.Validation.Strict {
		t.Error("Strict should be true")
	}
	if cfg.Validation.MaxGapSeconds != 120 {
		t.Errorf("unset field should keep default, got %g", cfg.Validation.MaxGapSeconds)
	}
	if got := cfg.ModelList(); len(got) != 2 || got[0] != "gemini-2.5-pro" || got[1] != "gemini-2.5-flash" {
		t.Errorf("ModelList = %v", got)
	}
	if strings.Join(cfg.Output.Formats, ",") != "txt,json" {
		t.Errorf("Formats = %v", cfg.Output.Formats)
	}
	if cfg.CacheDir != "/tmp/ls-cache" {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("cache_dir: ~/ls\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if want := filepath.Join(home, "ls"); cfg.CacheDir != want {
		t.Errorf("CacheDir = %q, want %q", cfg.CacheDir, want)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("window_seconds: [oops\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}

func TestLoadOrDefault_MissingDefaultFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.WindowSeconds != 600 {
		t.Errorf("expected defaults, got window %g", cfg.WindowSeconds)
	}
	if _, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("explicit missing path should be an error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero window", func(c *Config) { c.WindowSeconds = 0 }, "window_seconds must be > 0"},
		{"overlap equals window", func(c *Config) { c.OverlapSeconds = c.WindowSeconds }, "must be smaller than window_seconds"},
		{"negative overlap", func(c *Config) { c.OverlapSeconds = -1 }, "overlap_seconds must be >= 0"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "max_retries"},
		{"coverage out of range", func(c *Config) { c.Validation.MinCoveragePercent = 120 }, "min_coverage_percent"},
		{"no models", func(c *Config) { c.Models.Preferred = ""; c.Models.Fallbacks = []string{" "} }, "at least one model"},
		{"unknown format", func(c *Config) { c.Output.Formats = []string{"md", "docx"} }, `unknown output format "docx"`},
		{"no formats", func(c *Config) { c.Output.Formats = nil }, "output.formats"},
		{"no cache dir", func(c *Config) { c.CacheDir = "" }, "cache_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.errMsg)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error should wrap ErrInvalid: %v", err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, "secret")
	t.Setenv(EnvModel, "gemini-2.5-pro")
	t.Setenv(EnvWindow, "450")
	t.Setenv(EnvOverlap, "45")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Gemini.APIKey != "secret" {
		t.Error("API key not applied")
	}
	if cfg.Models.Preferred != "gemini-2.5-pro" || cfg.ModelList()[0] != "gemini-2.5-pro" {
		t.Errorf("preferred model not applied: %v", cfg.ModelList())
	}
	if cfg.WindowSeconds != 450 || cfg.OverlapSeconds != 45 {
		t.Errorf("window/overlap = %g/%g", cfg.WindowSeconds, cfg.OverlapSeconds)
	}

	t.Setenv(EnvWindow, "ten minutes")
	if err := Default().ApplyEnv(); err == nil {
		t.Error("expected parse error for non-numeric window")
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("GEMINI_API_KEY=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvAPIKey, "")
	os.Unsetenv(EnvAPIKey)
	if err := LoadEnvFiles(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnvFiles: %v", err)
	}
	if got := os.Getenv(EnvAPIKey); got != "from-dotenv" {
		t.Errorf("GEMINI_API_KEY = %q, want from-dotenv", got)
	}

	// Variables already set win over the file.
	t.Setenv(EnvAPIKey, "from-shell")
	if err := LoadEnvFiles(envPath); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv(EnvAPIKey); got != "from-shell" {
		t.Errorf("GEMINI_API_KEY = %q, want from-shell", got)
	}
}
