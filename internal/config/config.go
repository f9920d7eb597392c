// Package config loads longscribe settings from a YAML file, .env files and
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tiroq/longscribe/internal/transcript"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every error Validate returns.
var ErrInvalid = errors.New("invalid configuration")

// Environment variables read by ApplyEnv.
const (
	EnvAPIKey    = "GEMINI_API_KEY"
	EnvModel     = "LONGSCRIBE_MODEL"
	EnvCacheDir  = "LONGSCRIBE_CACHE_DIR"
	EnvOutputDir = "LONGSCRIBE_OUTPUT_DIR"
	EnvBaseURL   = "LONGSCRIBE_GEMINI_BASE_URL"
	EnvWindow    = "LONGSCRIBE_WINDOW_SECONDS"
	EnvOverlap   = "LONGSCRIBE_OVERLAP_SECONDS"
)

// Config holds all run configuration.
type Config struct {
	WindowSeconds    float64          `yaml:"window_seconds"`
	OverlapSeconds   float64          `yaml:"overlap_seconds"`
	MaxRetries       int              `yaml:"max_retries"`
	ContextTailLines int              `yaml:"context_tail_lines"`
	TrailingSeconds  float64          `yaml:"trailing_seconds"`
	Validation       ValidationConfig `yaml:"validation"`
	Models           ModelConfig      `yaml:"models"`
	Gemini           GeminiConfig     `yaml:"gemini"`
	Context          ContextConfig    `yaml:"context"`
	Output           OutputConfig     `yaml:"output"`
	CacheDir         string           `yaml:"cache_dir"`
	FFmpeg           string           `yaml:"ffmpeg"`
	FFprobe          string           `yaml:"ffprobe"`
	Notify           bool             `yaml:"notify"`
}

// ValidationConfig holds the chunk validation policy.
type ValidationConfig struct {
	MinCoveragePercent float64 `yaml:"min_coverage_percent"`
	MaxGapSeconds      float64 `yaml:"max_gap_seconds"`
	Strict             bool    `yaml:"strict"`
}

// ModelConfig lists the models tried for every completion.
type ModelConfig struct {
	Preferred      string   `yaml:"preferred"`
	Fallbacks      []string `yaml:"fallbacks"`
	BackoffSeconds float64  `yaml:"backoff_seconds"`
	Temperature    float32  `yaml:"temperature"`
}

// GeminiConfig configures the completion service client.
type GeminiConfig struct {
	APIKey              string  `yaml:"api_key"`
	BaseURL             string  `yaml:"base_url"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
	PollIntervalSeconds float64 `yaml:"poll_interval_seconds"`
	MaxPolls            int     `yaml:"max_polls"`
}

// ContextConfig controls content-context synthesis.
type ContextConfig struct {
	Enabled       bool    `yaml:"enabled"`
	SampleSeconds float64 `yaml:"sample_seconds"`
	FrameCount    int     `yaml:"frame_count"`
}

// OutputConfig controls where and how transcripts are written.
type OutputConfig struct {
	Dir     string   `yaml:"dir"` // empty: next to the input
	Formats []string `yaml:"formats"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "longscribe")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultCacheDir returns the default cache root.
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "longscribe")
	}
	return filepath.Join(os.TempDir(), "longscribe")
}

// Default returns a Config with the default values.
func Default() *Config {
	return &Config{
		WindowSeconds:    600,
		OverlapSeconds:   60,
		MaxRetries:       2,
		ContextTailLines: 20,
		TrailingSeconds:  3,
		Validation: ValidationConfig{
			MinCoveragePercent: 60,
			MaxGapSeconds:      120,
		},
		Models: ModelConfig{
			Fallbacks:      []string{"gemini-2.5-flash", "gemini-2.5-flash-lite", "gemini-2.0-flash"},
			BackoffSeconds: 1,
		},
		Gemini: GeminiConfig{
			TimeoutSeconds:      300,
			PollIntervalSeconds: 2,
			MaxPolls:            60,
		},
		Context: ContextConfig{
			Enabled:       true,
			SampleSeconds: 120,
			FrameCount:    3,
		},
		Output: OutputConfig{
			Formats: []string{"md", "srt"},
		},
		CacheDir: DefaultCacheDir(),
		FFmpeg:   "ffmpeg",
		FFprobe:  "ffprobe",
	}
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults. A leading ~ in paths is expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.expandPaths()
	return cfg, nil
}

// LoadOrDefault loads path, or the default config path when path is empty.
// A missing default file yields Default(); a missing explicit file is an
// error.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg, err := Load(DefaultConfigPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles loads KEY=value pairs from the given .env files into the
// process environment without overriding variables already set. Missing
// files are skipped. With no arguments ".env" in the working directory is
// tried.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides config values from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Models.Preferred = v
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.CacheDir = expandTilde(v)
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.Output.Dir = expandTilde(v)
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Gemini.BaseURL = v
	}
	for name, dst := range map[string]*float64{EnvWindow: &c.WindowSeconds, EnvOverlap: &c.OverlapSeconds} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = f
	}
	return nil
}

// ModelList returns the preferred model followed by the fallbacks, without
// duplicates.
func (c *Config) ModelList() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range append([]string{c.Models.Preferred}, c.Models.Fallbacks...) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("%w: window_seconds must be > 0, got %g", ErrInvalid, c.WindowSeconds)
	}
	if c.OverlapSeconds < 0 {
		return fmt.Errorf("%w: overlap_seconds must be >= 0, got %g", ErrInvalid, c.OverlapSeconds)
	}
	if c.OverlapSeconds >= c.WindowSeconds {
		return fmt.Errorf("%w: overlap_seconds (%g) must be smaller than window_seconds (%g)", ErrInvalid, c.OverlapSeconds, c.WindowSeconds)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0, got %d", ErrInvalid, c.MaxRetries)
	}
	if c.ContextTailLines < 0 {
		return fmt.Errorf("%w: context_tail_lines must be >= 0, got %d", ErrInvalid, c.ContextTailLines)
	}
	if c.Validation.MinCoveragePercent < 0 || c.Validation.MinCoveragePercent > 100 {
		return fmt.Errorf("%w: validation.min_coverage_percent must be within 0..100, got %g", ErrInvalid, c.Validation.MinCoveragePercent)
	}
	if c.Validation.MaxGapSeconds <= 0 {
		return fmt.Errorf("%w: validation.max_gap_seconds must be > 0", ErrInvalid)
	}
	if len(c.ModelList()) == 0 {
		return fmt.Errorf("%w: at least one model must be configured", ErrInvalid)
	}
	if c.Models.BackoffSeconds < 0 {
		return fmt.Errorf("%w: models.backoff_seconds must be >= 0", ErrInvalid)
	}
	if c.Context.FrameCount < 0 {
		return fmt.Errorf("%w: context.frame_count must be >= 0", ErrInvalid)
	}
	if len(c.Output.Formats) == 0 {
		return fmt.Errorf("%w: output.formats must not be empty", ErrInvalid)
	}
	for _, f := range c.Output.Formats {
		if !transcript.IsFormat(f) {
			return fmt.Errorf("%w: unknown output format %q (want one of %s)", ErrInvalid, f, strings.Join(transcript.Formats, ", "))
		}
	}
	if c.CacheDir == "" {
		return fmt.Errorf("%w: cache_dir must not be empty", ErrInvalid)
	}
	return nil
}

func (c *Config) expandPaths() {
	c.CacheDir = expandTilde(c.CacheDir)
	c.Output.Dir = expandTilde(c.Output.Dir)
	c.FFmpeg = expandTilde(c.FFmpeg)
	c.FFprobe = expandTilde(c.FFprobe)
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
