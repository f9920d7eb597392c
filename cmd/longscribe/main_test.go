package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tiroq/longscribe/internal/config"
	"github.com/tiroq/longscribe/internal/ipc"
)

// isolate points HOME at a temp dir and clears env overrides.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("XDG_CONFIG_HOME", "")
	for _, k := range []string{config.EnvAPIKey, config.EnvModel, config.EnvCacheDir, config.EnvOutputDir,
		config.EnvBaseURL, config.EnvWindow, config.EnvOverlap} {
		t.Setenv(k, "")
	}
	return home
}

func TestDispatch_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := dispatch([]string{"version"}, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit code = %d, want %d", code, exitOK)
	}
	if got := stdout.String(); got != "longscribe "+Version+"\n" {
		t.Errorf("version output = %q", got)
	}
}

func TestDispatch_NoArgsPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := dispatch(nil, &stdout, &stderr); code != exitUsage {
		t.Fatalf("exit code = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr.String(), "usage:") {
		t.Errorf("expected usage on stderr, got %q", stderr.String())
	}
}

func TestDispatch_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := dispatch([]string{"help"}, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "longscribe stop") {
		t.Errorf("help output missing subcommands: %q", stdout.String())
	}
}

func TestStop_WritesCommand(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	if code := dispatch([]string{"stop", dir}, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}

	cmd, err := ipc.ReadCommand(dir)
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if cmd != ipc.CmdStop {
		t.Errorf("command = %q, want %q", cmd, ipc.CmdStop)
	}
	if !strings.Contains(stdout.String(), "Stop requested") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestStop_MissingTarget(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	missing := filepath.Join(t.TempDir(), "nope.mp3")
	if code := dispatch([]string{"stop", missing}, &stdout, &stderr); code != exitFatal {
		t.Fatalf("exit code = %d, want %d", code, exitFatal)
	}
	if !strings.Contains(stderr.String(), "ERROR: Cannot locate run") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestStatus_PrintsSnapshot(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	st := &ipc.RunStatus{
		RunID:         "run-1",
		Phase:         ipc.PhaseTranscribing,
		TotalWindows:  4,
		WindowsDone:   2,
		CachedWindows: 1,
		FailedWindows: []int{1},
		Segments:      17,
		Model:         "gemini-2.5-flash",
		LastAction:    "window 3/4",
		Timestamp:     time.Now(),
	}
	if err := ipc.WriteStatus(dir, st); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if code := dispatch([]string{"status", dir}, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}
	want := "transcribing 2/4 windows (50%), 1 cached, 1 failed, 17 segments, model gemini-2.5-flash: window 3/4\n"
	if got := stdout.String(); got != want {
		t.Errorf("status output =\n%q\nwant\n%q", got, want)
	}
}

func TestStatus_NoRun(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	if code := dispatch([]string{"status", t.TempDir()}, &stdout, &stderr); code != exitFatal {
		t.Fatalf("exit code = %d, want %d", code, exitFatal)
	}
	if !strings.Contains(stderr.String(), "No run recorded") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	audio := filepath.Join(dir, "talk.mp3")
	if err := os.WriteFile(audio, []byte("not really audio"), 0644); err != nil {
		t.Fatal(err)
	}
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"overlap not below window", []string{"-window", "30", "-overlap", "30", audio}, "overlap_seconds"},
		{"unknown format", []string{"-formats", "md,docx", audio}, "unknown output format"},
		{"unsupported input", []string{notes}, "Cannot transcribe"},
		{"missing api key", []string{audio}, "No API key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := dispatch(append([]string{"run"}, tt.args...), &stdout, &stderr); code != exitConfig {
				t.Fatalf("exit code = %d, want %d; stderr: %s", code, exitConfig, stderr.String())
			}
			if !strings.Contains(stderr.String(), tt.wantErr) {
				t.Errorf("stderr %q does not mention %q", stderr.String(), tt.wantErr)
			}
		})
	}
}

func TestRun_RequiresOneInput(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	if code := dispatch([]string{"run"}, &stdout, &stderr); code != exitUsage {
		t.Fatalf("exit code = %d, want %d", code, exitUsage)
	}
}

func TestBuildConfig_FlagsOverrideFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "window_seconds: 300\noverlap_seconds: 30\nmodels:\n  preferred: from-file\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	var stderr bytes.Buffer
	f, rest, err := parseRunFlags([]string{"talk.mp4", "-config", cfgPath, "-model", "gemini-2.5-pro",
		"-formats", "srt, json", "-max-retries", "0", "-no-context", "-force"}, &stderr)
	if err != nil {
		t.Fatalf("parseRunFlags: %v", err)
	}
	if len(rest) != 1 || rest[0] != "talk.mp4" {
		t.Fatalf("positional args = %v", rest)
	}
	if !f.force {
		t.Error("expected -force after the positional argument to be parsed")
	}

	cfg, err := buildConfig(f)
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}
	if cfg.WindowSeconds != 300 || cfg.OverlapSeconds != 30 {
		t.Errorf("window/overlap = %g/%g, want file values 300/30", cfg.WindowSeconds, cfg.OverlapSeconds)
	}
	if cfg.Models.Preferred != "gemini-2.5-pro" {
		t.Errorf("preferred model = %q", cfg.Models.Preferred)
	}
	if got := strings.Join(cfg.Output.Formats, ","); got != "srt,json" {
		t.Errorf("formats = %q", got)
	}
	if cfg.MaxRetries != 0 {
		t.Errorf("max retries = %d, want 0", cfg.MaxRetries)
	}
	if cfg.Context.Enabled {
		t.Error("context should be disabled by -no-context")
	}
}

func TestBuildConfig_ZeroOverlapDisablesOverlap(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("overlap_seconds: 30\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var stderr bytes.Buffer
	f, _, err := parseRunFlags([]string{"-config", cfgPath, "-overlap", "0", "talk.mp4"}, &stderr)
	if err != nil {
		t.Fatalf("parseRunFlags: %v", err)
	}
	cfg, err := buildConfig(f)
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}
	if cfg.OverlapSeconds != 0 {
		t.Errorf("overlap = %g, want 0", cfg.OverlapSeconds)
	}

	f, _, err = parseRunFlags([]string{"-config", cfgPath, "talk.mp4"}, &stderr)
	if err != nil {
		t.Fatalf("parseRunFlags: %v", err)
	}
	if cfg, err = buildConfig(f); err != nil {
		t.Fatalf("buildConfig: %v", err)
	}
	if cfg.OverlapSeconds != 30 {
		t.Errorf("overlap without flag = %g, want file value 30", cfg.OverlapSeconds)
	}
}

func TestResolveCacheDir(t *testing.T) {
	home := isolate(t)
	dir := t.TempDir()
	if got, err := resolveCacheDir(dir, ""); err != nil || got != dir {
		t.Fatalf("directory argument: got %q, %v", got, err)
	}

	audio := filepath.Join(dir, "Weekly Sync.m4a")
	if err := os.WriteFile(audio, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := resolveCacheDir(audio, "")
	if err != nil {
		t.Fatalf("resolveCacheDir: %v", err)
	}
	if !strings.HasPrefix(got, home) {
		t.Errorf("cache dir %q is not under HOME %q", got, home)
	}
	if !strings.HasPrefix(filepath.Base(got), "Weekly-Sync-") {
		t.Errorf("cache dir name = %q", filepath.Base(got))
	}
}

func TestExportDiag(t *testing.T) {
	isolate(t)
	logPath := filepath.Join(t.TempDir(), "debug.ndjson")
	t.Setenv("LONGSCRIBE_LOG_PATH", logPath)
	dest := t.TempDir()

	var stdout, stderr bytes.Buffer
	if code := dispatch([]string{"export-diag", "-dest", dest}, &stdout, &stderr); code != exitFatal {
		t.Fatalf("missing log: exit code = %d, want %d", code, exitFatal)
	}
	if !strings.Contains(stderr.String(), "LONGSCRIBE_DEBUG") {
		t.Errorf("expected debug hint, got %q", stderr.String())
	}

	line := `{"ts":"2026-01-01T00:00:00Z","component":"pipeline","event":"run_start","run_id":"r1"}` + "\n"
	if err := os.WriteFile(logPath, []byte(line), 0644); err != nil {
		t.Fatal(err)
	}
	stdout.Reset()
	stderr.Reset()
	if code := dispatch([]string{"export-diag", "-dest", dest, "-run", "r1"}, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "(1 entries)") {
		t.Errorf("stdout = %q", stdout.String())
	}
}
