// Package media wraps ffprobe/ffmpeg: probing durations, cutting audio
// segments and grabbing still frames. Every extraction is skipped when its
// output already exists.
package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tiroq/longscribe/internal/diaglog"
)

var (
	// ErrInspectFailed is returned when ffprobe cannot read an input's
	// duration or streams.
	ErrInspectFailed = errors.New("media: cannot inspect input")

	// ErrUnsupportedFormat is returned for input extensions the pipeline does
	// not handle.
	ErrUnsupportedFormat = errors.New("media: unsupported input format")

	// ErrExtractFailed wraps ffmpeg failures.
	ErrExtractFailed = errors.New("media: extraction failed")
)

var audioExts = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".aac": true,
	".flac": true, ".ogg": true, ".opus": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mkv": true, ".mov": true, ".webm": true, ".avi": true,
}

// IsSupported reports whether path has a known audio or video extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return audioExts[ext] || videoExts[ext]
}

// IsVideoExt reports whether path has a video container extension.
func IsVideoExt(path string) bool {
	return videoExts[strings.ToLower(filepath.Ext(path))]
}

// CheckInput returns ErrUnsupportedFormat for unknown extensions and an
// os error when the file is missing.
func CheckInput(path string) error {
	if !IsSupported(path) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrUnsupportedFormat, path)
	}
	return nil
}

// Runner executes an external command and returns its combined output.
type Runner interface {
	CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Toolkit runs ffprobe and ffmpeg.
type Toolkit struct {
	ffmpeg  string
	ffprobe string
	run     Runner
	logger  *diaglog.Logger
}

// Option configures a Toolkit.
type Option func(*Toolkit)

// WithRunner replaces command execution; tests use it to fake ffmpeg.
func WithRunner(r Runner) Option {
	return func(t *Toolkit) { t.run = r }
}

// WithBinaries overrides the ffmpeg and ffprobe executables.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(t *Toolkit) {
		if ffmpeg != "" {
			t.ffmpeg = ffmpeg
		}
		if ffprobe != "" {
			t.ffprobe = ffprobe
		}
	}
}

// WithLogger injects a diagnostic logger.
func WithLogger(l *diaglog.Logger) Option {
	return func(t *Toolkit) { t.logger = l }
}

// New returns a toolkit using ffmpeg/ffprobe from PATH.
func New(opts ...Option) *Toolkit {
	t := &Toolkit{ffmpeg: "ffmpeg", ffprobe: "ffprobe", run: execRunner{}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Duration returns the duration of path in seconds.
func (t *Toolkit) Duration(ctx context.Context, path string) (float64, error) {
	out, err := t.run.CombinedOutput(ctx, t.ffprobe, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v: %s", ErrInspectFailed, filepath.Base(path), err, truncate(out, 200))
	}
	sec, err := strconv.ParseFloat(strings.TrimSpace(firstLine(string(out))), 64)
	if err != nil || sec <= 0 || math.IsNaN(sec) || math.IsInf(sec, 0) {
		return 0, fmt.Errorf("%w: %s: unexpected duration %q", ErrInspectFailed, filepath.Base(path), strings.TrimSpace(string(out)))
	}
	return sec, nil
}

// HasVideo reports whether path carries a video stream. Audio containers are
// never treated as video even when they embed cover art.
func (t *Toolkit) HasVideo(ctx context.Context, path string) (bool, error) {
	if !IsVideoExt(path) {
		return false, nil
	}
	out, err := t.run.CombinedOutput(ctx, t.ffprobe, []string{
		"-v", "error",
		"-select_streams", "v",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	})
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInspectFailed, filepath.Base(path), err)
	}
	return strings.Contains(string(out), "video"), nil
}

// ExtractAudioSegment writes duration seconds of src starting at start to dst
// as 16 kHz mono PCM WAV. Nothing is done when dst already exists.
func (t *Toolkit) ExtractAudioSegment(ctx context.Context, src, dst string, start, duration float64) error {
	if exists(dst) {
		return nil
	}
	if duration <= 0 {
		return fmt.Errorf("%w: non-positive duration %v", ErrExtractFailed, duration)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp := dst + ".part"
	args := []string{
		"-y",
		"-ss", formatFFmpegTime(start),
		"-t", formatFFmpegTime(duration),
		"-i", src,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		tmp,
	}
	began := time.Now()
	if out, err := t.run.CombinedOutput(ctx, t.ffmpeg, args); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %s: %v: %s", ErrExtractFailed, filepath.Base(dst), err, truncate(out, 300))
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", ErrExtractFailed, filepath.Base(dst), err)
	}
	t.log("audio_segment", dst, began, map[string]interface{}{"start": start, "duration": duration})
	return nil
}

// ExtractStillFrames grabs count JPEG frames evenly spaced across duration
// seconds of src into dir and returns their paths. Existing frames are
// reused.
func (t *Toolkit) ExtractStillFrames(ctx context.Context, src, dir string, count int, duration float64) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}

	paths := make([]string, 0, count)
	for i := 0; i < count; i++ {
		dst := filepath.Join(dir, fmt.Sprintf("frame_%02d.jpg", i+1))
		paths = append(paths, dst)
		if exists(dst) {
			continue
		}
		at := duration * float64(i+1) / float64(count+1)
		began := time.Now()
		out, err := t.run.CombinedOutput(ctx, t.ffmpeg, []string{
			"-y",
			"-ss", formatFFmpegTime(at),
			"-i", src,
			"-frames:v", "1",
			"-q:v", "3",
			dst,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: %v: %s", ErrExtractFailed, i+1, err, truncate(out, 300))
		}
		t.log("still_frame", dst, began, map[string]interface{}{"at": at})
	}
	return paths, nil
}

func (t *Toolkit) log(kind, path string, began time.Time, payload map[string]interface{}) {
	if t.logger == nil {
		return
	}
	payload["kind"] = kind
	payload["file"] = filepath.Base(path)
	payload["elapsed_ms"] = time.Since(began).Milliseconds()
	t.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentMedia,
		Event:     diaglog.EventMediaExtract,
		Payload:   payload,
	})
}

// formatFFmpegTime formats seconds as HH:MM:SS.mmm for -ss/-t arguments.
func formatFFmpegTime(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	ms := int64(math.Round(sec * 1000))
	h := ms / 3_600_000
	m := (ms / 60_000) % 60
	s := (ms / 1000) % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
