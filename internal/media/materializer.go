package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/tiroq/longscribe/internal/window"
)

// Materializer produces one audio file per planned window inside a cache
// directory, reusing files left by earlier runs when they verify.
type Materializer struct {
	tk     *Toolkit
	source string
	dir    string
}

// NewMaterializer returns a materializer cutting source into dir/chunks.
func NewMaterializer(tk *Toolkit, source, cacheDir string) *Materializer {
	return &Materializer{tk: tk, source: source, dir: filepath.Join(cacheDir, "chunks")}
}

// ChunkPath returns the file used for w, e.g. chunks/chunk_001_540-1200.wav.
func (m *Materializer) ChunkPath(w window.Window) string {
	return filepath.Join(m.dir, fmt.Sprintf("chunk_%03d_%d-%d.wav", w.Index, int(math.Round(w.Start)), int(math.Round(w.End))))
}

// Materialize returns the audio file for w. An existing file that fails WAV
// verification is removed and extracted again once.
func (m *Materializer) Materialize(ctx context.Context, w window.Window) (string, error) {
	path := m.ChunkPath(w)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := m.tk.ExtractAudioSegment(ctx, m.source, path, w.Start, w.Duration()); err != nil {
			return "", fmt.Errorf("materialize %s: %w", w, err)
		}
		if lastErr = verifyChunk(path, w.Duration()); lastErr == nil {
			return path, nil
		}
		os.Remove(path)
	}
	return "", fmt.Errorf("materialize %s: %w", w, lastErr)
}

// verifyChunk checks that path is a WAV whose length roughly matches
// expected seconds.
func verifyChunk(path string, expected float64) error {
	got, err := WAVDuration(path)
	if err != nil {
		return err
	}
	tolerance := math.Max(1, expected*0.02)
	if math.Abs(got-expected) > tolerance {
		return fmt.Errorf("%w: %s lasts %.2fs, expected %.2fs", ErrInvalidWAV, filepath.Base(path), got, expected)
	}
	return nil
}
