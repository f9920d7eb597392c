// Package cache persists accepted per-window results and the content
// context inside a run's cache directory so a later run can resume without
// recomputing them.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tiroq/longscribe/internal/transcript"
	"github.com/tiroq/longscribe/internal/validation"
	"github.com/tiroq/longscribe/internal/window"
)

const (
	windowsDir  = "windows"
	contextFile = "context.json"
)

// WindowResult is an accepted window transcript in window-local time.
type WindowResult struct {
	Window     window.Window        `json:"window"`
	Segments   []transcript.Segment `json:"segments"`
	Validation validation.Outcome   `json:"validation"`
	Attempts   int                  `json:"attempts"`
	Model      string               `json:"model"`
	RunID      string               `json:"run_id,omitempty"`
	SavedAt    time.Time            `json:"saved_at"`
}

// Context is the cached content description.
type Context struct {
	Description string    `json:"description"`
	RunID       string    `json:"run_id,omitempty"`
	SavedAt     time.Time `json:"saved_at"`
}

// Store reads and writes cache entries under Dir.
type Store struct {
	Dir string
}

// New returns a store rooted at dir.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

// WindowPath returns the cache file for window index.
func (s *Store) WindowPath(index int) string {
	return filepath.Join(s.Dir, windowsDir, fmt.Sprintf("window_%03d.json", index))
}

// LoadWindow returns the cached result for w. ok is false when nothing is
// cached or the cached entry was planned for a different time range.
func (s *Store) LoadWindow(w window.Window) (*WindowResult, bool, error) {
	var r WindowResult
	found, err := readJSON(s.WindowPath(w.Index), &r)
	if err != nil || !found {
		return nil, false, err
	}
	if r.Window != w {
		return nil, false, nil
	}
	return &r, true, nil
}

// SaveWindow stores an accepted result. Placeholder-only results are never
// cached so a failed window is retried on the next run.
func (s *Store) SaveWindow(r *WindowResult) error {
	if r == nil || len(r.Segments) == 0 {
		return fmt.Errorf("cache: refusing to store empty result")
	}
	for _, seg := range r.Segments {
		if seg.IsSystem() {
			return fmt.Errorf("cache: refusing to store placeholder for window %d", r.Window.Index)
		}
	}
	if r.SavedAt.IsZero() {
		r.SavedAt = time.Now()
	}
	return writeJSON(s.WindowPath(r.Window.Index), r)
}

// LoadContext returns the cached content description, if any.
func (s *Store) LoadContext() (*Context, bool, error) {
	var c Context
	found, err := readJSON(filepath.Join(s.Dir, contextFile), &c)
	if err != nil || !found || c.Description == "" {
		return nil, false, err
	}
	return &c, true, nil
}

// SaveContext stores the content description.
func (s *Store) SaveContext(c *Context) error {
	if c.SavedAt.IsZero() {
		c.SavedAt = time.Now()
	}
	return writeJSON(filepath.Join(s.Dir, contextFile), c)
}

func readJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cache %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		// A corrupt entry is treated as a miss and recomputed.
		return false, nil
	}
	return true, nil
}

// writeJSON writes v to path atomically using a temp file + rename.
func writeJSON(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, "cache-*.tmp")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync cache entry: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close cache temp: %w", err)
	}
	success = true

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename cache entry: %w", err)
	}
	return nil
}
