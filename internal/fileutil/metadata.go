// Package fileutil names cache directories and outputs and writes the run
// metadata sidecar.
package fileutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunMetadata is the sidecar written next to a run's outputs.
type RunMetadata struct {
	Version       string    `json:"version"`
	RunID         string    `json:"run_id"`
	Source        string    `json:"source"`
	CacheDir      string    `json:"cache_dir"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Elapsed       string    `json:"elapsed"`
	MediaSeconds  float64   `json:"media_seconds"`
	WindowSeconds float64   `json:"window_seconds"`
	OverlapSecs   float64   `json:"overlap_seconds"`
	Windows       int       `json:"windows"`
	CachedWindows int       `json:"cached_windows"`
	FailedWindows []int     `json:"failed_windows,omitempty"`
	Segments      int       `json:"segments"`
	Speakers      []string  `json:"speakers,omitempty"`
	ModelsUsed    []string  `json:"models_used,omitempty"`
	Warnings      int       `json:"warnings"`
	Context       *CtxMeta  `json:"context,omitempty"`
	Outputs       []string  `json:"outputs"`
	Stopped       bool      `json:"stopped,omitempty"`
}

// CtxMeta records how the content context was obtained.
type CtxMeta struct {
	Degraded bool `json:"degraded"`
	Cached   bool `json:"cached"`
}

// WriteMetadata writes a <basepath>.meta.json sidecar for basePath using
// atomic write (temp + rename). It returns the sidecar path.
func WriteMetadata(basePath string, meta *RunMetadata) (string, error) {
	metaPath := MetadataPath(basePath)
	dir := filepath.Dir(metaPath)

	tmpFile, err := os.CreateTemp(dir, "meta-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create metadata temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error.
	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(meta); err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return "", fmt.Errorf("sync metadata: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("close metadata temp: %w", err)
	}
	success = true // prevent defer cleanup

	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename metadata: %w", err)
	}
	return metaPath, nil
}

// MetadataPath returns <basepath>.meta.json.
func MetadataPath(basePath string) string {
	return basePath + ".meta.json"
}
