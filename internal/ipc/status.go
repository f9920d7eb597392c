// Package ipc exchanges state between a running pipeline and other
// processes through small files in the run's cache directory.
package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// StatusFileName is the status snapshot inside a cache directory.
const StatusFileName = "status.json"

// Phase is the coarse stage of a run.
type Phase string

const (
	PhaseStarting     Phase = "starting"
	PhaseContext      Phase = "context"
	PhaseTranscribing Phase = "transcribing"
	PhaseWriting      Phase = "writing"
	PhaseDone         Phase = "done"
	PhaseStopped      Phase = "stopped" // stop command honoured; resumable
	PhaseFailed       Phase = "failed"
)

// Finished reports whether no further snapshots will follow.
func (p Phase) Finished() bool {
	return p == PhaseDone || p == PhaseStopped || p == PhaseFailed
}

// RunStatus is the complete state of a run at a point in time.
type RunStatus struct {
	RunID         string    `json:"run_id"`
	PID           int       `json:"pid"`
	Source        string    `json:"source"`
	Phase         Phase     `json:"phase"`
	Window        int       `json:"window"` // 1-based window in progress, 0 before the first
	TotalWindows  int       `json:"total_windows"`
	WindowsDone   int       `json:"windows_done"`
	CachedWindows int       `json:"cached_windows"`
	FailedWindows []int     `json:"failed_windows,omitempty"`
	Segments      int       `json:"segments"`
	Model         string    `json:"model,omitempty"`   // model behind the last accepted window
	Attempt       int       `json:"attempt,omitempty"` // attempts used by the last accepted window
	Warnings      int       `json:"warnings"`
	LastAction    string    `json:"last_action"`
	LastError     string    `json:"last_error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	Timestamp     time.Time `json:"timestamp"`
}

// Percent returns completed windows as a percentage.
func (s *RunStatus) Percent() float64 {
	if s.TotalWindows == 0 {
		return 0
	}
	return float64(s.WindowsDone) / float64(s.TotalWindows) * 100
}

// WriteStatus persists status to <dir>/status.json using atomic write.
func WriteStatus(dir string, status *RunStatus) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	return atomicWriteJSON(filepath.Join(dir, StatusFileName), status)
}

// ReadStatus loads <dir>/status.json.
func ReadStatus(dir string) (*RunStatus, error) {
	data, err := os.ReadFile(filepath.Join(dir, StatusFileName))
	if err != nil {
		return nil, err
	}

	var status RunStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// atomicWriteJSON writes data to a file atomically using temp file + rename
func atomicWriteJSON(path string, data interface{}) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "status-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil

	return os.Rename(tmpPath, path)
}
