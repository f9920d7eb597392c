// Package diaglog provides structured NDJSON diagnostic logging for longscribe.
// Activated by LONGSCRIBE_DEBUG=true. When the env var is absent, all Log
// calls are no-ops and no file is created.
package diaglog

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// DebugEnv is the environment variable that enables diagnostic logging.
const DebugEnv = "LONGSCRIBE_DEBUG"

// ── Component labels ─────────────────────────────────────────────────────────

const (
	ComponentPipeline   = "pipeline"
	ComponentEngine     = "transcription-engine"
	ComponentContext    = "context-synthesizer"
	ComponentCompletion = "completion-service"
	ComponentMedia      = "media-toolkit"
	ComponentSpeakers   = "speaker-reconciler"
	ComponentDiagExport = "diag-export"
	ComponentProgress   = "progress"
)

// ── Event names ──────────────────────────────────────────────────────────────

const (
	EventRunStart          = "run_start"
	EventRunFinish         = "run_finish"
	EventWindowStart       = "window_start"
	EventWindowCached      = "window_cached"
	EventWindowAccepted    = "window_accepted"
	EventWindowFailed      = "window_failed"
	EventCompletionRequest = "completion_request"
	EventCompletionResult  = "completion_result"
	EventModelFallback     = "model_fallback"
	EventValidationRetry   = "validation_retry"
	EventUploadPoll        = "upload_poll"
	EventSpeakerRemap      = "speaker_remap"
	EventContextDegraded   = "context_degraded"
	EventMediaExtract      = "media_extract"
	EventViewerConnect     = "viewer_connect"
	EventViewerDisconnect  = "viewer_disconnect"
)

// ── LogEntry ─────────────────────────────────────────────────────────────────

// LogEntry is one structured event record written as a single JSON line.
type LogEntry struct {
	Timestamp string      `json:"ts"`               // RFC3339Nano
	Component string      `json:"component"`        // see Component* constants
	Event     string      `json:"event"`            // see Event* constants
	RunID     string      `json:"run_id,omitempty"` // one per pipeline run
	Reason    string      `json:"reason,omitempty"`
	Payload   interface{} `json:"payload,omitempty"` // redacted before write
}

// ── Logger ───────────────────────────────────────────────────────────────────

// Logger writes LogEntry values to a rolling NDJSON file. When debug mode is
// disabled every Log call is a no-op.
type Logger struct {
	rw      *rollingWriter
	mu      sync.Mutex
	enabled bool
	runID   string
}

// New opens (or creates) the NDJSON log file at path. If debug mode is
// disabled, path is ignored and a no-op logger is returned.
func New(path string) (*Logger, error) {
	if !IsDebugEnabled() {
		return &Logger{enabled: false}, nil
	}
	rw, err := newRollingWriter(path, 10*1024*1024)
	if err != nil {
		return nil, err
	}
	return &Logger{rw: rw, enabled: true}, nil
}

// SetRunID stamps every subsequent entry that has no RunID of its own.
func (l *Logger) SetRunID(id string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.runID = id
	l.mu.Unlock()
}

// Log serialises entry to JSON, appends a newline, and writes to the rolling
// file. Sensitive payload fields are redacted before serialisation.
func (l *Logger) Log(entry LogEntry) {
	if l == nil || !l.enabled {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if entry.Payload != nil {
		entry.Payload = Redact(entry.Payload)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.RunID == "" {
		entry.RunID = l.runID
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = l.rw.Write(data)
}

// Close flushes and closes the underlying file. Safe on nil/disabled logger.
func (l *Logger) Close() error {
	if l == nil || !l.enabled || l.rw == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rw.close()
}

// IsDebugEnabled reports whether LONGSCRIBE_DEBUG is set to "true".
func IsDebugEnabled() bool {
	return os.Getenv(DebugEnv) == "true"
}

// NewNoOp returns a logger where every Log call is a no-op. Use as a safe
// fallback when New fails (e.g., disk full, permissions error).
func NewNoOp() *Logger {
	return &Logger{enabled: false}
}
