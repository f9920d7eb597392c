package diaglog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is injected at link time from the main package; defaults to "dev".
var Version = "dev"

// maxLogLine bounds a single NDJSON line; the whole log is capped at 10 MB.
const maxLogLine = 10 * 1024 * 1024

// DiagBundle is the first line of an export file.
type DiagBundle struct {
	ExportedAt string         `json:"exported_at"`
	Version    string         `json:"longscribe_version"`
	GoVersion  string         `json:"go_version"`
	OS         string         `json:"os"`
	Arch       string         `json:"arch"`
	LogFile    string         `json:"log_file"`
	RunID      string         `json:"run_id,omitempty"` // filter applied, if any
	RunIDs     []string       `json:"run_ids"`          // runs present in the bundle, oldest first
	Components map[string]int `json:"components"`       // entries per component
	EntryCount int            `json:"entry_count"`
	Skipped    int            `json:"skipped,omitempty"` // lines that were not valid entries
}

// ExportOptions narrows an export.
type ExportOptions struct {
	// RunID keeps only entries of one pipeline run.
	RunID string
}

// Export copies the entries of logPath to dest/longscribe-diag-<ts>.ndjson
// behind a DiagBundle header line. Lines that do not decode as a LogEntry
// are dropped and counted. It returns the written path and the number of
// entries included.
func Export(logPath, dest string, opts ExportOptions) (path string, entries int, err error) {
	src, err := os.Open(logPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, fmt.Errorf("log file not found at %s: %w", logPath, os.ErrNotExist)
		}
		return "", 0, fmt.Errorf("log file unreadable: %w", err)
	}
	defer func() { _ = src.Close() }()

	bundle := DiagBundle{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Version:    Version,
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		LogFile:    logPath,
		RunID:      opts.RunID,
		RunIDs:     []string{},
		Components: make(map[string]int),
	}

	var kept [][]byte
	seenRuns := make(map[string]bool)
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), maxLogLine)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal(raw, &entry); err != nil || entry.Event == "" {
			bundle.Skipped++
			continue
		}
		if opts.RunID != "" && entry.RunID != opts.RunID {
			continue
		}
		if entry.RunID != "" && !seenRuns[entry.RunID] {
			seenRuns[entry.RunID] = true
			bundle.RunIDs = append(bundle.RunIDs, entry.RunID)
		}
		bundle.Components[entry.Component]++
		kept = append(kept, append([]byte(nil), raw...))
	}
	if serr := scanner.Err(); serr != nil {
		return "", 0, fmt.Errorf("log file unreadable: %w", serr)
	}
	if opts.RunID != "" && len(kept) == 0 {
		return "", 0, fmt.Errorf("no entries for run %s in %s", opts.RunID, logPath)
	}
	bundle.EntryCount = len(kept)

	tstamp := time.Now().UTC().Format("20060102T150405")
	outPath := filepath.Join(dest, "longscribe-diag-"+tstamp+".ndjson")
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("output file could not be created: %w", err)
	}
	defer func() { _ = out.Close() }()

	w := bufio.NewWriter(out)
	header, err := json.Marshal(bundle)
	if err != nil {
		return "", 0, err
	}
	if _, err := w.Write(append(header, '\n')); err != nil {
		return "", 0, err
	}
	for _, line := range kept {
		if _, err := w.Write(append(line, '\n')); err != nil {
			return "", 0, err
		}
	}
	if err := w.Flush(); err != nil {
		return "", 0, err
	}
	return outPath, len(kept), nil
}
