// Package ledger records every completion attempt of a run in an
// append-only JSON array on disk. Each Append is synced before it returns so
// a crash loses at most the call in flight.
package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the ledger file inside a cache directory.
const FileName = "ledger.json"

// Kind labels what a ledger entry was for.
type Kind string

const (
	KindTranscribe Kind = "transcribe"
	KindContext    Kind = "context"
)

// ContextWindow is the window index used for content-context calls.
const ContextWindow = -1

// Entry is one completion attempt: the full prompt and either the full raw
// response or the error text.
type Entry struct {
	TimestampMs int64  `json:"timestamp_ms"`
	RunID       string `json:"run_id,omitempty"`
	Kind        Kind   `json:"kind"`
	WindowIndex int    `json:"window_index"`
	Attempt     int    `json:"attempt"`
	Model       string `json:"model"`
	Step        string `json:"step,omitempty"` // context sub-step: audio, image, merge
	Prompt      string `json:"prompt"`
	Response    string `json:"response,omitempty"`
	Error       string `json:"error,omitempty"`
	Validation  string `json:"validation,omitempty"`
}

// Failed reports whether the attempt produced an error.
func (e Entry) Failed() bool { return e.Error != "" }

const trailer = "\n]\n"

// ErrCorrupt is returned when an existing file is not a ledger at all.
var ErrCorrupt = errors.New("ledger: file is not a JSON array")

// Ledger appends entries to one file.
type Ledger struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	tail     int64 // offset where the next entry (or trailer) is written
	count    int
	repaired bool
	now      func() time.Time
}

// Open opens or creates the ledger at path. A file truncated by a crash is
// repaired by keeping every complete entry.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	l := &Ledger{path: path, f: f, now: time.Now}
	if err := l.recover(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// recover positions tail after the last complete entry, rewriting the
// trailer when it is missing.
func (l *Ledger) recover() error {
	data, err := io.ReadAll(l.f)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		l.tail, l.count = 1, 0
		return l.writeAt([]byte("["+trailer), 0)
	}

	entries, offset, complete, err := scan(data)
	if err != nil {
		return err
	}
	l.count = len(entries)

	if complete {
		end := bytes.LastIndexByte(data, ']')
		if end > 0 && data[end-1] == '\n' {
			end--
		}
		l.tail = int64(end)
		return nil
	}

	l.repaired = true
	l.tail = offset
	if err := l.f.Truncate(offset); err != nil {
		return fmt.Errorf("truncate ledger: %w", err)
	}
	return l.writeAt([]byte(trailer), offset)
}

// scan decodes complete entries from data. offset is the byte position just
// after the last complete entry (or the opening bracket).
func scan(data []byte) (entries []Entry, offset int64, complete bool, err error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('[') {
		return nil, 0, false, ErrCorrupt
	}
	offset = dec.InputOffset()

	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return entries, offset, false, nil
		}
		entries = append(entries, e)
		offset = dec.InputOffset()
	}
	tok, err = dec.Token()
	if err != nil || tok != json.Delim(']') {
		return entries, offset, false, nil
	}
	return entries, offset, true, nil
}

// Append writes e and syncs the file before returning.
func (l *Ledger) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return fmt.Errorf("ledger: closed")
	}
	if e.TimestampMs == 0 {
		e.TimestampMs = l.now().UnixMilli()
	}

	body, err := json.MarshalIndent(e, "  ", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}

	var buf bytes.Buffer
	if l.count > 0 {
		buf.WriteByte(',')
	}
	buf.WriteString("\n  ")
	buf.Write(body)
	entryLen := int64(buf.Len())
	buf.WriteString(trailer)

	if err := l.writeAt(buf.Bytes(), l.tail); err != nil {
		return err
	}
	l.tail += entryLen
	l.count++
	return nil
}

func (l *Ledger) writeAt(b []byte, off int64) error {
	if _, err := l.f.WriteAt(b, off); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

// Len returns the number of entries in the file.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Repaired reports whether Open had to drop a partial trailing entry.
func (l *Ledger) Repaired() bool { return l.repaired }

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// ReadAll returns every complete entry currently on disk.
func (l *Ledger) ReadAll() ([]Entry, error) {
	return ReadFile(l.path)
}

// Close closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// ReadFile returns the complete entries of the ledger at path, tolerating a
// truncated tail.
func ReadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	entries, _, _, err := scan(data)
	return entries, err
}

// ForWindow filters entries belonging to one window.
func ForWindow(entries []Entry, index int) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.WindowIndex == index {
			out = append(out, e)
		}
	}
	return out
}

// Appender is the write side of a ledger.
type Appender interface {
	Append(Entry) error
}
