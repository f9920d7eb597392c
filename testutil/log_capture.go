package testutil

import (
	"bytes"
	"log"
	"strings"
	"sync"
)

// LogCapture collects the output of injected *log.Logger instances so tests
// can assert on user-facing progress and error lines.
type LogCapture struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

// NewLogCapture creates an empty capture.
func NewLogCapture() *LogCapture {
	return &LogCapture{}
}

// Logger returns a *log.Logger writing into the capture buffer. Several
// loggers may share one capture.
func (lc *LogCapture) Logger(prefix string) *log.Logger {
	return log.New(&lockedWriter{lc: lc}, prefix, 0)
}

type lockedWriter struct{ lc *LogCapture }

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.lc.mu.Lock()
	defer w.lc.mu.Unlock()
	return w.lc.buf.Write(p)
}

// String returns all captured output
func (lc *LogCapture) String() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.buf.String()
}

// Contains checks if the captured output contains substr
func (lc *LogCapture) Contains(substr string) bool {
	return strings.Contains(lc.String(), substr)
}

// Count returns the number of times substr appears
func (lc *LogCapture) Count(substr string) int {
	return strings.Count(lc.String(), substr)
}
