package diaglog

import (
	"os"
	"path/filepath"
	"sync"
)

// DefaultPath returns the diagnostic log location, honouring
// LONGSCRIBE_LOG_PATH when set.
func DefaultPath() string {
	if p := os.Getenv("LONGSCRIBE_LOG_PATH"); p != "" {
		return p
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "longscribe", "debug.ndjson")
}

// rollingWriter is a mutex-guarded append-only writer that truncates the file
// to zero when the next write would exceed maxSize, so the newest entries
// always survive.
type rollingWriter struct {
	path    string
	maxSize int64
	f       *os.File
	size    int64
	mu      sync.Mutex
}

// newRollingWriter opens path (creating it and its directory if needed) and
// returns a writer capped at maxSize bytes.
func newRollingWriter(path string, maxSize int64) (*rollingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &rollingWriter{path: path, maxSize: maxSize, f: f, size: info.Size()}, nil
}

// Write appends p, truncating first when the cap would be exceeded. Every
// write is fsynced.
func (rw *rollingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.size+int64(len(p)) > rw.maxSize {
		if err := rw.f.Truncate(0); err != nil {
			return 0, err
		}
		if _, err := rw.f.Seek(0, 0); err != nil {
			return 0, err
		}
		rw.size = 0
	}

	n, err := rw.f.Write(p)
	rw.size += int64(n)
	if err != nil {
		return n, err
	}
	_ = rw.f.Sync()
	return n, nil
}

func (rw *rollingWriter) close() error {
	_ = rw.f.Sync()
	return rw.f.Close()
}
