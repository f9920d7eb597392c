// Package progress lets other processes follow a run: Watcher tails the
// status snapshot in a cache directory and Hub streams snapshots to
// websocket viewers.
package progress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tiroq/longscribe/internal/ipc"
)

// DefaultPollInterval is the polling period used alongside (or instead of)
// fsnotify.
const DefaultPollInterval = time.Second

// Watcher follows <dir>/status.json.
type Watcher struct {
	dir      string
	interval time.Duration
	onError  func(error)

	last string
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithPollInterval sets the polling period.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithErrorHandler receives watcher errors that do not stop watching.
func WithErrorHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// NewWatcher creates a watcher for the cache directory dir.
func NewWatcher(dir string, opts ...WatcherOption) *Watcher {
	w := &Watcher{dir: dir, interval: DefaultPollInterval}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run calls fn for every new status snapshot until the run reaches a
// finished phase or ctx is cancelled. A snapshot already on disk is
// reported first. fsnotify is used when available; a polling ticker always
// runs alongside it to catch missed events.
func (w *Watcher) Run(ctx context.Context, fn func(*ipc.RunStatus)) error {
	if _, err := os.Stat(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	if w.check(fn) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.report(fmt.Errorf("fsnotify not available, falling back to polling: %w", err))
		return w.poll(ctx, fn)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		w.report(fmt.Errorf("watching %s failed, falling back to polling: %w", w.dir, err))
		return w.poll(ctx, fn)
	}

	statusPath := filepath.Join(w.dir, ipc.StatusFileName)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return w.poll(ctx, fn)
			}
			// status.json is replaced by rename, so Create is the usual op.
			if event.Name == statusPath && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if w.check(fn) {
					return nil
				}
			}

		case <-ticker.C:
			if w.check(fn) {
				return nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return w.poll(ctx, fn)
			}
			w.report(err)
		}
	}
}

// poll is the pure polling fallback.
func (w *Watcher) poll(ctx context.Context, fn func(*ipc.RunStatus)) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if w.check(fn) {
				return nil
			}
		}
	}
}

// check reads the snapshot and reports it when it changed. It returns true
// once the run has finished.
func (w *Watcher) check(fn func(*ipc.RunStatus)) bool {
	st, err := ipc.ReadStatus(w.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			w.report(err)
		}
		return false
	}
	key := fmt.Sprintf("%d|%s|%d|%s", st.Timestamp.UnixNano(), st.Phase, st.WindowsDone, st.LastAction)
	if key == w.last {
		return false
	}
	w.last = key
	fn(st)
	return st.Phase.Finished()
}

func (w *Watcher) report(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}
