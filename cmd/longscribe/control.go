package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tiroq/longscribe/internal/config"
	"github.com/tiroq/longscribe/internal/fileutil"
	"github.com/tiroq/longscribe/internal/ipc"
	"github.com/tiroq/longscribe/internal/pidfile"
	"github.com/tiroq/longscribe/internal/progress"
)

// resolveCacheDir maps a recording or a cache directory to the cache
// directory of its run. A directory argument is used as is.
func resolveCacheDir(arg, configPath string) (string, error) {
	info, err := os.Stat(arg)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return arg, nil
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return "", err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return "", err
	}
	return fileutil.CacheDirFor(cfg.CacheDir, arg)
}

// formatStatus renders a snapshot as a single line.
func formatStatus(st *ipc.RunStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d/%d windows (%.0f%%)", st.Phase, st.WindowsDone, st.TotalWindows, st.Percent())
	if st.CachedWindows > 0 {
		fmt.Fprintf(&b, ", %d cached", st.CachedWindows)
	}
	if n := len(st.FailedWindows); n > 0 {
		fmt.Fprintf(&b, ", %d failed", n)
	}
	fmt.Fprintf(&b, ", %d segments", st.Segments)
	if st.Model != "" {
		fmt.Fprintf(&b, ", model %s", st.Model)
	}
	if st.LastAction != "" {
		fmt.Fprintf(&b, ": %s", st.LastAction)
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, " (error: %s)", st.LastError)
	}
	return b.String()
}

func watchCommand(args []string, stdout io.Writer, errLog *log.Logger, stderr io.Writer) int {
	fs := newFlagSet("watch", stderr)
	url := fs.String("url", "", "progress websocket (ws://host:port/progress) instead of the cache directory")
	configPath := fs.String("config", "", "config file")
	interval := fs.Duration("interval", progress.DefaultPollInterval, "polling interval when file events are unavailable")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	show := func(st *ipc.RunStatus) {
		fmt.Fprintf(stdout, "%s %s\n", st.Timestamp.Format(time.TimeOnly), formatStatus(st))
	}

	var err error
	if *url != "" {
		err = progress.Follow(ctx, *url, show)
	} else {
		if fs.NArg() != 1 {
			fmt.Fprint(stderr, usage)
			return exitUsage
		}
		var dir string
		dir, err = resolveCacheDir(fs.Arg(0), *configPath)
		if err != nil {
			errLog.Printf("Cannot locate run: %v", err)
			return exitFatal
		}
		w := progress.NewWatcher(dir,
			progress.WithPollInterval(*interval),
			progress.WithErrorHandler(func(err error) { errLog.Printf("%v", err) }))
		err = w.Run(ctx, show)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		errLog.Printf("Watch failed: %v", err)
		return exitFatal
	}
	return exitOK
}

func statusCommand(args []string, stdout io.Writer, errLog *log.Logger) int {
	fs := newFlagSet("status", stdout)
	configPath := fs.String("config", "", "config file")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return exitUsage
	}
	dir, err := resolveCacheDir(fs.Arg(0), *configPath)
	if err != nil {
		errLog.Printf("Cannot locate run: %v", err)
		return exitFatal
	}
	st, err := ipc.ReadStatus(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			errLog.Printf("No run recorded in %s", dir)
		} else {
			errLog.Printf("Failed to read status: %v", err)
		}
		return exitFatal
	}
	fmt.Fprintln(stdout, formatStatus(st))
	if pid := pidfile.Holder(pidfile.PathFor(dir)); pid > 0 && !st.Phase.Finished() {
		fmt.Fprintf(stdout, "running as PID %d\n", pid)
	}
	return exitOK
}

func stopCommand(args []string, outLog, errLog *log.Logger) int {
	fs := newFlagSet("stop", errLog.Writer())
	configPath := fs.String("config", "", "config file")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return exitUsage
	}
	dir, err := resolveCacheDir(fs.Arg(0), *configPath)
	if err != nil {
		errLog.Printf("Cannot locate run: %v", err)
		return exitFatal
	}
	if err := ipc.WriteCommand(dir, ipc.CmdStop); err != nil {
		errLog.Printf("Failed to send stop: %v", err)
		return exitFatal
	}
	outLog.Printf("Stop requested; the run ends after the current window (%s)", dir)
	return exitOK
}
