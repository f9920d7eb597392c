// Command longscribe transcribes long recordings window by window through a
// multimodal model and writes speaker-labelled transcripts.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/tiroq/longscribe/internal/diaglog"
)

const logPrefix = "[longscribe]"

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

const usage = `usage:
  longscribe [run] [flags] <recording>   transcribe a recording
  longscribe watch [-url ws://host:port/progress] <recording|cache-dir>
  longscribe status <recording|cache-dir>
  longscribe stop <recording|cache-dir>
  longscribe export-diag [-dest dir] [-run id]
  longscribe version

Run "longscribe run -h" for run flags.
`

// Exit codes.
const (
	exitOK     = 0
	exitFatal  = 1
	exitUsage  = 2
	exitConfig = 3
)

func main() {
	diaglog.Version = Version
	os.Exit(dispatch(os.Args[1:], os.Stdout, os.Stderr))
}

// dispatch routes args to a subcommand and returns the exit code.
func dispatch(args []string, stdout, stderr io.Writer) int {
	outLog := log.New(stdout, logPrefix+" ", log.LstdFlags)
	errLog := log.New(stderr, logPrefix+" ERROR: ", log.LstdFlags)

	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	switch args[0] {
	case "run":
		return runCommand(args[1:], outLog, errLog, stderr)
	case "watch":
		return watchCommand(args[1:], stdout, errLog, stderr)
	case "status":
		return statusCommand(args[1:], stdout, errLog)
	case "stop":
		return stopCommand(args[1:], outLog, errLog)
	case "export-diag", "--export-diag":
		return exportDiagCommand(args[1:], stdout, stderr)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "longscribe %s\n", Version)
		return exitOK
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		return runCommand(args, outLog, errLog, stderr)
	}
}

func exportDiagCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("export-diag", stderr)
	dest := fs.String("dest", ".", "directory for the bundle")
	runID := fs.String("run", "", "only export entries of this run id")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	path, n, err := diaglog.Export(diaglog.DefaultPath(), *dest, diaglog.ExportOptions{RunID: *runID})
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "hint: run with %s=true to enable logging\n", diaglog.DebugEnv)
			return exitFatal
		}
		return exitUsage
	}
	fmt.Fprintf(stdout, "Wrote: %s (%d entries)\n", path, n)
	return exitOK
}
