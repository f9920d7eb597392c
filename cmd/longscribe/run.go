package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tiroq/longscribe/internal/config"
	"github.com/tiroq/longscribe/internal/diaglog"
	"github.com/tiroq/longscribe/internal/llm/gemini"
	"github.com/tiroq/longscribe/internal/media"
	"github.com/tiroq/longscribe/internal/notify"
	"github.com/tiroq/longscribe/internal/pidfile"
	"github.com/tiroq/longscribe/internal/pipeline"
	"github.com/tiroq/longscribe/internal/progress"
	"github.com/tiroq/longscribe/internal/window"
)

// runFlags are the command-line overrides of the run command. Zero values
// leave the config file untouched.
type runFlags struct {
	configPath    string
	envFile       string
	window        float64
	overlap       float64
	model         string
	formats       string
	outDir        string
	cacheDir      string
	maxRetries    int
	strict        bool
	noContext     bool
	force         bool
	notify        bool
	serveProgress string
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseRunFlags(args []string, stderr io.Writer) (*runFlags, []string, error) {
	f := &runFlags{maxRetries: -1, overlap: -1}
	fs := newFlagSet("run", stderr)
	fs.StringVar(&f.configPath, "config", "", "config file (default ~/.config/longscribe/config.yaml)")
	fs.StringVar(&f.envFile, "env", ".env", "dotenv file with GEMINI_API_KEY")
	fs.Float64Var(&f.window, "window", 0, "window length in seconds")
	fs.Float64Var(&f.overlap, "overlap", -1, "overlap between windows in seconds (0 disables)")
	fs.StringVar(&f.model, "model", "", "preferred model, tried before the fallbacks")
	fs.StringVar(&f.formats, "formats", "", "comma-separated output formats (txt,srt,vtt,md,json)")
	fs.StringVar(&f.outDir, "out", "", "output directory (default next to the recording)")
	fs.StringVar(&f.cacheDir, "cache-dir", "", "cache root")
	fs.IntVar(&f.maxRetries, "max-retries", -1, "validation retries per window")
	fs.BoolVar(&f.strict, "strict", false, "treat low coverage as an error")
	fs.BoolVar(&f.noContext, "no-context", false, "skip content-context synthesis")
	fs.BoolVar(&f.force, "force", false, "ignore cached windows and context")
	fs.BoolVar(&f.notify, "notify", false, "show a desktop notification when done")
	fs.StringVar(&f.serveProgress, "serve-progress", "", "serve live progress over websocket on this address (e.g. :8765)")
	if err := fs.Parse(reorderFlags(args, fs)); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}

// reorderFlags moves positional arguments after flags so that
// "longscribe talk.mp4 -force" works like "longscribe -force talk.mp4".
func reorderFlags(args []string, fs *flag.FlagSet) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		name := strings.TrimLeft(a, "-")
		if strings.Contains(name, "=") {
			continue
		}
		if fl := fs.Lookup(name); fl != nil {
			if bf, ok := fl.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
				continue
			}
			if i+1 < len(args) {
				flags = append(flags, args[i+1])
				i++
			}
		}
	}
	return append(flags, positional...)
}

// buildConfig loads the config file and environment and applies flags.
func buildConfig(f *runFlags) (*config.Config, error) {
	if f.envFile != "" {
		if err := config.LoadEnvFiles(f.envFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if f.window > 0 {
		cfg.WindowSeconds = f.window
	}
	if f.overlap >= 0 {
		cfg.OverlapSeconds = f.overlap
	}
	if f.model != "" {
		cfg.Models.Preferred = f.model
	}
	if f.formats != "" {
		var formats []string
		for _, p := range strings.Split(f.formats, ",") {
			if p = strings.TrimSpace(p); p != "" {
				formats = append(formats, p)
			}
		}
		cfg.Output.Formats = formats
	}
	if f.outDir != "" {
		cfg.Output.Dir = f.outDir
	}
	if f.cacheDir != "" {
		cfg.CacheDir = f.cacheDir
	}
	if f.maxRetries >= 0 {
		cfg.MaxRetries = f.maxRetries
	}
	if f.strict {
		cfg.Validation.Strict = true
	}
	if f.noContext {
		cfg.Context.Enabled = false
	}
	if f.notify {
		cfg.Notify = true
	}
	return cfg, cfg.Validate()
}

func runCommand(args []string, outLog, errLog *log.Logger, stderr io.Writer) int {
	// Recover from any panics and log them
	defer func() {
		if r := recover(); r != nil {
			errLog.Printf("PANIC: %v", r)
			os.Exit(exitFatal)
		}
	}()

	f, rest, err := parseRunFlags(args, stderr)
	if err != nil {
		return exitUsage
	}
	if len(rest) != 1 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	input := rest[0]

	cfg, err := buildConfig(f)
	if err != nil {
		errLog.Printf("Configuration error: %v", err)
		return exitConfig
	}
	if err := media.CheckInput(input); err != nil {
		errLog.Printf("Cannot transcribe %s: %v", input, err)
		return exitConfig
	}
	if cfg.Gemini.APIKey == "" {
		errLog.Printf("No API key: set %s in the environment, a .env file or gemini.api_key in the config", config.EnvAPIKey)
		return exitConfig
	}

	diagLogger, diagErr := diaglog.New(diaglog.DefaultPath())
	if diagErr != nil {
		errLog.Printf("Diagnostic log unavailable: %v", diagErr)
		diagLogger = diaglog.NewNoOp()
	}
	defer diagLogger.Close()

	outLog.Printf("[STARTUP] longscribe %s, PID %d", Version, os.Getpid())
	outLog.Printf("[STARTUP] models: %s", strings.Join(cfg.ModelList(), ", "))
	outLog.Printf("[STARTUP] windows of %s with %s overlap, up to %d retries",
		window.FormatClock(cfg.WindowSeconds), window.FormatClock(cfg.OverlapSeconds), cfg.MaxRetries)

	client := gemini.NewClient(gemini.Config{
		APIKey:         cfg.Gemini.APIKey,
		BaseURL:        cfg.Gemini.BaseURL,
		TimeoutSeconds: cfg.Gemini.TimeoutSeconds,
		PollInterval:   time.Duration(cfg.Gemini.PollIntervalSeconds * float64(time.Second)),
		MaxPolls:       cfg.Gemini.MaxPolls,
	})
	client.SetLogger(diagLogger)

	opts := pipeline.Options{
		Config:   cfg,
		Backend:  client,
		Logger:   diagLogger,
		Out:      outLog,
		Err:      errLog,
		Notifier: notify.New(),
		Force:    f.force,
		Version:  Version,
	}

	if f.serveProgress != "" {
		hub := progress.NewHub()
		hub.SetLogger(diagLogger)
		srv := progress.Serve(f.serveProgress, hub)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				errLog.Printf("%v", err)
			}
		}()
		go func() {
			if err, ok := <-srv.Err(); ok && err != nil {
				errLog.Printf("Progress server failed: %v", err)
			}
		}()
		opts.Publisher = hub
		outLog.Printf("[STARTUP] progress at ws://%s%s", displayAddr(f.serveProgress), progress.Path)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.New(opts).Run(ctx, input)
	if err != nil {
		switch {
		case errors.Is(err, pidfile.ErrLocked):
			errLog.Printf("%v", err)
			errLog.Println("If you're sure no other run is active, remove the PID file in the cache directory.")
		case errors.Is(err, config.ErrInvalid), errors.Is(err, window.ErrInvalidConfig):
			errLog.Printf("Configuration error: %v", err)
			return exitConfig
		default:
			errLog.Printf("Transcription aborted: %v", err)
			if res != nil && res.CacheDir != "" {
				errLog.Printf("Partial transcript and ledger kept in %s", res.CacheDir)
			}
		}
		return exitFatal
	}

	if len(res.FailedWindows) > 0 {
		errLog.Printf("%d window(s) could not be transcribed and are marked [ERROR] in the transcript; run again to retry them", len(res.FailedWindows))
	}
	if res.Stopped {
		outLog.Printf("Stopped. Resume with: longscribe %s", input)
	}
	return exitOK
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
