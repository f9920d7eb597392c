// Package pipeline runs one recording through planning, context synthesis,
// per-window transcription, speaker reconciliation and assembly. Windows are
// processed strictly in order on a single goroutine: each window's prompt
// depends on the previous window's tail and the speakers seen so far.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tiroq/longscribe/internal/cache"
	"github.com/tiroq/longscribe/internal/config"
	"github.com/tiroq/longscribe/internal/contentctx"
	"github.com/tiroq/longscribe/internal/diaglog"
	"github.com/tiroq/longscribe/internal/engine"
	"github.com/tiroq/longscribe/internal/fileutil"
	"github.com/tiroq/longscribe/internal/ipc"
	"github.com/tiroq/longscribe/internal/ledger"
	"github.com/tiroq/longscribe/internal/llm"
	"github.com/tiroq/longscribe/internal/media"
	"github.com/tiroq/longscribe/internal/pidfile"
	"github.com/tiroq/longscribe/internal/progress"
	"github.com/tiroq/longscribe/internal/speakers"
	"github.com/tiroq/longscribe/internal/timeline"
	"github.com/tiroq/longscribe/internal/transcript"
	"github.com/tiroq/longscribe/internal/validation"
	"github.com/tiroq/longscribe/internal/window"
)

const contextDir = "context"

// Notifier announces a finished run.
type Notifier interface {
	Send(title, subtitle, message string) error
}

// Options wires a pipeline's collaborators.
type Options struct {
	Config  *config.Config
	Backend llm.Backend

	// Runner replaces the ffmpeg/ffprobe executor; nil runs the real tools.
	Runner media.Runner

	Logger    *diaglog.Logger
	Out       *log.Logger // progress lines
	Err       *log.Logger // warnings and errors
	Publisher progress.Publisher
	Notifier  Notifier

	// Sleep replaces the pause between fallback models.
	Sleep func(ctx context.Context, d time.Duration) error

	// Force ignores cached windows and context.
	Force   bool
	Version string
}

// Result summarises a run.
type Result struct {
	RunID         string
	CacheDir      string
	Windows       []window.Window
	Segments      []transcript.Segment
	Context       contentctx.Context
	CachedWindows int
	FailedWindows []int
	ModelsUsed    []string
	Warnings      int
	Outputs       []string
	MetadataPath  string
	Stopped       bool
}

// Pipeline transcribes recordings.
type Pipeline struct {
	opts Options
	cfg  *config.Config
	out  *log.Logger
	err  *log.Logger
	diag *diaglog.Logger
}

// New returns a pipeline. A nil Config means config.Default().
func New(opts Options) *Pipeline {
	p := &Pipeline{opts: opts, cfg: opts.Config, out: opts.Out, err: opts.Err, diag: opts.Logger}
	if p.cfg == nil {
		p.cfg = config.Default()
	}
	if p.out == nil {
		p.out = log.New(io.Discard, "", 0)
	}
	if p.err == nil {
		p.err = log.New(io.Discard, "", 0)
	}
	if p.diag == nil {
		p.diag = diaglog.NewNoOp()
	}
	if p.opts.Version == "" {
		p.opts.Version = diaglog.Version
	}
	return p
}

// run holds the state of one Run call.
type run struct {
	*Pipeline

	id       string
	input    string
	cacheDir string
	status   ipc.RunStatus
	models   []string
	failed   []int
	cached   int
	warnings int
}

// Run transcribes input. Configuration errors are returned before any work
// starts. A non-quota completion error aborts the run. Windows whose models
// are all exhausted or whose media the service rejected get a visible
// placeholder and the run continues. A stop
// command or a cancelled ctx ends the run after the window in flight and
// still writes outputs for the finished part.
func (p *Pipeline) Run(ctx context.Context, input string) (*Result, error) {
	cfg := p.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p.opts.Backend == nil {
		return nil, fmt.Errorf("%w: no completion backend", config.ErrInvalid)
	}
	if err := media.CheckInput(input); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(input)
	if err != nil {
		return nil, fmt.Errorf("resolve input: %w", err)
	}

	cacheDir, err := fileutil.CacheDirFor(cfg.CacheDir, abs)
	if err != nil {
		return nil, fmt.Errorf("cache directory: %w", err)
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	lock, err := pidfile.New(pidfile.PathFor(cacheDir))
	if err != nil {
		return nil, err
	}
	defer lock.Remove()

	// A stop request left over from an earlier run must not end this one.
	if _, err := ipc.ReadCommand(cacheDir); err != nil {
		p.err.Printf("Failed to clear stale command: %v", err)
	}

	r := &run{Pipeline: p, id: uuid.NewString(), input: abs, cacheDir: cacheDir}
	p.diag.SetRunID(r.id)
	started := time.Now()
	r.status = ipc.RunStatus{
		RunID:     r.id,
		PID:       os.Getpid(),
		Source:    abs,
		Phase:     ipc.PhaseStarting,
		StartedAt: started,
	}
	r.update("starting")

	res, err := r.execute(ctx)
	if err != nil {
		r.status.Phase = ipc.PhaseFailed
		r.status.LastError = err.Error()
		r.update("failed")
		p.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentPipeline,
			Event:     diaglog.EventRunFinish,
			Reason:    err.Error(),
		})
		p.notify(filepath.Base(abs), "Transcription failed: "+err.Error())
		return res, err
	}
	return res, nil
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	cfg := r.cfg
	res := &Result{RunID: r.id, CacheDir: r.cacheDir}

	led, err := ledger.Open(filepath.Join(r.cacheDir, ledger.FileName))
	if err != nil {
		return res, err
	}
	defer led.Close()
	if led.Repaired() {
		r.err.Printf("Ledger %s was truncated by an earlier crash; kept %d complete entries", led.Path(), led.Len())
	}

	mediaOpts := []media.Option{media.WithBinaries(cfg.FFmpeg, cfg.FFprobe), media.WithLogger(r.diag)}
	if r.opts.Runner != nil {
		mediaOpts = append(mediaOpts, media.WithRunner(r.opts.Runner))
	}
	tk := media.New(mediaOpts...)

	duration, err := tk.Duration(ctx, r.input)
	if err != nil {
		return res, err
	}
	windows, err := window.Plan(duration, cfg.WindowSeconds, cfg.OverlapSeconds)
	if err != nil {
		return res, err
	}
	res.Windows = windows
	r.status.TotalWindows = len(windows)

	r.out.Printf("[STARTUP] %s: %s, %d window(s) of %s with %s overlap",
		filepath.Base(r.input), window.FormatClock(duration), len(windows),
		window.FormatClock(cfg.WindowSeconds), window.FormatClock(cfg.OverlapSeconds))
	r.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentPipeline,
		Event:     diaglog.EventRunStart,
		Payload: map[string]interface{}{
			"source": r.input, "duration": duration, "windows": len(windows), "cache_dir": r.cacheDir, "force": r.opts.Force,
		},
	})

	chainOpts := []llm.ChainOption{
		llm.WithBackoff(time.Duration(cfg.Models.BackoffSeconds * float64(time.Second))),
		llm.WithLogger(r.diag),
	}
	if r.opts.Sleep != nil {
		chainOpts = append(chainOpts, llm.WithSleep(r.opts.Sleep))
	}
	chain := llm.NewChain(r.opts.Backend, cfg.Models.Preferred, cfg.Models.Fallbacks, chainOpts...)

	store := cache.New(r.cacheDir)

	r.status.Phase = ipc.PhaseContext
	r.update("synthesizing content context")
	cctx, ctxCached, err := r.contentContext(ctx, tk, chain, led, store, duration)
	if err != nil {
		return res, err
	}
	res.Context = cctx
	if cctx.Degraded {
		r.warnings++
		r.err.Printf("[CONTEXT] degraded: %s", firstLine(cctx.Description))
	} else if ctxCached {
		r.out.Println("[CONTEXT] using cached content context")
	} else {
		r.out.Println("[CONTEXT] content context ready")
	}

	asm := timeline.New(transcript.Document{
		Title:    strings.TrimSuffix(filepath.Base(r.input), filepath.Ext(r.input)),
		Source:   r.input,
		Duration: duration,
		RunID:    r.id,
		Models:   chain.Models(),
		Context:  cctx.Description,
	}, len(windows), filepath.Join(r.cacheDir, timeline.LiveFileName))
	if err := asm.WriteLive(); err != nil {
		r.err.Printf("Failed to write live transcript: %v", err)
	}

	eng := engine.New(chain, engine.Config{
		MaxRetries:      cfg.MaxRetries,
		TrailingSeconds: cfg.TrailingSeconds,
		Temperature:     cfg.Models.Temperature,
		Policy: validation.Policy{
			MinCoveragePercent: cfg.Validation.MinCoveragePercent,
			MaxGapSeconds:      cfg.Validation.MaxGapSeconds,
			Strict:             cfg.Validation.Strict,
		},
	}, engine.WithLedger(led, r.id), engine.WithLogger(r.diag))
	mat := media.NewMaterializer(tk, r.input, r.cacheDir)
	known := speakers.NewKnown()

	r.status.Phase = ipc.PhaseTranscribing
	for _, w := range windows {
		if r.stopRequested(ctx) {
			res.Stopped = true
			break
		}

		r.status.Window = w.Index + 1
		tag := fmt.Sprintf("[WINDOW %d/%d]", w.Index+1, len(windows))
		r.update(fmt.Sprintf("transcribing %s", w))

		done, err := r.processWindow(ctx, w, tag, eng, mat, store, asm, known, cctx.Description)
		if err != nil {
			if ctx.Err() != nil {
				res.Stopped = true
				break
			}
			r.status.LastError = err.Error()
			r.err.Printf("%s fatal: %v", tag, err)
			if werr := asm.WriteLive(); werr != nil {
				r.err.Printf("Failed to write live transcript: %v", werr)
			}
			res.Segments = asm.Segments()
			res.FailedWindows = r.failed
			return res, err
		}
		if !done {
			res.Stopped = true
			break
		}

		r.status.WindowsDone = asm.Done()
		r.status.Segments = len(asm.Segments())
		if err := asm.WriteLive(); err != nil {
			r.err.Printf("Failed to write live transcript: %v", err)
		}
		r.update(fmt.Sprintf("finished %s", w))
	}

	res.Segments = asm.Segments()
	res.CachedWindows = r.cached
	res.FailedWindows = r.failed
	res.ModelsUsed = r.models
	res.Warnings = r.warnings

	r.status.Phase = ipc.PhaseWriting
	r.update("writing outputs")

	doc := asm.Document()
	if len(r.models) > 0 {
		doc.Models = r.models
	}
	base := fileutil.OutputBase(r.input, cfg.Output.Dir)
	outputs, werr := transcript.WriteAll(base, doc, cfg.Output.Formats)
	res.Outputs = outputs
	if !res.Stopped {
		if err := asm.Finish(); err != nil {
			r.err.Printf("Failed to finalize live transcript: %v", err)
		}
	}
	if werr != nil {
		return res, werr
	}
	for _, o := range outputs {
		r.out.Printf("[OUTPUT] %s", o)
	}

	finished := time.Now()
	metaPath, err := fileutil.WriteMetadata(base, &fileutil.RunMetadata{
		Version:       r.opts.Version,
		RunID:         r.id,
		Source:        r.input,
		CacheDir:      r.cacheDir,
		StartedAt:     r.status.StartedAt,
		FinishedAt:    finished,
		Elapsed:       finished.Sub(r.status.StartedAt).Round(time.Second).String(),
		MediaSeconds:  duration,
		WindowSeconds: cfg.WindowSeconds,
		OverlapSecs:   cfg.OverlapSeconds,
		Windows:       len(windows),
		CachedWindows: r.cached,
		FailedWindows: r.failed,
		Segments:      len(res.Segments),
		Speakers:      transcript.Speakers(res.Segments),
		ModelsUsed:    r.models,
		Warnings:      r.warnings,
		Context:       &fileutil.CtxMeta{Degraded: cctx.Degraded, Cached: ctxCached},
		Outputs:       outputs,
		Stopped:       res.Stopped,
	})
	if err != nil {
		r.err.Printf("Failed to write metadata: %v", err)
	} else {
		res.MetadataPath = metaPath
	}

	summary := fmt.Sprintf("%d/%d windows, %d segments, %d failed, %d cached",
		asm.Done(), len(windows), len(res.Segments), len(r.failed), r.cached)
	if res.Stopped {
		r.status.Phase = ipc.PhaseStopped
		r.out.Printf("[STOPPED] %s; run again to resume", summary)
	} else {
		r.status.Phase = ipc.PhaseDone
		r.out.Printf("[DONE] %s", summary)
	}
	r.update(summary)
	r.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentPipeline,
		Event:     diaglog.EventRunFinish,
		Payload: map[string]interface{}{
			"windows": len(windows), "segments": len(res.Segments), "failed": r.failed,
			"cached": r.cached, "stopped": res.Stopped, "elapsed_ms": finished.Sub(r.status.StartedAt).Milliseconds(),
		},
	})
	r.notify(filepath.Base(r.input), summary)
	return res, nil
}

// processWindow transcribes (or loads) one window and adds it to asm. It
// returns false when the run was stopped before the window completed, and an
// error only for failures that must abort the run.
func (r *run) processWindow(ctx context.Context, w window.Window, tag string, eng *engine.Engine,
	mat *media.Materializer, store *cache.Store, asm *timeline.Assembler, known *speakers.Known, contextDesc string) (bool, error) {

	if !r.opts.Force {
		cachedRes, ok, err := store.LoadWindow(w)
		if err != nil {
			r.err.Printf("%s ignoring unreadable cache entry: %v", tag, err)
		}
		if ok {
			known.Merge(transcript.Speakers(cachedRes.Segments))
			asm.Add(w, cachedRes.Segments)
			r.cached++
			r.status.CachedWindows = r.cached
			r.addModel(cachedRes.Model)
			r.out.Printf("%s cached (%d segments)", tag, len(cachedRes.Segments))
			r.diag.Log(diaglog.LogEntry{
				Component: diaglog.ComponentPipeline,
				Event:     diaglog.EventWindowCached,
				Payload:   map[string]interface{}{"window": w.Index, "segments": len(cachedRes.Segments)},
			})
			return true, nil
		}
	}

	audio, err := mat.Materialize(ctx, w)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		r.placeholder(w, tag, asm, fmt.Sprintf("audio extraction failed: %v", err))
		return true, nil
	}

	cr, err := eng.TranscribeWindow(ctx, engine.Input{
		Window:        w,
		TotalWindows:  r.status.TotalWindows,
		AudioPath:     audio,
		PreviousTail:  asm.Tail(r.cfg.ContextTailLines),
		Context:       contextDesc,
		KnownSpeakers: known.Names(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		if errors.Is(err, llm.ErrAllModelsExhausted) {
			r.placeholder(w, tag, asm, "all models exhausted")
			return true, nil
		}
		if errors.Is(err, llm.ErrMediaRejected) {
			r.placeholder(w, tag, asm, fmt.Sprintf("media upload failed: %v", err))
			return true, nil
		}
		return false, err
	}

	segs, mapping := speakers.Normalize(cr.Segments, known)
	if len(mapping) > 0 {
		r.out.Printf("%s speaker labels reconciled: %s", tag, formatMapping(mapping))
		r.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentSpeakers,
			Event:     diaglog.EventSpeakerRemap,
			Payload:   map[string]interface{}{"window": w.Index, "mapping": mapping},
		})
	}
	r.addModel(cr.Model)
	r.status.Model = cr.Model
	r.status.Attempt = cr.Attempts

	if len(segs) == 0 {
		r.placeholder(w, tag, asm, fmt.Sprintf("no speech returned after %d attempt(s)", cr.Attempts))
		return true, nil
	}

	if n := len(cr.Validation.Issues); n > 0 {
		r.warnings += n
		r.status.Warnings = r.warnings
		level := "warning"
		if cr.RetriesExhausted {
			level = "accepted after retries"
		}
		r.err.Printf("%s %s: %s", tag, level, cr.Validation.Summary())
	}

	if err := store.SaveWindow(&cache.WindowResult{
		Window:     w,
		Segments:   segs,
		Validation: cr.Validation,
		Attempts:   cr.Attempts,
		Model:      cr.Model,
		RunID:      r.id,
	}); err != nil {
		r.err.Printf("%s failed to cache result: %v", tag, err)
	}

	kept := asm.Add(w, segs)
	r.out.Printf("%s %d segments via %s in %d attempt(s), %.0f%% coverage",
		tag, len(kept), cr.Model, cr.Attempts, cr.Validation.CoveragePercent)
	return true, nil
}

// placeholder records a failed window.
func (r *run) placeholder(w window.Window, tag string, asm *timeline.Assembler, reason string) {
	asm.AddPlaceholder(w, reason)
	r.failed = append(r.failed, w.Index)
	r.status.FailedWindows = r.failed
	r.status.LastError = reason
	r.err.Printf("%s skipped: %s", tag, reason)
	r.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentPipeline,
		Event:     diaglog.EventWindowFailed,
		Reason:    reason,
		Payload:   map[string]interface{}{"window": w.Index, "start": w.Start, "end": w.End},
	})
}

// contentContext returns the shared description, from the cache when
// allowed. It reports whether the cache was used. Only a ledger failure is
// returned as an error.
func (r *run) contentContext(ctx context.Context, tk *media.Toolkit, chain *llm.Chain, led *ledger.Ledger,
	store *cache.Store, duration float64) (contentctx.Context, bool, error) {

	cfg := r.cfg
	if !cfg.Context.Enabled {
		return contentctx.Context{Description: contentctx.Placeholder("context synthesis disabled"), Degraded: true}, false, nil
	}
	if !r.opts.Force {
		c, ok, err := store.LoadContext()
		if err != nil {
			r.err.Printf("Ignoring unreadable context cache: %v", err)
		}
		if ok && strings.TrimSpace(c.Description) != "" {
			return contentctx.Context{Description: c.Description}, true, nil
		}
	}

	dir := filepath.Join(r.cacheDir, contextDir)
	sample := filepath.Join(dir, "sample.wav")
	sampleLen := math.Min(cfg.Context.SampleSeconds, duration)
	if sampleLen <= 0 {
		sampleLen = duration
	}
	if err := tk.ExtractAudioSegment(ctx, r.input, sample, 0, sampleLen); err != nil {
		r.err.Printf("[CONTEXT] audio sample unavailable: %v", err)
		sample = ""
	}

	var frames []string
	if cfg.Context.FrameCount > 0 {
		video, err := tk.HasVideo(ctx, r.input)
		if err != nil {
			r.err.Printf("[CONTEXT] video check failed: %v", err)
		}
		if video {
			frames, err = tk.ExtractStillFrames(ctx, r.input, filepath.Join(dir, "frames"), cfg.Context.FrameCount, duration)
			if err != nil {
				r.err.Printf("[CONTEXT] still frames unavailable: %v", err)
				frames = nil
			}
		}
	}

	synth := contentctx.New(chain, contentctx.WithLedger(led, r.id), contentctx.WithLogger(r.diag))
	c, err := synth.Synthesize(ctx, sample, frames)
	if err != nil {
		return c, false, err
	}
	if !c.Degraded {
		if err := store.SaveContext(&cache.Context{Description: c.Description, RunID: r.id}); err != nil {
			r.err.Printf("Failed to cache content context: %v", err)
		}
	}
	return c, false, nil
}

// stopRequested reports a stop command or a cancelled ctx.
func (r *run) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	cmd, err := ipc.ReadCommand(r.cacheDir)
	if err != nil {
		r.err.Printf("Failed to read command: %v", err)
		return false
	}
	if cmd == ipc.CmdStop {
		r.out.Println("[STOP] stop requested; finishing")
		return true
	}
	return false
}

// update writes and publishes the status snapshot.
func (r *run) update(action string) {
	r.status.LastAction = action
	r.status.Timestamp = time.Now()
	if werr := ipc.WriteStatus(r.cacheDir, &r.status); werr != nil {
		r.err.Printf("Failed to write status: %v", werr)
	}
	if r.opts.Publisher != nil {
		r.opts.Publisher.Publish(&r.status)
	}
}

func (r *run) addModel(m string) {
	if m == "" {
		return
	}
	for _, have := range r.models {
		if have == m {
			return
		}
	}
	r.models = append(r.models, m)
}

func (p *Pipeline) notify(subtitle, message string) {
	if !p.cfg.Notify || p.opts.Notifier == nil {
		return
	}
	if err := p.opts.Notifier.Send("longscribe", subtitle, message); err != nil {
		p.err.Printf("Notification failed: %v", err)
	}
}

func formatMapping(m map[string]string) string {
	parts := make([]string, 0, len(m))
	for from, to := range m {
		parts = append(parts, fmt.Sprintf("%s -> %s", from, to))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
