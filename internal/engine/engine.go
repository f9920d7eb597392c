// Package engine transcribes one window at a time: it builds a prompt that
// carries the previous window's tail and the known speakers, calls the model
// fallback chain, parses and validates the answer, and retries with a
// corrective hint when timing looks wrong.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tiroq/longscribe/internal/diaglog"
	"github.com/tiroq/longscribe/internal/ledger"
	"github.com/tiroq/longscribe/internal/llm"
	"github.com/tiroq/longscribe/internal/transcript"
	"github.com/tiroq/longscribe/internal/validation"
	"github.com/tiroq/longscribe/internal/window"
)

// Config tunes the engine.
type Config struct {
	MaxRetries      int     // extra attempts after the first; default 2
	TrailingSeconds float64 // end assumed for a final segment without one; default 3
	Temperature     float32
	Policy          validation.Policy
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{MaxRetries: 2, TrailingSeconds: 3, Policy: validation.DefaultPolicy()}
}

// Input is everything one window's transcription depends on.
type Input struct {
	Window        window.Window
	TotalWindows  int
	AudioPath     string
	PreviousTail  string
	Context       string
	KnownSpeakers []string
}

// ChunkResult is the accepted transcript of one window in window-local time.
type ChunkResult struct {
	Window     window.Window
	Segments   []transcript.Segment
	Validation validation.Outcome
	Attempts   int
	Model      string

	// RetriesExhausted is set when the result still had issues after the
	// last allowed attempt and was accepted anyway.
	RetriesExhausted bool
}

// Engine transcribes windows through a model chain.
type Engine struct {
	chain  *llm.Chain
	cfg    Config
	ledger ledger.Appender
	runID  string
	logger *diaglog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLedger records every model call in l.
func WithLedger(l ledger.Appender, runID string) Option {
	return func(e *Engine) {
		e.ledger = l
		e.runID = runID
	}
}

// WithLogger injects a diagnostic logger.
func WithLogger(l *diaglog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New returns an engine.
func New(chain *llm.Chain, cfg Config, opts ...Option) *Engine {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.TrailingSeconds <= 0 {
		cfg.TrailingSeconds = 3
	}
	e := &Engine{chain: chain, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TranscribeWindow runs up to 1+MaxRetries attempts for in.Window. It returns
// an error wrapping llm.ErrAllModelsExhausted when no model produced a usable
// answer, and any non-quota error unchanged so the caller can abort the run.
func (e *Engine) TranscribeWindow(ctx context.Context, in Input) (*ChunkResult, error) {
	w := in.Window
	expected := w.Duration()
	maxAttempts := 1 + e.cfg.MaxRetries

	var last *ChunkResult
	hint := ""
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		e.log(diaglog.EventWindowStart, "", map[string]interface{}{
			"window": w.Index, "attempt": attempt, "start": w.Start, "end": w.End,
		})

		prompt := BuildPrompt(in, hint)
		req := llm.Request{
			Prompt:      prompt,
			AudioPath:   in.AudioPath,
			JSON:        true,
			Schema:      responseSchema,
			Temperature: e.cfg.Temperature,
		}

		var segs []transcript.Segment
		var outcome validation.Outcome
		var ledgerErr error

		accept := func(text string) error {
			parsed, err := ParseSegments(text)
			if err != nil {
				return err
			}
			segs = SynthesizeEnds(parsed, expected, e.cfg.TrailingSeconds)
			outcome = e.cfg.Policy.Validate(segs, expected, in.KnownSpeakers)
			return nil
		}
		observe := func(a llm.Attempt) {
			entry := ledger.Entry{
				RunID:       e.runID,
				Kind:        ledger.KindTranscribe,
				WindowIndex: w.Index,
				Attempt:     attempt,
				Model:       a.Model,
				Prompt:      prompt,
			}
			if a.Response != nil {
				entry.Response = a.Response.Text
			}
			if a.Err != nil {
				entry.Error = a.Err.Error()
			} else {
				entry.Validation = outcome.Summary()
			}
			if e.ledger != nil && ledgerErr == nil {
				ledgerErr = e.ledger.Append(entry)
			}
		}

		resp, err := e.chain.Complete(ctx, req, accept, observe)
		if ledgerErr != nil {
			return nil, fmt.Errorf("window %d: %w", w.Index, ledgerErr)
		}
		if err != nil {
			if errors.Is(err, llm.ErrAllModelsExhausted) && last != nil {
				// A retry ran out of models; keep the earlier answer.
				last.RetriesExhausted = true
				e.log(diaglog.EventWindowAccepted, "retry exhausted all models, keeping previous attempt", map[string]interface{}{
					"window": w.Index, "attempts": last.Attempts,
				})
				return last, nil
			}
			e.log(diaglog.EventWindowFailed, err.Error(), map[string]interface{}{"window": w.Index, "attempt": attempt})
			return nil, fmt.Errorf("window %d attempt %d: %w", w.Index, attempt, err)
		}

		last = &ChunkResult{
			Window:     w,
			Segments:   segs,
			Validation: outcome,
			Attempts:   attempt,
			Model:      resp.Model,
		}
		if !outcome.NeedsRetry() {
			e.log(diaglog.EventWindowAccepted, "", map[string]interface{}{
				"window": w.Index, "attempts": attempt, "model": resp.Model, "validation": outcome.Summary(),
			})
			return last, nil
		}

		if attempt < maxAttempts {
			hint = CorrectiveHint(expected, outcome)
			e.log(diaglog.EventValidationRetry, outcome.Summary(), map[string]interface{}{
				"window": w.Index, "attempt": attempt,
			})
		}
	}

	last.RetriesExhausted = true
	e.log(diaglog.EventWindowAccepted, "accepted after retries exhausted", map[string]interface{}{
		"window": w.Index, "attempts": last.Attempts, "validation": last.Validation.Summary(),
	})
	return last, nil
}

func (e *Engine) log(event, reason string, payload map[string]interface{}) {
	if e.logger == nil {
		return
	}
	e.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentEngine,
		Event:     event,
		Reason:    reason,
		Payload:   payload,
	})
}
