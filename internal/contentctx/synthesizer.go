// Package contentctx asks the completion service for a short description of
// a recording (participants, topic, tone, visual cues) that every window's
// transcription prompt shares. Completion failures degrade to a visible
// placeholder; only a ledger write failure is returned as an error.
package contentctx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tiroq/longscribe/internal/diaglog"
	"github.com/tiroq/longscribe/internal/ledger"
	"github.com/tiroq/longscribe/internal/llm"
)

// Context is the shared description of a recording.
type Context struct {
	Description string `json:"description"`
	Degraded    bool   `json:"degraded"`
}

// Sub-steps recorded in the ledger.
const (
	StepImage = "image"
	StepAudio = "audio"
	StepMerge = "merge"
)

const (
	imagePrompt = `These are still frames sampled from a recording. Describe the setting, the people visible (with names if they appear on screen), any slides or on-screen text, and anything else that would help tell speakers apart. Answer in at most five sentences of plain text.`

	audioPrompt = `This is the opening of a recording. Describe the participants (use names if they introduce themselves or address each other), the language, the topic and the overall tone. Answer in at most five sentences of plain text.`

	mergePrompt = `Merge the two descriptions below of the same recording into one concise description of at most six sentences. Keep every participant name and keep details that help identify who is speaking. Answer in plain text.

Visual description:
%s

Audio description:
%s`
)

// Placeholder returns the description used when synthesis failed.
func Placeholder(reason string) string {
	return fmt.Sprintf("[Content context unavailable: %s. Transcribe without prior context.]", reason)
}

// Synthesizer builds a Context from an audio sample and optional frames.
type Synthesizer struct {
	chain  *llm.Chain
	ledger ledger.Appender
	runID  string
	logger *diaglog.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLedger records every call in l.
func WithLedger(l ledger.Appender, runID string) Option {
	return func(s *Synthesizer) {
		s.ledger = l
		s.runID = runID
	}
}

// WithLogger injects a diagnostic logger.
func WithLogger(l *diaglog.Logger) Option {
	return func(s *Synthesizer) { s.logger = l }
}

// New returns a synthesizer calling models through chain.
func New(chain *llm.Chain, opts ...Option) *Synthesizer {
	s := &Synthesizer{chain: chain}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize describes the recording. With images, an image-grounded and an
// audio-grounded description are requested independently and then merged.
// Any failed step is replaced by a placeholder; the description is never
// empty. The error is non-nil only when a ledger entry could not be
// written.
func (s *Synthesizer) Synthesize(ctx context.Context, audioSample string, images []string) (Context, error) {
	if audioSample == "" && len(images) == 0 {
		return s.degraded("no audio or image sample available"), nil
	}

	var audioDesc string
	var audioErr error
	if audioSample != "" {
		audioDesc, audioErr = s.complete(ctx, StepAudio, llm.Request{Prompt: audioPrompt, AudioPath: audioSample})
		if isLedgerError(audioErr) {
			return Context{}, audioErr
		}
	} else {
		audioErr = errors.New("no audio sample")
	}

	if len(images) == 0 {
		if audioErr != nil {
			return s.degraded(fmt.Sprintf("audio description failed: %v", audioErr)), nil
		}
		return Context{Description: audioDesc}, nil
	}

	imageDesc, imageErr := s.complete(ctx, StepImage, llm.Request{Prompt: imagePrompt, ImagePaths: images})
	if isLedgerError(imageErr) {
		return Context{}, imageErr
	}

	switch {
	case audioErr != nil && imageErr != nil:
		return s.degraded(fmt.Sprintf("audio description failed: %v; image description failed: %v", audioErr, imageErr)), nil
	case imageErr != nil:
		s.logDegraded(fmt.Sprintf("image description failed: %v", imageErr))
		return Context{Description: audioDesc + "\n\n" + Placeholder("visual description failed"), Degraded: true}, nil
	case audioErr != nil:
		s.logDegraded(fmt.Sprintf("audio description failed: %v", audioErr))
		return Context{Description: imageDesc + "\n\n" + Placeholder("audio description failed"), Degraded: true}, nil
	}

	merged, err := s.complete(ctx, StepMerge, llm.Request{Prompt: fmt.Sprintf(mergePrompt, imageDesc, audioDesc)})
	if isLedgerError(err) {
		return Context{}, err
	}
	if err != nil {
		s.logDegraded(fmt.Sprintf("merge failed: %v", err))
		return Context{
			Description: "Visual: " + imageDesc + "\n\nAudio: " + audioDesc + "\n\n" + Placeholder("descriptions could not be merged"),
			Degraded:    true,
		}, nil
	}
	return Context{Description: merged}, nil
}

// ledgerError marks a failed ledger write, which ends synthesis.
type ledgerError struct{ err error }

func (e *ledgerError) Error() string { return "context ledger: " + e.err.Error() }
func (e *ledgerError) Unwrap() error { return e.err }

func isLedgerError(err error) bool {
	var le *ledgerError
	return errors.As(err, &le)
}

func (s *Synthesizer) complete(ctx context.Context, step string, req llm.Request) (string, error) {
	if s.chain == nil {
		return "", errors.New("no completion service configured")
	}
	accept := func(text string) error {
		if strings.TrimSpace(text) == "" {
			return errors.New("empty description")
		}
		return nil
	}
	var ledgerErr error
	observe := func(a llm.Attempt) {
		if s.ledger == nil || ledgerErr != nil {
			return
		}
		e := ledger.Entry{
			RunID:       s.runID,
			Kind:        ledger.KindContext,
			WindowIndex: ledger.ContextWindow,
			Attempt:     1,
			Model:       a.Model,
			Step:        step,
			Prompt:      req.Prompt,
		}
		if a.Response != nil {
			e.Response = a.Response.Text
		}
		if a.Err != nil {
			e.Error = a.Err.Error()
		}
		ledgerErr = s.ledger.Append(e)
	}
	resp, err := s.chain.Complete(ctx, req, accept, observe)
	if ledgerErr != nil {
		return "", &ledgerError{err: ledgerErr}
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (s *Synthesizer) degraded(reason string) Context {
	s.logDegraded(reason)
	return Context{Description: Placeholder(reason), Degraded: true}
}

func (s *Synthesizer) logDegraded(reason string) {
	if s.logger == nil {
		return
	}
	s.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentContext,
		Event:     diaglog.EventContextDegraded,
		Reason:    reason,
	})
}
