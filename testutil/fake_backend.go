package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/tiroq/longscribe/internal/llm"
	"github.com/tiroq/longscribe/internal/transcript"
)

// FakeResult is one scripted completion outcome.
type FakeResult struct {
	Text string
	Err  error
}

// FakeCall records one Complete invocation.
type FakeCall struct {
	Model   string
	Request llm.Request
}

// FakeBackend is a scripted llm.Backend. Results are consumed in call order;
// once the script runs out Default is returned. Handler, when set, takes
// precedence over the script.
type FakeBackend struct {
	Script  []FakeResult
	Default FakeResult
	Handler func(call int, model string, req llm.Request) (*llm.Response, error)

	mu    sync.Mutex
	calls []FakeCall
}

// NewFakeBackend returns a backend replaying results in order.
func NewFakeBackend(results ...FakeResult) *FakeBackend {
	return &FakeBackend{Script: results}
}

// Name returns the backend identifier.
func (f *FakeBackend) Name() string { return "fake" }

// Complete returns the next scripted result.
func (f *FakeBackend) Complete(ctx context.Context, model string, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, FakeCall{Model: model, Request: req})
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Handler != nil {
		return f.Handler(n, model, req)
	}

	r := f.Default
	if n < len(f.Script) {
		r = f.Script[n]
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.Response{Text: r.Text, Model: model}, nil
}

// Calls returns a copy of every recorded call.
func (f *FakeBackend) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of calls made so far.
func (f *FakeBackend) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Quota returns a quota-class error for model.
func Quota(model string) error {
	return &llm.QuotaError{Model: model, StatusCode: 429, Err: errors.New("RESOURCE_EXHAUSTED")}
}

// Fatal returns a non-quota error.
func Fatal(msg string) error {
	return errors.New(msg)
}

// SegmentsJSON encodes segs the way a transcription response carries them.
func SegmentsJSON(segs ...transcript.Segment) string {
	type wire struct {
		Speaker string  `json:"speaker"`
		Start   float64 `json:"start"`
		End     float64 `json:"end,omitempty"`
		Text    string  `json:"text"`
		Tone    string  `json:"tone,omitempty"`
	}
	out := struct {
		Segments []wire `json:"segments"`
	}{Segments: make([]wire, len(segs))}
	for i, s := range segs {
		out.Segments[i] = wire{Speaker: s.Speaker, Start: s.Start, End: s.End, Text: s.Text, Tone: s.Tone}
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// Spread returns n segments for speaker evenly spaced across span seconds,
// starting at zero.
func Spread(speaker string, n int, span float64) []transcript.Segment {
	segs := make([]transcript.Segment, n)
	for i := range segs {
		start := 0.0
		if n > 1 {
			start = span * float64(i) / float64(n-1)
		}
		segs[i] = transcript.Segment{Speaker: speaker, Start: start, Text: "line"}
	}
	return segs
}
