// Package llm defines the completion-service boundary the pipeline talks to:
// a Backend that turns a prompt plus media references into text, a typed
// error classifier separating quota/overload failures from fatal ones, and
// an ordered model fallback Chain.
package llm

import (
	"context"
	"time"
)

// Request is a single multimodal completion call.
type Request struct {
	Prompt     string
	AudioPath  string   // optional audio file to attach
	ImagePaths []string // optional still frames to attach

	// JSON asks the service for machine-parseable JSON output. Schema, when
	// set, constrains the JSON shape (OpenAPI subset as accepted by Gemini).
	JSON   bool
	Schema map[string]interface{}

	Temperature float32
}

// Response is the raw text returned by one model.
type Response struct {
	Text    string
	Model   string
	Latency time.Duration
}

// Backend is the interface completion services must implement. Complete
// returns a *QuotaError for rate-limit or overload conditions; any other
// error is treated as fatal by callers.
type Backend interface {
	Name() string
	Complete(ctx context.Context, model string, req Request) (*Response, error)
}
