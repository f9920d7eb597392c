package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tiroq/longscribe/internal/diaglog"
)

// DefaultBackoff is the fixed pause between a retryable failure and the next
// model.
const DefaultBackoff = time.Second

// Attempt describes one model call made by a Chain.
type Attempt struct {
	Model    string
	Position int // zero-based position in the chain
	Started  time.Time
	Response *Response // nil when the call itself failed
	Err      error     // call error, parse error, or nil on success
}

// AcceptFunc inspects a response body. A non-nil error rejects it as
// malformed and the chain moves on to the next model.
type AcceptFunc func(text string) error

// ObserveFunc receives every attempt before the chain decides what to do
// next.
type ObserveFunc func(Attempt)

// Chain calls a backend with an ordered list of models, advancing on
// quota-class failures and stopping on anything else.
type Chain struct {
	backend Backend
	models  []string
	backoff time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *diaglog.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithBackoff overrides the pause between models.
func WithBackoff(d time.Duration) ChainOption {
	return func(c *Chain) { c.backoff = d }
}

// WithSleep replaces the sleep function; tests use it to avoid real waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ChainOption {
	return func(c *Chain) { c.sleep = fn }
}

// WithLogger injects a diagnostic logger.
func WithLogger(l *diaglog.Logger) ChainOption {
	return func(c *Chain) { c.logger = l }
}

// NewChain builds a chain that tries preferred first (when non-empty) and
// then each fallback in order. Duplicates are dropped.
func NewChain(b Backend, preferred string, fallbacks []string, opts ...ChainOption) *Chain {
	c := &Chain{
		backend: b,
		backoff: DefaultBackoff,
		sleep:   sleepContext,
	}
	seen := make(map[string]bool)
	for _, m := range append([]string{preferred}, fallbacks...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		c.models = append(c.models, m)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Models returns the models in the order they are tried.
func (c *Chain) Models() []string {
	out := make([]string, len(c.models))
	copy(out, c.models)
	return out
}

// Complete runs req against each model in turn. It returns the first
// accepted response. A non-retryable error is returned immediately; if every
// model fails with a retryable error the result wraps ErrAllModelsExhausted.
func (c *Chain) Complete(ctx context.Context, req Request, accept AcceptFunc, observe ObserveFunc) (*Response, error) {
	if c.backend == nil {
		return nil, fmt.Errorf("llm: no backend configured")
	}
	if len(c.models) == 0 {
		return nil, fmt.Errorf("%w: no models configured", ErrAllModelsExhausted)
	}

	var lastErr error
	for i, model := range c.models {
		if i > 0 {
			c.log(diaglog.LogEntry{
				Event:   diaglog.EventModelFallback,
				Reason:  errString(lastErr),
				Payload: map[string]interface{}{"next_model": model, "position": i, "backoff_ms": c.backoff.Milliseconds()},
			})
			if err := c.sleep(ctx, c.backoff); err != nil {
				return nil, err
			}
		}

		started := time.Now()
		resp, err := c.backend.Complete(ctx, model, req)
		if err == nil && accept != nil {
			if perr := accept(resp.Text); perr != nil {
				err = &MalformedError{Model: model, Raw: resp.Text, Err: perr}
			}
		}
		if observe != nil {
			observe(Attempt{Model: model, Position: i, Started: started, Response: resp, Err: err})
		}
		if err == nil {
			if resp.Model == "" {
				resp.Model = model
			}
			return resp, nil
		}
		if !IsRetryable(err) {
			return nil, fmt.Errorf("model %s: %w", model, err)
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w after %d models, last error: %v", ErrAllModelsExhausted, len(c.models), lastErr)
}

func (c *Chain) log(entry diaglog.LogEntry) {
	if c.logger == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = diaglog.ComponentCompletion
	}
	c.logger.Log(entry)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
