package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// scriptedBackend returns canned results keyed by model name.
type scriptedBackend struct {
	results map[string]scriptedResult
	calls   []string
}

type scriptedResult struct {
	text string
	err  error
}

func (s *scriptedBackend) Name() string { return "scripted" }

func (s *scriptedBackend) Complete(_ context.Context, model string, _ Request) (*Response, error) {
	s.calls = append(s.calls, model)
	r, ok := s.results[model]
	if !ok {
		return nil, fmt.Errorf("unexpected model %s", model)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &Response{Text: r.text, Model: model}, nil
}

func noSleep(recorded *[]time.Duration) ChainOption {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		if recorded != nil {
			*recorded = append(*recorded, d)
		}
		return nil
	})
}

func TestNewChainOrdersAndDedupes(t *testing.T) {
	c := NewChain(&scriptedBackend{}, "b", []string{"a", "b", "", "c", "a"})
	got := strings.Join(c.Models(), ",")
	if got != "b,a,c" {
		t.Errorf("Models() = %q, want b,a,c", got)
	}
}

func TestChainFirstModelSucceeds(t *testing.T) {
	b := &scriptedBackend{results: map[string]scriptedResult{"m1": {text: "ok"}}}
	c := NewChain(b, "m1", []string{"m2"}, noSleep(nil))

	resp, err := c.Complete(context.Background(), Request{Prompt: "p"}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Model != "m1" || resp.Text != "ok" {
		t.Errorf("got %+v", resp)
	}
	if len(b.calls) != 1 {
		t.Errorf("expected 1 call, got %v", b.calls)
	}
}

func TestChainFallsBackOnQuota(t *testing.T) {
	b := &scriptedBackend{results: map[string]scriptedResult{
		"m1": {err: &QuotaError{Model: "m1", StatusCode: 429, Err: errors.New("rate limited")}},
		"m2": {err: &QuotaError{Model: "m2", StatusCode: 503, Err: errors.New("overloaded")}},
		"m3": {text: "third"},
	}}
	var sleeps []time.Duration
	var attempts []Attempt
	c := NewChain(b, "m1", []string{"m2", "m3"}, noSleep(&sleeps), WithBackoff(5*time.Millisecond))

	resp, err := c.Complete(context.Background(), Request{}, nil, func(a Attempt) { attempts = append(attempts, a) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Model != "m3" {
		t.Errorf("expected m3, got %s", resp.Model)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected 3 observed attempts, got %d", len(attempts))
	}
	if !IsQuota(attempts[0].Err) || attempts[2].Err != nil {
		t.Errorf("unexpected attempt errors: %v / %v", attempts[0].Err, attempts[2].Err)
	}
	if len(sleeps) != 2 || sleeps[0] != 5*time.Millisecond {
		t.Errorf("expected two 5ms backoffs, got %v", sleeps)
	}
}

func TestChainStopsOnFatalError(t *testing.T) {
	b := &scriptedBackend{results: map[string]scriptedResult{
		"m1": {err: errors.New("invalid api key")},
		"m2": {text: "never"},
	}}
	c := NewChain(b, "m1", []string{"m2"}, noSleep(nil))

	_, err := c.Complete(context.Background(), Request{}, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrAllModelsExhausted) {
		t.Error("fatal error must not be reported as exhaustion")
	}
	if len(b.calls) != 1 {
		t.Errorf("expected chain to stop after first model, calls=%v", b.calls)
	}
}

func TestChainAllExhausted(t *testing.T) {
	q := func(m string) scriptedResult {
		return scriptedResult{err: &QuotaError{Model: m, Err: errors.New("RESOURCE_EXHAUSTED")}}
	}
	b := &scriptedBackend{results: map[string]scriptedResult{"a": q("a"), "b": q("b")}}
	c := NewChain(b, "a", []string{"b"}, noSleep(nil))

	_, err := c.Complete(context.Background(), Request{}, nil, nil)
	if !errors.Is(err, ErrAllModelsExhausted) {
		t.Fatalf("expected ErrAllModelsExhausted, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("exhaustion error should not itself be retryable")
	}
}

func TestChainMalformedAdvances(t *testing.T) {
	b := &scriptedBackend{results: map[string]scriptedResult{
		"a": {text: "not json"},
		"b": {text: `{"ok":true}`},
	}}
	c := NewChain(b, "a", []string{"b"}, noSleep(nil))
	accept := func(text string) error {
		if !strings.HasPrefix(text, "{") {
			return errors.New("no object")
		}
		return nil
	}
	var seen []Attempt
	resp, err := c.Complete(context.Background(), Request{JSON: true}, accept, func(a Attempt) { seen = append(seen, a) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Model != "b" {
		t.Errorf("expected b, got %s", resp.Model)
	}
	var me *MalformedError
	if !errors.As(seen[0].Err, &me) || me.Raw != "not json" {
		t.Errorf("expected MalformedError with raw text, got %v", seen[0].Err)
	}
}

func TestChainHonoursCancellation(t *testing.T) {
	b := &scriptedBackend{results: map[string]scriptedResult{
		"a": {err: &QuotaError{Model: "a", Err: errors.New("quota")}},
		"b": {text: "x"},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewChain(b, "a", []string{"b"}, WithBackoff(time.Hour))

	_, err := c.Complete(ctx, Request{}, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLooksLikeQuota(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"429 Too Many Requests", true},
		{"RESOURCE_EXHAUSTED: quota exceeded", true},
		{"The model is overloaded. Please try again later.", true},
		{"API key not valid", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := LooksLikeQuota(tt.msg); got != tt.want {
			t.Errorf("LooksLikeQuota(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}
