package llm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQuota marks rate-limit, resource-exhausted and overloaded responses.
	ErrQuota = errors.New("llm: quota or overload")

	// ErrMalformedResponse marks a response that did not match the expected
	// schema. It is retried on the next model like a quota error.
	ErrMalformedResponse = errors.New("llm: malformed response")

	// ErrAllModelsExhausted is returned when every model in a chain failed
	// with a retryable error.
	ErrAllModelsExhausted = errors.New("llm: all models exhausted")

	// ErrMediaRejected marks media the service accepted but could not
	// process. Other models would see the same file, so it is not retried.
	ErrMediaRejected = errors.New("llm: media rejected")
)

// QuotaError wraps a quota-class failure from a specific model.
type QuotaError struct {
	Model      string
	StatusCode int
	Err        error
}

func (e *QuotaError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("model %s: quota/overload (http %d): %v", e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model %s: quota/overload: %v", e.Model, e.Err)
}

func (e *QuotaError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrQuota) true for every QuotaError.
func (e *QuotaError) Is(target error) bool { return target == ErrQuota }

// MalformedError carries the raw text that failed to parse.
type MalformedError struct {
	Model string
	Raw   string
	Err   error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("model %s: malformed response: %v", e.Model, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Is(target error) bool { return target == ErrMalformedResponse }

// IsQuota reports whether err is a quota/overload failure.
func IsQuota(err error) bool {
	return err != nil && errors.Is(err, ErrQuota)
}

// IsRetryable reports whether a chain should move on to its next model.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrQuota) || errors.Is(err, ErrMalformedResponse)
}

// quotaMarkers are substrings the completion services use for rate limiting
// and overload in error messages.
var quotaMarkers = []string{
	"resource_exhausted",
	"resource exhausted",
	"rate limit",
	"rate-limit",
	"quota",
	"overloaded",
	"too many requests",
}

// LooksLikeQuota classifies a free-form error message.
func LooksLikeQuota(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
