// Package gemini implements llm.Backend against the Gemini generateContent
// REST API, including resumable Files API uploads for audio.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tiroq/longscribe/internal/diaglog"
	"github.com/tiroq/longscribe/internal/llm"
)

// DefaultBaseURL is the public Gemini endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// Config configures the Gemini client.
type Config struct {
	APIKey         string
	BaseURL        string        // default DefaultBaseURL
	TimeoutSeconds int           // default 300
	PollInterval   time.Duration // default 2s
	MaxPolls       int           // default 60
}

// Client is an llm.Backend backed by the Gemini REST API.
type Client struct {
	cfg    Config
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error

	uploadsMu sync.Mutex
	uploads   map[string]*remoteFile // local path -> active remote file

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

// NewClient creates a Gemini client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 300
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 60
	}
	return &Client{
		cfg:     cfg,
		sleep:   sleepContext,
		uploads: make(map[string]*remoteFile),
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (c *Client) SetLogger(l *diaglog.Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Client) log(entry diaglog.LogEntry) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if l == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = diaglog.ComponentCompletion
	}
	l.Log(entry)
}

// Name returns the backend identifier.
func (c *Client) Name() string {
	return "gemini"
}

// ── wire types ───────────────────────────────────────────────────────────────

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type fileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type part struct {
	Text       string    `json:"text,omitempty"`
	InlineData *blob     `json:"inlineData,omitempty"`
	FileData   *fileData `json:"fileData,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      *float32               `json:"temperature,omitempty"`
	ResponseMIMEType string                 `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]interface{} `json:"responseSchema,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// APIError is a non-quota error response from the service.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini http %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini http %d: %s", e.StatusCode, e.Message)
}

// Complete sends one generateContent request to model.
func (c *Client) Complete(ctx context.Context, model string, req llm.Request) (*llm.Response, error) {
	start := time.Now()

	var parts []part
	if req.AudioPath != "" {
		rf, err := c.ensureUploaded(ctx, model, req.AudioPath)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part{FileData: &fileData{MIMEType: rf.MIMEType, FileURI: rf.URI}})
	}
	for _, img := range req.ImagePaths {
		data, err := os.ReadFile(img)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", filepath.Base(img), err)
		}
		parts = append(parts, part{InlineData: &blob{
			MIMEType: mimeTypeFor(img),
			Data:     base64.StdEncoding.EncodeToString(data),
		}})
	}
	parts = append(parts, part{Text: req.Prompt})

	body := generateRequest{Contents: []content{{Role: "user", Parts: parts}}}
	gc := &generationConfig{}
	if req.Temperature > 0 {
		t := req.Temperature
		gc.Temperature = &t
	}
	if req.JSON {
		gc.ResponseMIMEType = "application/json"
		gc.ResponseSchema = req.Schema
	}
	if gc.Temperature != nil || gc.ResponseMIMEType != "" {
		body.GenerationConfig = gc
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	c.log(diaglog.LogEntry{
		Event: diaglog.EventCompletionRequest,
		Payload: map[string]interface{}{
			"model":      model,
			"has_audio":  req.AudioPath != "",
			"images":     len(req.ImagePaths),
			"json":       req.JSON,
			"prompt_len": len(req.Prompt),
		},
	})

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.cfg.BaseURL, model)
	respBody, err := c.do(ctx, model, http.MethodPost, url, bytes.NewReader(payload), map[string]string{
		"Content-Type": "application/json",
	})
	if err != nil {
		return nil, err
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &llm.MalformedError{Model: model, Raw: truncate(respBody, 500), Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Candidates) == 0 {
		reason := "no candidates"
		if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
			reason = "blocked: " + parsed.PromptFeedback.BlockReason
		}
		return nil, &llm.MalformedError{Model: model, Raw: truncate(respBody, 500), Err: fmt.Errorf("%s", reason)}
	}

	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}

	latency := time.Since(start)
	c.log(diaglog.LogEntry{
		Event: diaglog.EventCompletionResult,
		Payload: map[string]interface{}{
			"model":         model,
			"latency_ms":    latency.Milliseconds(),
			"finish_reason": parsed.Candidates[0].FinishReason,
			"text_len":      sb.Len(),
		},
	})

	return &llm.Response{Text: sb.String(), Model: model, Latency: latency}, nil
}

// do performs one authenticated request and classifies failures.
func (c *Client) do(ctx context.Context, model, method, url string, body io.Reader, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if err := classify(model, resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// classify maps a non-2xx response to *llm.QuotaError or *APIError.
func classify(model string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var eb apiErrorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.Error.Message
	if msg == "" {
		msg = truncate(body, 200)
	}
	apiErr := &APIError{StatusCode: status, Status: eb.Error.Status, Message: msg}

	switch {
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return &llm.QuotaError{Model: model, StatusCode: status, Err: apiErr}
	case eb.Error.Status == "RESOURCE_EXHAUSTED", eb.Error.Status == "UNAVAILABLE":
		return &llm.QuotaError{Model: model, StatusCode: status, Err: apiErr}
	case status >= 500 && llm.LooksLikeQuota(msg):
		return &llm.QuotaError{Model: model, StatusCode: status, Err: apiErr}
	}
	return apiErr
}

// ── helpers ──────────────────────────────────────────────────────────────────

var mimeTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mp3",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

func mimeTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// truncate returns the first n bytes of body as a string.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
