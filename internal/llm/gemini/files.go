package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tiroq/longscribe/internal/diaglog"
	"github.com/tiroq/longscribe/internal/llm"
)

// ErrUploadTimeout is returned when an uploaded file never becomes active.
// It also matches llm.ErrMediaRejected.
var ErrUploadTimeout = fmt.Errorf("%w: uploaded file did not become active", llm.ErrMediaRejected)

// remoteFile mirrors the Files API resource.
type remoteFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	State    string `json:"state"`
}

// ensureUploaded uploads path once per client and waits for it to become
// ACTIVE. Subsequent calls reuse the remote handle.
func (c *Client) ensureUploaded(ctx context.Context, model, path string) (*remoteFile, error) {
	c.uploadsMu.Lock()
	defer c.uploadsMu.Unlock()

	if rf, ok := c.uploads[path]; ok {
		return rf, nil
	}

	rf, err := c.upload(ctx, model, path)
	if err != nil {
		return nil, err
	}
	rf, err = c.waitActive(ctx, model, rf)
	if err != nil {
		return nil, err
	}
	c.uploads[path] = rf
	return rf, nil
}

func (c *Client) upload(ctx context.Context, model, path string) (*remoteFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read media %s: %w", filepath.Base(path), err)
	}
	mt := mimeTypeFor(path)

	meta, _ := json.Marshal(map[string]interface{}{
		"file": map[string]string{"display_name": filepath.Base(path)},
	})

	// Start a resumable session; the upload URL comes back in a header.
	startReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/upload/v1beta/files", bytes.NewReader(meta))
	if err != nil {
		return nil, fmt.Errorf("create upload request: %w", err)
	}
	startReq.Header.Set("x-goog-api-key", c.cfg.APIKey)
	startReq.Header.Set("Content-Type", "application/json")
	startReq.Header.Set("X-Goog-Upload-Protocol", "resumable")
	startReq.Header.Set("X-Goog-Upload-Command", "start")
	startReq.Header.Set("X-Goog-Upload-Header-Content-Length", itoa(int64(len(data))))
	startReq.Header.Set("X-Goog-Upload-Header-Content-Type", mt)

	resp, err := c.client.Do(startReq)
	if err != nil {
		return nil, fmt.Errorf("start upload: %w", err)
	}
	var startBody bytes.Buffer
	_, _ = startBody.ReadFrom(resp.Body)
	resp.Body.Close()
	if err := classify(model, resp.StatusCode, startBody.Bytes()); err != nil {
		return nil, fmt.Errorf("start upload: %w", err)
	}
	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return nil, fmt.Errorf("start upload: missing upload url")
	}

	body, err := c.do(ctx, model, http.MethodPost, uploadURL, bytes.NewReader(data), map[string]string{
		"X-Goog-Upload-Offset":  "0",
		"X-Goog-Upload-Command": "upload, finalize",
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}

	var parsed struct {
		File remoteFile `json:"file"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if parsed.File.MIMEType == "" {
		parsed.File.MIMEType = mt
	}
	return &parsed.File, nil
}

// waitActive polls the file resource until it is ACTIVE, FAILED or the poll
// budget runs out.
func (c *Client) waitActive(ctx context.Context, model string, rf *remoteFile) (*remoteFile, error) {
	for poll := 0; ; poll++ {
		switch strings.ToUpper(rf.State) {
		case "ACTIVE", "":
			return rf, nil
		case "FAILED":
			return nil, fmt.Errorf("%w: file %s processing failed", llm.ErrMediaRejected, rf.Name)
		}
		if poll >= c.cfg.MaxPolls {
			return nil, fmt.Errorf("%w: %s after %d polls", ErrUploadTimeout, rf.Name, poll)
		}

		c.log(diaglog.LogEntry{
			Event:   diaglog.EventUploadPoll,
			Payload: map[string]interface{}{"file": rf.Name, "state": rf.State, "poll": poll + 1},
		})
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return nil, err
		}

		body, err := c.do(ctx, model, http.MethodGet, c.cfg.BaseURL+"/v1beta/"+rf.Name, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("poll %s: %w", rf.Name, err)
		}
		var next remoteFile
		if err := json.Unmarshal(body, &next); err != nil {
			return nil, fmt.Errorf("decode file state: %w", err)
		}
		if next.MIMEType == "" {
			next.MIMEType = rf.MIMEType
		}
		rf = &next
	}
}

var _ llm.Backend = (*Client)(nil)
