package transcript

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Formats lists every output format WriteAll understands.
var Formats = []string{"txt", "srt", "vtt", "md", "json"}

// Document is a finished transcript plus the metadata renderers print.
type Document struct {
	Title    string    `json:"title"`
	Source   string    `json:"source"`
	Duration float64   `json:"duration_seconds"`
	RunID    string    `json:"run_id,omitempty"`
	Models   []string  `json:"models,omitempty"`
	Context  string    `json:"context,omitempty"`
	Segments []Segment `json:"segments"`
}

// WriteText writes a plain text transcript with one segment per line, each
// prefixed by its timestamp in [HH:MM:SS] format. The file is written
// atomically (temp file + rename) to avoid partial writes.
func WriteText(path string, d *Document) error {
	var b strings.Builder
	for _, seg := range d.Segments {
		fmt.Fprintf(&b, "[%s] %s: %s\n", formatTextTimestamp(seg.Start), seg.Speaker, strings.TrimSpace(seg.Text))
	}
	return AtomicWrite(path, []byte(b.String()))
}

// WriteSRT writes a SubRip (.srt) subtitle file. Each segment is numbered
// sequentially with start/end timestamps in HH:MM:SS,mmm format.
func WriteSRT(path string, d *Document) error {
	var b strings.Builder
	for i, seg := range d.Segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", formatSRTTimestamp(seg.Start), formatSRTTimestamp(segmentEnd(seg)))
		fmt.Fprintf(&b, "%s: %s\n", seg.Speaker, strings.TrimSpace(seg.Text))
	}
	return AtomicWrite(path, []byte(b.String()))
}

// WriteVTT writes a WebVTT (.vtt) subtitle file with voice tags carrying the
// speaker label.
func WriteVTT(path string, d *Document) error {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for _, seg := range d.Segments {
		b.WriteByte('\n')
		fmt.Fprintf(&b, "%s --> %s\n", formatVTTTimestamp(seg.Start), formatVTTTimestamp(segmentEnd(seg)))
		fmt.Fprintf(&b, "<v %s>%s\n", seg.Speaker, strings.TrimSpace(seg.Text))
	}
	return AtomicWrite(path, []byte(b.String()))
}

// WriteMarkdown writes the final markdown document (no progress marker).
func WriteMarkdown(path string, d *Document) error {
	return AtomicWrite(path, []byte(RenderMarkdown(d, "")))
}

// WriteJSON writes the document as indented JSON.
func WriteJSON(path string, d *Document) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}
	return AtomicWrite(path, append(data, '\n'))
}

// RenderMarkdown renders the header, content context and transcript body.
// A non-empty status line is printed above the body; the live progress
// document uses it for its "in progress" marker.
func RenderMarkdown(d *Document, status string) string {
	var b strings.Builder
	title := d.Title
	if title == "" {
		title = "Transcript"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if d.Source != "" {
		fmt.Fprintf(&b, "- Source: `%s`\n", d.Source)
	}
	if d.Duration > 0 {
		fmt.Fprintf(&b, "- Duration: %s\n", formatTextTimestamp(d.Duration))
	}
	if len(d.Models) > 0 {
		fmt.Fprintf(&b, "- Models: %s\n", strings.Join(d.Models, ", "))
	}
	if d.RunID != "" {
		fmt.Fprintf(&b, "- Run: `%s`\n", d.RunID)
	}
	b.WriteString("\n## Content context\n\n")
	if d.Context != "" {
		b.WriteString(strings.TrimSpace(d.Context))
		b.WriteString("\n")
	} else {
		b.WriteString("_none_\n")
	}
	b.WriteString("\n## Transcript\n\n")
	if status != "" {
		fmt.Fprintf(&b, "_%s_\n\n", status)
	}
	b.WriteString(RenderMarkdownBody(d.Segments))
	return b.String()
}

// RenderMarkdownBody renders segments as markdown paragraphs.
func RenderMarkdownBody(segs []Segment) string {
	var b strings.Builder
	for _, seg := range segs {
		tone := ""
		if seg.Tone != "" {
			tone = fmt.Sprintf(" _(%s)_", seg.Tone)
		}
		fmt.Fprintf(&b, "**[%s] %s**%s: %s\n\n", FormatClock(seg.Start), seg.Speaker, tone, strings.TrimSpace(seg.Text))
	}
	return b.String()
}

// WriteAll writes the document in every requested format. basePath is the
// file path without extension (e.g. "/recordings/2024-01-15_meeting").
// If formats is nil or empty, defaults to ["md"]. Returns a combined error
// listing all failures.
func WriteAll(basePath string, d *Document, formats []string) ([]string, error) {
	if len(formats) == 0 {
		formats = []string{"md"}
	}
	var written []string
	var errs []string
	for _, f := range formats {
		path := basePath + "." + f
		var err error
		switch f {
		case "txt":
			err = WriteText(path, d)
		case "srt":
			err = WriteSRT(path, d)
		case "vtt":
			err = WriteVTT(path, d)
		case "md":
			err = WriteMarkdown(path, d)
		case "json":
			err = WriteJSON(path, d)
		default:
			errs = append(errs, fmt.Sprintf("unknown format %q", f))
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f, err))
			continue
		}
		written = append(written, path)
	}
	if len(errs) > 0 {
		return written, fmt.Errorf("transcript write errors: %s", strings.Join(errs, "; "))
	}
	return written, nil
}

// IsFormat reports whether f is a supported output format.
func IsFormat(f string) bool {
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

// segmentEnd enforces start <= end for renderers.
func segmentEnd(s Segment) float64 {
	if s.End < s.Start {
		return s.Start
	}
	return s.End
}

func secondsToDuration(sec float64) time.Duration {
	if sec < 0 {
		sec = 0
	}
	return time.Duration(math.Round(sec*1000)) * time.Millisecond
}

// FormatClock formats seconds as MM:SS, or HH:MM:SS past the hour.
func FormatClock(sec float64) string {
	d := secondsToDuration(sec)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// formatTextTimestamp formats seconds as HH:MM:SS for plain text output.
func formatTextTimestamp(sec float64) string {
	d := secondsToDuration(sec)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatSRTTimestamp formats seconds as HH:MM:SS,mmm (SRT subtitle format).
func formatSRTTimestamp(sec float64) string {
	d := secondsToDuration(sec)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// formatVTTTimestamp formats seconds as HH:MM:SS.mmm (WebVTT format).
func formatVTTTimestamp(sec float64) string {
	d := secondsToDuration(sec)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// AtomicWrite writes data to path atomically using a temp file + rename.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, "transcript-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error.
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", filepath.Base(path), err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	tmpFile = nil // prevent defer cleanup

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	return nil
}
