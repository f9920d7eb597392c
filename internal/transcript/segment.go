// Package transcript defines the speaker-labelled segment type and renders
// assembled transcripts to subtitle, markdown, plain-text and JSON files.
package transcript

import (
	"fmt"
	"strings"
)

// Speaker and marker used for windows that could not be transcribed.
const (
	SystemSpeaker = "SYSTEM"
	ErrorMarker   = "[ERROR]"
)

// Segment is one utterance with timing in seconds. Times are window-local
// while a window is being transcribed and absolute once assembled.
type Segment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Tone    string  `json:"tone,omitempty"`
}

// IsSystem reports whether s is a placeholder inserted by the pipeline rather
// than transcribed speech.
func (s Segment) IsSystem() bool {
	return s.Speaker == SystemSpeaker
}

// Offset returns a copy of s shifted by sec seconds.
func (s Segment) Offset(sec float64) Segment {
	s.Start += sec
	s.End += sec
	return s
}

// Line formats s as "[MM:SS] Speaker: text", the form used for context tails
// and plain-text output.
func (s Segment) Line() string {
	return fmt.Sprintf("[%s] %s: %s", FormatClock(s.Start), s.Speaker, strings.TrimSpace(s.Text))
}

// Speakers returns the distinct speaker labels of segs in first-seen order,
// skipping system placeholders.
func Speakers(segs []Segment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range segs {
		if s.IsSystem() || s.Speaker == "" || seen[s.Speaker] {
			continue
		}
		seen[s.Speaker] = true
		out = append(out, s.Speaker)
	}
	return out
}

// Tail returns the formatted last n lines of segs.
func Tail(segs []Segment, n int) string {
	if n <= 0 || len(segs) == 0 {
		return ""
	}
	if len(segs) > n {
		segs = segs[len(segs)-n:]
	}
	lines := make([]string, len(segs))
	for i, s := range segs {
		lines[i] = s.Line()
	}
	return strings.Join(lines, "\n")
}

// Placeholder returns the visible segment inserted where a window failed.
func Placeholder(start, end float64, reason string) Segment {
	return Segment{
		Speaker: SystemSpeaker,
		Start:   start,
		End:     end,
		Text:    fmt.Sprintf("%s %s-%s could not be transcribed: %s", ErrorMarker, FormatClock(start), FormatClock(end), reason),
	}
}
