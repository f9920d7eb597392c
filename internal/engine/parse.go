package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tiroq/longscribe/internal/transcript"
)

// responseSchema constrains transcription output (Gemini OpenAPI subset).
var responseSchema = map[string]interface{}{
	"type": "OBJECT",
	"properties": map[string]interface{}{
		"segments": map[string]interface{}{
			"type": "ARRAY",
			"items": map[string]interface{}{
				"type": "OBJECT",
				"properties": map[string]interface{}{
					"speaker": map[string]interface{}{"type": "STRING"},
					"start":   map[string]interface{}{"type": "NUMBER"},
					"end":     map[string]interface{}{"type": "NUMBER"},
					"text":    map[string]interface{}{"type": "STRING"},
					"tone":    map[string]interface{}{"type": "STRING"},
				},
				"required": []string{"speaker", "start", "text"},
			},
		},
	},
	"required": []string{"segments"},
}

// seconds accepts a JSON number or a clock string ("83.5", "01:23", "1:02:03").
type seconds struct {
	v   float64
	set bool
}

func (s *seconds) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		v, err := parseClock(str)
		if err != nil {
			return err
		}
		s.v, s.set = v, true
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("timestamp %s is not a number", b)
	}
	s.v, s.set = f, true
	return nil
}

func parseClock(str string) (float64, error) {
	str = strings.TrimSpace(str)
	if str == "" {
		return 0, errors.New("empty timestamp")
	}
	parts := strings.Split(str, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("bad timestamp %q", str)
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, fmt.Errorf("bad timestamp %q", str)
		}
		total = total*60 + v
	}
	return total, nil
}

type wireSegment struct {
	Speaker *string  `json:"speaker"`
	Start   *seconds `json:"start"`
	End     *seconds `json:"end"`
	Text    *string  `json:"text"`
	Tone    string   `json:"tone"`
}

// ParseSegments decodes a transcription response. The body may be wrapped in
// a markdown code fence and may be either {"segments": [...]} or a bare
// array. Every segment needs a speaker, a non-negative start and text;
// anything else is rejected rather than partially accepted.
func ParseSegments(text string) ([]transcript.Segment, error) {
	body := stripFences(text)
	if body == "" {
		return nil, errors.New("empty response body")
	}

	var raw []wireSegment
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &raw); err != nil {
			return nil, fmt.Errorf("decode segment array: %w", err)
		}
	} else {
		var obj struct {
			Segments *[]wireSegment `json:"segments"`
		}
		if err := json.Unmarshal([]byte(body), &obj); err != nil {
			return nil, fmt.Errorf("decode response object: %w", err)
		}
		if obj.Segments == nil {
			return nil, errors.New(`response has no "segments" field`)
		}
		raw = *obj.Segments
	}

	segs := make([]transcript.Segment, 0, len(raw))
	for i, w := range raw {
		if w.Speaker == nil || strings.TrimSpace(*w.Speaker) == "" {
			return nil, fmt.Errorf("segment %d: missing speaker", i)
		}
		if w.Text == nil || strings.TrimSpace(*w.Text) == "" {
			return nil, fmt.Errorf("segment %d: missing text", i)
		}
		if w.Start == nil || !w.Start.set {
			return nil, fmt.Errorf("segment %d: missing start", i)
		}
		if w.Start.v < 0 || math.IsNaN(w.Start.v) || math.IsInf(w.Start.v, 0) {
			return nil, fmt.Errorf("segment %d: invalid start %v", i, w.Start.v)
		}
		seg := transcript.Segment{
			Speaker: strings.TrimSpace(*w.Speaker),
			Start:   w.Start.v,
			Text:    strings.TrimSpace(*w.Text),
			Tone:    strings.TrimSpace(w.Tone),
		}
		if w.End != nil && w.End.set {
			seg.End = w.End.v
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// stripFences removes a surrounding ```json ... ``` block.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// SynthesizeEnds fills in missing or inverted end times: a segment ends where
// the next one starts, and the last one trailing seconds after its start,
// clamped to the window length. The returned slice is a copy with
// end >= start for every segment.
func SynthesizeEnds(segs []transcript.Segment, windowLength, trailing float64) []transcript.Segment {
	out := make([]transcript.Segment, len(segs))
	copy(out, segs)
	for i := range out {
		s := &out[i]
		if s.End > s.Start {
			continue
		}
		end := s.Start + trailing
		if i+1 < len(out) && out[i+1].Start >= s.Start {
			end = out[i+1].Start
		} else if windowLength > 0 && end > windowLength {
			end = windowLength
		}
		if end < s.Start {
			end = s.Start
		}
		s.End = end
	}
	return out
}
