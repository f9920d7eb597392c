package engine

import (
	"testing"

	"github.com/tiroq/longscribe/internal/transcript"
)

func TestParseSegmentsShapes(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		count int
		start float64
	}{
		{"object", `{"segments":[{"speaker":"A","start":1.5,"end":3,"text":"hi"}]}`, 1, 1.5},
		{"bare array", `[{"speaker":"A","start":2,"text":"hi"},{"speaker":"B","start":4,"text":"yo"}]`, 2, 2},
		{"fenced", "```json\n{\"segments\":[{\"speaker\":\"A\",\"start\":0,\"text\":\"x\"}]}\n```", 1, 0},
		{"clock strings", `{"segments":[{"speaker":"A","start":"01:05","text":"x"}]}`, 1, 65},
		{"hour clock", `{"segments":[{"speaker":"A","start":"1:00:02.5","text":"x"}]}`, 1, 3602.5},
		{"empty list", `{"segments":[]}`, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs, err := ParseSegments(tt.body)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(segs) != tt.count {
				t.Fatalf("count = %d, want %d", len(segs), tt.count)
			}
			if tt.count > 0 && segs[0].Start != tt.start {
				t.Errorf("start = %v, want %v", segs[0].Start, tt.start)
			}
		})
	}
}

func TestParseSegmentsRejectsSchemaViolations(t *testing.T) {
	bodies := map[string]string{
		"not json":        `Sure! Here is the transcript`,
		"empty":           "   ",
		"no segments key": `{"items":[]}`,
		"missing speaker": `{"segments":[{"start":0,"text":"x"}]}`,
		"blank text":      `{"segments":[{"speaker":"A","start":0,"text":"  "}]}`,
		"missing start":   `{"segments":[{"speaker":"A","text":"x"}]}`,
		"negative start":  `{"segments":[{"speaker":"A","start":-4,"text":"x"}]}`,
		"bool start":      `{"segments":[{"speaker":"A","start":true,"text":"x"}]}`,
		"bad clock":       `{"segments":[{"speaker":"A","start":"soon","text":"x"}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseSegments(body); err == nil {
				t.Errorf("expected error for %q", body)
			}
		})
	}
}

func TestSynthesizeEnds(t *testing.T) {
	in := []transcript.Segment{
		{Speaker: "A", Start: 0},
		{Speaker: "B", Start: 10, End: 12},
		{Speaker: "A", Start: 20, End: 15},
		{Speaker: "B", Start: 598},
	}
	out := SynthesizeEnds(in, 600, 3)
	want := []float64{10, 12, 598, 600}
	for i, w := range want {
		if out[i].End != w {
			t.Errorf("segment %d end = %v, want %v", i, out[i].End, w)
		}
		if out[i].End < out[i].Start {
			t.Errorf("segment %d end before start", i)
		}
	}
	if in[0].End != 0 {
		t.Error("input must not be modified")
	}

	past := SynthesizeEnds([]transcript.Segment{{Start: 650}}, 600, 3)
	if past[0].End != 650 {
		t.Errorf("overshooting start should clamp end to start, got %v", past[0].End)
	}

	mid := SynthesizeEnds([]transcript.Segment{{Start: 100}}, 600, 3)
	if mid[0].End != 103 {
		t.Errorf("trailing end = %v, want 103", mid[0].End)
	}
}
