package timeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tiroq/longscribe/internal/transcript"
	"github.com/tiroq/longscribe/internal/window"
)

func seg(speaker string, start float64, text string) transcript.Segment {
	return transcript.Segment{Speaker: speaker, Start: start, End: start + 2, Text: text}
}

func TestAssembleOffsetsAndOrders(t *testing.T) {
	windows := []window.Window{{Index: 0, Start: 0, End: 600}, {Index: 1, Start: 540, End: 1200}}
	locals := [][]transcript.Segment{
		{seg("Alice", 0, "a"), seg("Bob", 300, "b"), seg("Alice", 550, "c")},
		{seg("Alice", 5, "repeat of c"), seg("Bob", 30, "d"), seg("Alice", 600, "e")},
	}
	got := Assemble(windows, locals)

	var texts []string
	for _, s := range got {
		texts = append(texts, s.Text)
	}
	if strings.Join(texts, ",") != "a,b,c,d,e" {
		t.Fatalf("texts = %v", texts)
	}
	if got[3].Start != 570 || got[3].End != 572 {
		t.Errorf("window 1 offset not applied: %+v", got[3])
	}
	for i := 1; i < len(got); i++ {
		if got[i].Start < got[i-1].Start {
			t.Errorf("start times not monotonic at %d", i)
		}
	}
	for _, s := range got[3:] {
		if s.Start < windows[1].Start || s.Start >= windows[1].End {
			t.Errorf("segment %+v outside window 1", s)
		}
	}
}

func TestAddKeepsInWindowOrder(t *testing.T) {
	a := New(transcript.Document{}, 1, "")
	kept := a.Add(window.Window{Start: 0, End: 600}, []transcript.Segment{seg("A", 10, "x"), seg("B", 5, "y")})
	if len(kept) != 2 || kept[1].Text != "y" {
		t.Errorf("segments inside one window must not be reordered or dropped: %+v", kept)
	}
}

func TestPlaceholderStaysVisibleAndMonotonic(t *testing.T) {
	a := New(transcript.Document{}, 3, "")
	a.Add(window.Window{Index: 0, Start: 0, End: 600}, []transcript.Segment{seg("A", 590, "late")})
	p := a.AddPlaceholder(window.Window{Index: 1, Start: 540, End: 1200}, "all models exhausted")

	if !p.IsSystem() || !strings.Contains(p.Text, transcript.ErrorMarker) {
		t.Errorf("placeholder not marked: %+v", p)
	}
	if p.Start != 590 || p.End != 1200 {
		t.Errorf("placeholder timing = %v-%v", p.Start, p.End)
	}
	a.Add(window.Window{Index: 2, Start: 1140, End: 1500}, []transcript.Segment{seg("A", 0, "after")})
	if got := a.Segments(); len(got) != 3 || got[2].Start != 1140 {
		t.Errorf("unexpected timeline %+v", got)
	}
	if a.Done() != 3 {
		t.Errorf("Done() = %d", a.Done())
	}
}

func TestTailSkipsPlaceholders(t *testing.T) {
	a := New(transcript.Document{}, 2, "")
	a.Add(window.Window{Start: 0, End: 60}, []transcript.Segment{seg("A", 1, "one"), seg("B", 2, "two"), seg("A", 3, "three")})
	a.AddPlaceholder(window.Window{Start: 60, End: 120}, "boom")

	tail := a.Tail(2)
	if tail != "[00:02] B: two\n[00:03] A: three" {
		t.Errorf("Tail = %q", tail)
	}
}

func TestLiveDocumentLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), LiveFileName)
	a := New(transcript.Document{Title: "talk", Source: "talk.mp3", Duration: 1200, Context: "Two speakers discuss Go."}, 2, path)

	a.Add(window.Window{Index: 0, Start: 0, End: 600}, []transcript.Segment{seg("Alice", 1, "hello")})
	if err := a.WriteLive(); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	content := string(data)
	for _, want := range []string{"# talk", "Two speakers discuss Go.", "_Transcription in progress (1/2 windows)_", "**[00:01] Alice**: hello"} {
		if !strings.Contains(content, want) {
			t.Errorf("live doc missing %q:\n%s", want, content)
		}
	}

	a.Add(window.Window{Index: 1, Start: 540, End: 1200}, []transcript.Segment{seg("Bob", 100, "bye")})
	if err := a.Finish(); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(path)
	if strings.Contains(string(data), "in progress") {
		t.Error("final document must drop the progress marker")
	}
	if !strings.Contains(string(data), "**[10:40] Bob**: bye") {
		t.Errorf("final document missing second window:\n%s", data)
	}
}

func TestOvershootDoesNotHideNextWindow(t *testing.T) {
	a := New(transcript.Document{}, 2, "")
	a.Add(window.Window{Index: 0, Start: 0, End: 600},
		[]transcript.Segment{seg("A", 0, "a"), seg("B", 300, "b"), seg("A", 650, "overshoot")})

	kept := a.Add(window.Window{Index: 1, Start: 540, End: 1200}, []transcript.Segment{
		seg("B", 50, "repeat"), // abs 590: inside the overlap, already covered
		seg("B", 60, "w1-600"),
		seg("A", 80, "w1-620"),
		seg("B", 100, "w1-640"),
		seg("A", 160, "w1-700"),
	})
	if len(kept) != 4 {
		t.Fatalf("kept %d segments from window 1, want 4: %+v", len(kept), kept)
	}

	got := a.Segments()
	var texts []string
	for i, s := range got {
		texts = append(texts, s.Text)
		if i > 0 && s.Start < got[i-1].Start {
			t.Errorf("start times not monotonic at %d: %+v", i, got)
		}
	}
	want := "a,b,w1-600,w1-620,w1-640,overshoot,w1-700"
	if strings.Join(texts, ",") != want {
		t.Errorf("timeline = %v, want %s", texts, want)
	}
}

func TestPlaceholderNeverInverted(t *testing.T) {
	a := New(transcript.Document{}, 2, "")
	a.Add(window.Window{Index: 0, Start: 0, End: 600}, []transcript.Segment{seg("A", 1300, "far overshoot")})
	p := a.AddPlaceholder(window.Window{Index: 1, Start: 540, End: 1200}, "all models exhausted")

	if p.Start > p.End {
		t.Fatalf("placeholder start %v after end %v", p.Start, p.End)
	}
	if p.Start != 600 || p.End != 1200 {
		t.Errorf("placeholder timing = %v-%v, want 600-1200", p.Start, p.End)
	}
}
