package cache

import (
	"os"
	"testing"

	"github.com/tiroq/longscribe/internal/transcript"
	"github.com/tiroq/longscribe/internal/validation"
	"github.com/tiroq/longscribe/internal/window"
)

func TestWindowRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	w := window.Window{Index: 1, Start: 540, End: 1200}

	if _, ok, err := s.LoadWindow(w); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	r := &WindowResult{
		Window:     w,
		Segments:   []transcript.Segment{{Speaker: "Alice", Start: 1, End: 4, Text: "hi"}},
		Validation: validation.Outcome{Valid: true, CoveragePercent: 80},
		Attempts:   2,
		Model:      "gemini-2.5-flash",
	}
	if err := s.SaveWindow(r); err != nil {
		t.Fatalf("SaveWindow: %v", err)
	}

	got, ok, err := s.LoadWindow(w)
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if got.Attempts != 2 || got.Segments[0].Text != "hi" || got.SavedAt.IsZero() {
		t.Errorf("unexpected cached result %+v", got)
	}
}

func TestLoadWindowRejectsDifferentPlan(t *testing.T) {
	s := New(t.TempDir())
	_ = s.SaveWindow(&WindowResult{
		Window:   window.Window{Index: 0, Start: 0, End: 600},
		Segments: []transcript.Segment{{Speaker: "A", Text: "x"}},
	})
	if _, ok, _ := s.LoadWindow(window.Window{Index: 0, Start: 0, End: 300}); ok {
		t.Error("entry for a different range must be a miss")
	}
}

func TestSaveWindowRefusesPlaceholders(t *testing.T) {
	s := New(t.TempDir())
	w := window.Window{Index: 2, Start: 1080, End: 1680}
	err := s.SaveWindow(&WindowResult{Window: w, Segments: []transcript.Segment{transcript.Placeholder(1080, 1680, "quota")}})
	if err == nil {
		t.Fatal("expected placeholder to be refused")
	}
	if err := s.SaveWindow(&WindowResult{Window: w}); err == nil {
		t.Fatal("expected empty result to be refused")
	}
	if _, ok, _ := s.LoadWindow(w); ok {
		t.Error("nothing should be cached")
	}
}

func TestCorruptEntryIsMiss(t *testing.T) {
	s := New(t.TempDir())
	w := window.Window{Index: 0, End: 10}
	_ = os.MkdirAll(s.Dir+"/windows", 0755)
	_ = os.WriteFile(s.WindowPath(0), []byte("{broken"), 0644)
	if _, ok, err := s.LoadWindow(w); ok || err != nil {
		t.Errorf("expected silent miss, ok=%v err=%v", ok, err)
	}
}

func TestContextRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	if _, ok, _ := s.LoadContext(); ok {
		t.Fatal("expected miss")
	}
	if err := s.SaveContext(&Context{Description: "Two hosts discuss Go."}); err != nil {
		t.Fatal(err)
	}
	c, ok, err := s.LoadContext()
	if !ok || err != nil || c.Description != "Two hosts discuss Go." {
		t.Errorf("got %+v ok=%v err=%v", c, ok, err)
	}
}
