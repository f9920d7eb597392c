package window

import (
	"errors"
	"math"
	"testing"
)

func TestPlanSingleWindowShortcut(t *testing.T) {
	windows, err := Plan(300, 600, 60)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("want 1 window, got %d", len(windows))
	}
	if windows[0].Start != 0 || windows[0].End != 300 {
		t.Errorf("want [0,300], got [%v,%v]", windows[0].Start, windows[0].End)
	}
}

func TestPlanExactWindowLength(t *testing.T) {
	windows, err := Plan(600, 600, 60)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(windows) != 1 || windows[0].End != 600 {
		t.Fatalf("want single [0,600] window, got %+v", windows)
	}
}

func TestPlanTwoWindows(t *testing.T) {
	windows, err := Plan(1200, 600, 60)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("want 2 windows, got %d: %+v", len(windows), windows)
	}
	if windows[0].Start != 0 || windows[0].End != 600 {
		t.Errorf("window 0: got [%v,%v]", windows[0].Start, windows[0].End)
	}
	if windows[1].Start != 540 || windows[1].End != 1200 {
		t.Errorf("window 1: got [%v,%v]", windows[1].Start, windows[1].End)
	}
}

func TestPlanInvariants(t *testing.T) {
	cases := []struct {
		total, length, overlap float64
	}{
		{1, 600, 60},
		{601, 600, 60},
		{1200, 600, 60},
		{1201, 600, 60},
		{3600, 600, 60},
		{5432.7, 300, 30},
		{100, 10, 0},
		{99.5, 10, 9},
	}
	for _, tc := range cases {
		windows, err := Plan(tc.total, tc.length, tc.overlap)
		if err != nil {
			t.Fatalf("Plan(%v,%v,%v): %v", tc.total, tc.length, tc.overlap, err)
		}
		if windows[0].Start != 0 {
			t.Errorf("total=%v: first window starts at %v", tc.total, windows[0].Start)
		}
		last := windows[len(windows)-1]
		if last.End != tc.total {
			t.Errorf("total=%v: last window ends at %v", tc.total, last.End)
		}
		step := tc.length - tc.overlap
		for i, w := range windows {
			if w.Index != i {
				t.Errorf("total=%v: window %d has index %d", tc.total, i, w.Index)
			}
			if w.Duration() <= 0 {
				t.Errorf("total=%v: window %d has length %v", tc.total, i, w.Duration())
			}
			if i == 0 {
				continue
			}
			prev := windows[i-1]
			if math.Abs(w.Start-(prev.Start+step)) > 1e-9 {
				t.Errorf("total=%v: window %d starts at %v, want %v", tc.total, i, w.Start, prev.Start+step)
			}
			// No gaps: each window starts before the previous one ends.
			if w.Start > prev.End {
				t.Errorf("total=%v: gap between window %d and %d", tc.total, i-1, i)
			}
			if i < len(windows)-1 && math.Abs(prev.End-w.Start-tc.overlap) > 1e-9 {
				t.Errorf("total=%v: overlap between %d and %d is %v", tc.total, i-1, i, prev.End-w.Start)
			}
		}
	}
}

func TestPlanInvalidConfig(t *testing.T) {
	cases := []struct {
		name                   string
		total, length, overlap float64
	}{
		{"overlap equals window", 1200, 600, 600},
		{"overlap exceeds window", 1200, 600, 700},
		{"zero duration", 0, 600, 60},
		{"negative window", 1200, -1, 0},
		{"negative overlap", 1200, 600, -5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Plan(tc.total, tc.length, tc.overlap)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("want ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestFormatClock(t *testing.T) {
	cases := map[float64]string{
		0:       "00:00",
		59.9:    "00:59",
		540:     "09:00",
		3600:    "01:00:00",
		3725.25: "01:02:05",
		-3:      "00:00",
	}
	for in, want := range cases {
		if got := FormatClock(in); got != want {
			t.Errorf("FormatClock(%v) = %q, want %q", in, got, want)
		}
	}
}
