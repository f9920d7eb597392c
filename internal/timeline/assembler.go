// Package timeline turns window-local transcripts into one absolute
// timeline and keeps a live markdown document of the transcript so far.
package timeline

import (
	"fmt"

	"github.com/tiroq/longscribe/internal/transcript"
	"github.com/tiroq/longscribe/internal/window"
)

// LiveFileName is the live progress document inside a cache directory.
const LiveFileName = "transcript.md"

// Assembler accumulates windows in order. It is owned by the pipeline's
// single control loop.
type Assembler struct {
	header   transcript.Document
	total    int
	livePath string

	segments  []transcript.Segment
	done      int
	lastStart float64
	hasLast   bool
	prevEnd   float64 // end of the last window added
	hasPrev   bool
}

// New returns an assembler for total windows. header supplies the fixed
// title, source, duration and context of the live document; livePath may be
// empty to disable it.
func New(header transcript.Document, total int, livePath string) *Assembler {
	header.Segments = nil
	return &Assembler{header: header, total: total, livePath: livePath}
}

// Add offsets local segments by w.Start and merges them into the timeline.
// Segments that start inside the overlap with the previous window, before
// the last segment already kept, are dropped as repeats. Nothing past the
// previous window's end is dropped, so a model that overshot its window
// cannot hide the next window's speech. The timeline stays sorted by
// start. It returns the kept absolute segments in the model's order.
func (a *Assembler) Add(w window.Window, local []transcript.Segment) []transcript.Segment {
	cutoff, hasCutoff := a.cutoff()
	kept := make([]transcript.Segment, 0, len(local))
	for _, s := range local {
		abs := s.Offset(w.Start)
		if hasCutoff && abs.Start < cutoff {
			continue
		}
		kept = append(kept, abs)
	}
	a.merge(kept)
	a.finishWindow(w)
	return kept
}

// AddPlaceholder records a failed window with a visible SYSTEM segment
// spanning the part of w not covered by earlier windows.
func (a *Assembler) AddPlaceholder(w window.Window, reason string) transcript.Segment {
	start := w.Start
	if cutoff, ok := a.cutoff(); ok && cutoff > start {
		start = cutoff
	}
	if start > w.End {
		start = w.End
	}
	p := transcript.Placeholder(start, w.End, reason)
	a.merge([]transcript.Segment{p})
	a.finishWindow(w)
	return p
}

// cutoff is the de-duplication bound for the next window: the last kept
// start, capped at the previous window's end.
func (a *Assembler) cutoff() (float64, bool) {
	if !a.hasLast {
		return 0, false
	}
	c := a.lastStart
	if a.hasPrev && a.prevEnd < c {
		c = a.prevEnd
	}
	return c, true
}

func (a *Assembler) finishWindow(w window.Window) {
	a.prevEnd = w.End
	a.hasPrev = true
	a.done++
}

// merge inserts segs in start order. A segment goes after every existing
// segment with the same or an earlier start, so the relative order of
// equal starts and of one window's segments is kept.
func (a *Assembler) merge(segs []transcript.Segment) {
	for _, s := range segs {
		i := len(a.segments)
		for i > 0 && a.segments[i-1].Start > s.Start {
			i--
		}
		a.segments = append(a.segments, transcript.Segment{})
		copy(a.segments[i+1:], a.segments[i:])
		a.segments[i] = s
		if !a.hasLast || s.Start > a.lastStart {
			a.lastStart = s.Start
			a.hasLast = true
		}
	}
}

// Segments returns a copy of the assembled timeline.
func (a *Assembler) Segments() []transcript.Segment {
	out := make([]transcript.Segment, len(a.segments))
	copy(out, a.segments)
	return out
}

// Done returns how many windows have been added.
func (a *Assembler) Done() int { return a.done }

// Tail returns the last n transcript lines, skipping system placeholders,
// for the next window's prompt.
func (a *Assembler) Tail(n int) string {
	spoken := make([]transcript.Segment, 0, n)
	for i := len(a.segments) - 1; i >= 0 && len(spoken) < n; i-- {
		if !a.segments[i].IsSystem() {
			spoken = append(spoken, a.segments[i])
		}
	}
	for i, j := 0, len(spoken)-1; i < j; i, j = i+1, j-1 {
		spoken[i], spoken[j] = spoken[j], spoken[i]
	}
	return transcript.Tail(spoken, n)
}

// Document returns the header plus every assembled segment.
func (a *Assembler) Document() *transcript.Document {
	d := a.header
	d.Segments = a.Segments()
	return &d
}

// WriteLive rewrites the live document with an in-progress marker.
func (a *Assembler) WriteLive() error {
	return a.writeLive(fmt.Sprintf("Transcription in progress (%d/%d windows)", a.done, a.total))
}

// Finish rewrites the live document one last time without the marker.
func (a *Assembler) Finish() error {
	return a.writeLive("")
}

func (a *Assembler) writeLive(status string) error {
	if a.livePath == "" {
		return nil
	}
	if err := transcript.AtomicWrite(a.livePath, []byte(transcript.RenderMarkdown(a.Document(), status))); err != nil {
		return fmt.Errorf("write live transcript: %w", err)
	}
	return nil
}

// Assemble offsets and concatenates already-ordered window results in one
// pass without a live document.
func Assemble(windows []window.Window, locals [][]transcript.Segment) []transcript.Segment {
	a := New(transcript.Document{}, len(windows), "")
	for i, w := range windows {
		if i < len(locals) {
			a.Add(w, locals[i])
		}
	}
	return a.Segments()
}
