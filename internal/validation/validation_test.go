package validation

import (
	"reflect"
	"strings"
	"testing"

	"github.com/tiroq/longscribe/internal/transcript"
)

func segsAt(speaker string, starts ...float64) []transcript.Segment {
	out := make([]transcript.Segment, len(starts))
	for i, s := range starts {
		out[i] = transcript.Segment{Speaker: speaker, Start: s, Text: "x"}
	}
	return out
}

func TestValidateEmptyIsInvalid(t *testing.T) {
	o := DefaultPolicy().Validate(nil, 600, nil)
	if o.Valid {
		t.Fatal("empty outcome must be invalid")
	}
	if !o.Has(Empty) || o.Issues[0].Severity != SeverityError {
		t.Errorf("expected empty error, got %+v", o.Issues)
	}
	if !o.NeedsRetry() {
		t.Error("empty outcome should request a retry")
	}
}

func TestValidateUnderflowScenario(t *testing.T) {
	o := DefaultPolicy().Validate(segsAt("Alice", 0, 5, 10), 1200, nil)
	if !o.Valid {
		t.Fatal("underflow is a warning outside strict mode")
	}
	if o.CoveragePercent < 0.83 || o.CoveragePercent > 0.84 {
		t.Errorf("coverage = %v, want ~0.83", o.CoveragePercent)
	}
	if !o.Has(TimingUnderflow) {
		t.Fatalf("expected timing_underflow, got %+v", o.Issues)
	}
	if !o.NeedsRetry() {
		t.Error("underflow should request a corrective retry")
	}
}

func TestValidateStrictUnderflowIsError(t *testing.T) {
	p := DefaultPolicy()
	p.Strict = true
	o := p.Validate(segsAt("Alice", 0, 5, 10), 1200, nil)
	if o.Valid {
		t.Error("strict underflow must be invalid")
	}
}

func TestValidateOverflowAndGap(t *testing.T) {
	o := DefaultPolicy().Validate(segsAt("Alice", 0, 100, 400, 690), 600, nil)
	if !o.Has(TimingOverflow) {
		t.Errorf("expected overflow, got %+v", o.Issues)
	}
	if !o.Has(TimingGap) {
		t.Errorf("expected gap, got %+v", o.Issues)
	}
	if o.Has(TimingUnderflow) {
		t.Errorf("did not expect underflow, got %+v", o.Issues)
	}
	if !o.Valid {
		t.Error("warnings only, outcome should be valid")
	}
}

func TestValidateCleanWindow(t *testing.T) {
	o := DefaultPolicy().Validate(segsAt("Alice", 0, 60, 150, 260, 370, 480, 590), 600, []string{"Alice"})
	if !o.Valid || len(o.Issues) != 0 {
		t.Errorf("expected clean outcome, got %+v", o)
	}
	if o.NeedsRetry() {
		t.Error("clean outcome should not retry")
	}
	if !strings.HasPrefix(o.Summary(), "valid coverage=98.3%") {
		t.Errorf("Summary() = %q", o.Summary())
	}
}

func TestValidateSpeakerInconsistency(t *testing.T) {
	starts := []float64{0, 100, 200, 300, 400, 500}
	o := DefaultPolicy().Validate(segsAt("Speaker 1", starts...), 600, []string{"Alice", "Bob"})
	if !o.Has(SpeakerInconsistency) {
		t.Fatalf("expected speaker_inconsistency, got %+v", o.Issues)
	}
	if o.NeedsRetry() {
		t.Error("speaker drift alone should not retry")
	}

	o = DefaultPolicy().Validate(segsAt("Speaker 1", starts...), 600, []string{"Speaker 1"})
	if o.Has(SpeakerInconsistency) {
		t.Error("no named speakers known, no inconsistency")
	}
}

func TestValidateIsDeterministic(t *testing.T) {
	segs := []transcript.Segment{
		{Speaker: "Speaker 2", Start: 300},
		{Speaker: "Speaker 1", Start: 0},
		{Speaker: "Speaker 2", Start: 10},
	}
	a := DefaultPolicy().Validate(segs, 600, []string{"Alice"})
	b := DefaultPolicy().Validate(segs, 600, []string{"Alice"})
	if !reflect.DeepEqual(a, b) {
		t.Errorf("outcomes differ: %+v vs %+v", a, b)
	}
	if segs[0].Start != 300 {
		t.Error("input must not be reordered")
	}
}

func TestValidateIgnoresSystemSegments(t *testing.T) {
	segs := []transcript.Segment{transcript.Placeholder(0, 600, "boom")}
	if o := DefaultPolicy().Validate(segs, 600, nil); !o.Has(Empty) {
		t.Errorf("placeholder-only window should be empty, got %+v", o)
	}
}
