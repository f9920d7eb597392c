// Package validation checks a window's transcript against the timing and
// speaker properties expected of it.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tiroq/longscribe/internal/speakers"
	"github.com/tiroq/longscribe/internal/transcript"
)

// IssueKind identifies a validation finding.
type IssueKind string

const (
	TimingUnderflow      IssueKind = "timing_underflow"
	TimingOverflow       IssueKind = "timing_overflow"
	TimingGap            IssueKind = "timing_gap"
	SpeakerInconsistency IssueKind = "speaker_inconsistency"
	Empty                IssueKind = "empty"
)

// Severity of an issue. Only errors make an outcome invalid.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// overflowFactor is how far past the expected duration a start time may fall
// before it is flagged.
const overflowFactor = 1.1

// Issue is one finding.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
}

// Outcome is the result of validating one attempt.
type Outcome struct {
	Valid           bool    `json:"valid"`
	CoveragePercent float64 `json:"coverage_percent"`
	Issues          []Issue `json:"issues,omitempty"`
}

// Policy holds the thresholds validation applies.
type Policy struct {
	MinCoveragePercent float64
	MaxGapSeconds      float64
	Strict             bool // underflow becomes an error
}

// DefaultPolicy returns the default thresholds.
func DefaultPolicy() Policy {
	return Policy{MinCoveragePercent: 60, MaxGapSeconds: 120}
}

// Validate evaluates window-local segments against the expected window
// duration and the speakers known so far. It is a pure function of its
// inputs.
func (p Policy) Validate(segs []transcript.Segment, expectedDuration float64, known []string) Outcome {
	var out Outcome

	starts := make([]float64, 0, len(segs))
	for _, s := range segs {
		if s.IsSystem() {
			continue
		}
		starts = append(starts, s.Start)
	}
	if len(starts) == 0 {
		out.Issues = append(out.Issues, Issue{
			Kind:     Empty,
			Severity: SeverityError,
			Message:  "response contained no transcript segments",
		})
		return out
	}
	sort.Float64s(starts)
	minStart, maxStart := starts[0], starts[len(starts)-1]

	if expectedDuration > 0 {
		out.CoveragePercent = (maxStart - minStart) / expectedDuration * 100

		if out.CoveragePercent < p.MinCoveragePercent {
			sev := SeverityWarning
			if p.Strict {
				sev = SeverityError
			}
			out.Issues = append(out.Issues, Issue{
				Kind:     TimingUnderflow,
				Severity: sev,
				Message: fmt.Sprintf("timestamps span %.1fs of %.0fs (%.2f%% coverage, minimum %.0f%%)",
					maxStart-minStart, expectedDuration, out.CoveragePercent, p.MinCoveragePercent),
			})
		}
		if maxStart > expectedDuration*overflowFactor {
			out.Issues = append(out.Issues, Issue{
				Kind:     TimingOverflow,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("latest start %.1fs exceeds window duration %.0fs", maxStart, expectedDuration),
			})
		}
	}

	var gap, gapAt float64
	for i := 1; i < len(starts); i++ {
		if d := starts[i] - starts[i-1]; d > gap {
			gap, gapAt = d, starts[i-1]
		}
	}
	if p.MaxGapSeconds > 0 && gap > p.MaxGapSeconds {
		out.Issues = append(out.Issues, Issue{
			Kind:     TimingGap,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%.1fs without speech after %s (maximum %.0fs)", gap, transcript.FormatClock(gapAt), p.MaxGapSeconds),
		})
	}

	if hasNamed(known) {
		chunk := transcript.Speakers(segs)
		if speakers.AllGeneric(chunk) {
			out.Issues = append(out.Issues, Issue{
				Kind:     SpeakerInconsistency,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("generic labels %s while named speakers are known", strings.Join(chunk, ", ")),
			})
		}
	}

	out.Valid = true
	for _, is := range out.Issues {
		if is.Severity == SeverityError {
			out.Valid = false
			break
		}
	}
	return out
}

func hasNamed(known []string) bool {
	for _, k := range known {
		if !speakers.IsGeneric(k) {
			return true
		}
	}
	return false
}

// Has reports whether the outcome contains an issue of kind.
func (o Outcome) Has(kind IssueKind) bool {
	for _, is := range o.Issues {
		if is.Kind == kind {
			return true
		}
	}
	return false
}

// HasTimingIssues reports underflow, overflow or gap findings.
func (o Outcome) HasTimingIssues() bool {
	return o.Has(TimingUnderflow) || o.Has(TimingOverflow) || o.Has(TimingGap)
}

// NeedsRetry reports whether another attempt with a corrective hint is
// warranted. Speaker drift alone is left to the reconciler.
func (o Outcome) NeedsRetry() bool {
	return !o.Valid || o.HasTimingIssues()
}

// Summary renders a one-line description for logs and the ledger.
func (o Outcome) Summary() string {
	state := "valid"
	if !o.Valid {
		state = "invalid"
	}
	if len(o.Issues) == 0 {
		return fmt.Sprintf("%s coverage=%.1f%%", state, o.CoveragePercent)
	}
	kinds := make([]string, len(o.Issues))
	for i, is := range o.Issues {
		kinds[i] = fmt.Sprintf("%s(%s)", is.Kind, is.Severity)
	}
	return fmt.Sprintf("%s coverage=%.1f%% issues=%s", state, o.CoveragePercent, strings.Join(kinds, ","))
}
