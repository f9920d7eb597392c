package engine

import (
	"fmt"
	"strings"

	"github.com/tiroq/longscribe/internal/transcript"
	"github.com/tiroq/longscribe/internal/validation"
)

// BuildPrompt assembles the transcription instructions for one window. hint
// is appended verbatim when non-empty.
func BuildPrompt(in Input, hint string) string {
	w := in.Window
	dur := w.Duration()
	var b strings.Builder

	total := in.TotalWindows
	if total < w.Index+1 {
		total = w.Index + 1
	}
	fmt.Fprintf(&b, "You are transcribing part %d of %d of a longer recording. ", w.Index+1, total)
	fmt.Fprintf(&b, "This audio chunk covers %s to %s of the original and lasts %.0f seconds.\n\n",
		transcript.FormatClock(w.Start), transcript.FormatClock(w.End), dur)

	if c := strings.TrimSpace(in.Context); c != "" {
		b.WriteString("Content context:\n")
		b.WriteString(c)
		b.WriteString("\n\n")
	}

	if len(in.KnownSpeakers) > 0 {
		fmt.Fprintf(&b, "Speakers identified so far: %s. Keep using exactly these labels for the same people and only introduce a new label for a new voice.\n\n",
			strings.Join(in.KnownSpeakers, ", "))
	} else {
		b.WriteString("No speakers have been identified yet. Use real names when they are stated or clearly implied, otherwise Speaker 1, Speaker 2 and so on.\n\n")
	}

	if tail := strings.TrimSpace(in.PreviousTail); tail != "" {
		b.WriteString("End of the previous part (already transcribed, do NOT transcribe it again; continue from where it stops):\n<<<\n")
		b.WriteString(tail)
		b.WriteString("\n>>>\n\n")
	}

	b.WriteString("Instructions:\n")
	b.WriteString("- Transcribe every utterance in this chunk verbatim, in the original language.\n")
	fmt.Fprintf(&b, "- start and end are seconds from the beginning of THIS chunk, between 0 and %.0f.\n", dur)
	b.WriteString("- Start a new segment whenever the speaker changes.\n")
	b.WriteString("- tone is optional: one or two words describing delivery when notable.\n")
	b.WriteString(`- Respond with JSON only: {"segments":[{"speaker":"...","start":0.0,"end":4.2,"text":"...","tone":"..."}]}`)
	b.WriteString("\n")

	if hint != "" {
		b.WriteString("\n")
		b.WriteString(hint)
		b.WriteString("\n")
	}
	return b.String()
}

// CorrectiveHint explains why the previous attempt was rejected and restates
// the expected duration and timestamp range.
func CorrectiveHint(windowLength float64, o validation.Outcome) string {
	var b strings.Builder
	b.WriteString("CORRECTION: your previous answer for this chunk was rejected.")
	if o.Has(validation.Empty) {
		b.WriteString(" The previous response contained no segments.")
	}
	for _, is := range o.Issues {
		if is.Kind == validation.Empty || is.Kind == validation.SpeakerInconsistency {
			continue
		}
		fmt.Fprintf(&b, " Problem: %s.", is.Message)
	}
	fmt.Fprintf(&b, " The chunk lasts exactly %.0f seconds. Timestamps must run from about 0 to about %.0f and cover the whole chunk without long unexplained gaps.", windowLength, windowLength)
	return b.String()
}
