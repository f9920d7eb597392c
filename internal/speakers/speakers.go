// Package speakers tracks the speaker identities seen during a run and
// rewrites placeholder labels that drift between windows.
//
// The reconciliation is positional: generic labels in a window are paired
// with named known speakers in first-seen order. If two unnamed speakers
// appear in a different order than they were first named, they are mis-mapped.
// Nothing here verifies identity.
package speakers

import (
	"regexp"
	"strings"

	"github.com/tiroq/longscribe/internal/transcript"
)

// genericPattern matches placeholder labels such as "Speaker 1", "SPEAKER_02",
// "Person B", "Unknown" or "Participant #3".
var genericPattern = regexp.MustCompile(`(?i)^(speaker|person|participant|unknown|voice|spk|narrator)(\s*[#_-]?\s*(\d+|[a-z]))?$`)

// IsGeneric reports whether label is a placeholder rather than a name.
func IsGeneric(label string) bool {
	label = strings.TrimSpace(label)
	if label == "" {
		return true
	}
	return genericPattern.MatchString(label)
}

// AllGeneric reports whether labels is non-empty and every label is generic.
func AllGeneric(labels []string) bool {
	if len(labels) == 0 {
		return false
	}
	for _, l := range labels {
		if !IsGeneric(l) {
			return false
		}
	}
	return true
}

// Known is the ordered set of speaker identities observed so far in a run.
// It is owned by the single control loop and is not safe for concurrent use.
type Known struct {
	names []string
	seen  map[string]bool
}

// NewKnown returns a set seeded with initial labels.
func NewKnown(initial ...string) *Known {
	k := &Known{seen: make(map[string]bool)}
	k.Merge(initial)
	return k
}

// Merge adds labels not yet present, preserving insertion order.
func (k *Known) Merge(labels []string) {
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || l == transcript.SystemSpeaker || k.seen[l] {
			continue
		}
		k.seen[l] = true
		k.names = append(k.names, l)
	}
}

// Names returns every known label in insertion order.
func (k *Known) Names() []string {
	out := make([]string, len(k.names))
	copy(out, k.names)
	return out
}

// Named returns the non-generic labels in insertion order.
func (k *Known) Named() []string {
	var out []string
	for _, n := range k.names {
		if !IsGeneric(n) {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of known labels.
func (k *Known) Len() int { return len(k.names) }

// Reconcile builds a label mapping for a window's speakers. A mapping is
// produced only when every chunk speaker is generic and known holds named
// identities; pairs are formed in first-seen order and truncated at the
// shorter list.
func Reconcile(chunkSpeakers []string, known *Known) map[string]string {
	mapping := make(map[string]string)
	if known == nil || !AllGeneric(chunkSpeakers) {
		return mapping
	}
	named := known.Named()
	for i, generic := range chunkSpeakers {
		if i >= len(named) {
			break
		}
		mapping[generic] = named[i]
	}
	return mapping
}

// Apply returns a copy of segs with speaker labels substituted per mapping.
// Timestamps and text are left untouched.
func Apply(segs []transcript.Segment, mapping map[string]string) []transcript.Segment {
	out := make([]transcript.Segment, len(segs))
	copy(out, segs)
	if len(mapping) == 0 {
		return out
	}
	for i := range out {
		if to, ok := mapping[out[i].Speaker]; ok {
			out[i].Speaker = to
		}
	}
	return out
}

// Normalize reconciles one window's segments against known, applies the
// mapping and merges the resulting speakers into known. It returns the
// rewritten segments and the mapping that was applied.
func Normalize(segs []transcript.Segment, known *Known) ([]transcript.Segment, map[string]string) {
	mapping := Reconcile(transcript.Speakers(segs), known)
	out := Apply(segs, mapping)
	known.Merge(transcript.Speakers(out))
	return out, mapping
}
