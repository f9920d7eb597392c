// Package window plans the overlapping time windows a recording is split into.
package window

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned when the window/overlap relationship cannot
// produce forward progress.
var ErrInvalidConfig = errors.New("window: invalid configuration")

// Window is one time range of the source recording, in seconds.
type Window struct {
	Index int     `json:"index"`
	Start float64 `json:"start_seconds"`
	End   float64 `json:"end_seconds"`
}

// Duration returns the window length in seconds.
func (w Window) Duration() float64 {
	return w.End - w.Start
}

// String returns a human-readable representation for logging.
func (w Window) String() string {
	return fmt.Sprintf("window %d: %s-%s", w.Index, FormatClock(w.Start), FormatClock(w.End))
}

// Plan splits totalDuration into windows of windowLength seconds, consecutive
// windows starting windowLength-overlap seconds apart. The last window always
// ends at totalDuration exactly and may run up to overlap seconds longer than
// windowLength.
func Plan(totalDuration, windowLength, overlap float64) ([]Window, error) {
	if totalDuration <= 0 || math.IsNaN(totalDuration) || math.IsInf(totalDuration, 0) {
		return nil, fmt.Errorf("%w: total duration must be positive, got %v", ErrInvalidConfig, totalDuration)
	}
	if windowLength <= 0 {
		return nil, fmt.Errorf("%w: window length must be positive, got %v", ErrInvalidConfig, windowLength)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative, got %v", ErrInvalidConfig, overlap)
	}

	if totalDuration <= windowLength {
		return []Window{{Index: 0, Start: 0, End: totalDuration}}, nil
	}

	step := windowLength - overlap
	if step <= 0 {
		return nil, fmt.Errorf("%w: overlap %v must be shorter than window %v", ErrInvalidConfig, overlap, windowLength)
	}

	var windows []Window
	for i := 0; ; i++ {
		start := float64(i) * step
		if start >= totalDuration {
			break
		}
		end := start + windowLength
		// A tail that would add no more than overlap seconds of new audio is
		// folded into this window instead of becoming a sliver of its own.
		if end >= totalDuration || totalDuration-end <= overlap {
			end = totalDuration
		}
		windows = append(windows, Window{Index: i, Start: start, End: end})
		if end >= totalDuration {
			break
		}
	}
	return windows, nil
}

// FormatClock formats seconds as MM:SS, or HH:MM:SS past the hour.
func FormatClock(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	total := int(sec)
	h := total / 3600
	m := (total / 60) % 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
