package media

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned when a file is not a readable WAV.
var ErrInvalidWAV = errors.New("media: invalid wav file")

// WAVDuration returns the duration in seconds of the WAV file at path.
func WAVDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if !wav.NewDecoder(f).IsValidFile() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	d, err := wav.NewDecoder(f).Duration()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidWAV, path, err)
	}
	return d.Seconds(), nil
}
