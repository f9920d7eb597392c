package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// FakeMedia is a media.Runner standing in for ffmpeg and ffprobe. Audio
// extractions write real silent WAV files of the requested length so chunk
// verification passes; frame grabs write a few JPEG magic bytes.
type FakeMedia struct {
	Duration float64 // reported by ffprobe
	Video    bool    // whether ffprobe reports a video stream
	FailAll  error   // every command fails with this error when set

	// FailOutput makes ffmpeg fail for outputs whose path contains it.
	FailOutput string

	mu    sync.Mutex
	calls [][]string
}

// CombinedOutput fakes one ffmpeg/ffprobe invocation.
func (f *FakeMedia) CombinedOutput(_ context.Context, name string, args []string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if f.FailAll != nil {
		return []byte("boom"), f.FailAll
	}
	if strings.Contains(name, "ffprobe") {
		if argValue(args, "-show_entries") == "format=duration" {
			return []byte(strconv.FormatFloat(f.Duration, 'f', 6, 64) + "\n"), nil
		}
		if f.Video {
			return []byte("video\n"), nil
		}
		return []byte("audio\n"), nil
	}

	out := args[len(args)-1]
	if f.FailOutput != "" && strings.Contains(out, f.FailOutput) {
		return []byte("Invalid data found when processing input"), fmt.Errorf("exit status 1")
	}
	if strings.HasSuffix(out, ".jpg") {
		return nil, os.WriteFile(out, []byte("\xff\xd8jpeg"), 0644)
	}
	secs, err := parseClock(argValue(args, "-t"))
	if err != nil {
		return []byte(err.Error()), err
	}
	return nil, WriteSilentWAV(out, secs)
}

// Extractions returns how many audio extractions were run.
func (f *FakeMedia) Extractions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if !strings.Contains(c[0], "ffprobe") && strings.HasSuffix(c[len(c)-1], ".part") {
			n++
		}
	}
	return n
}

// WriteSilentWAV writes seconds of 16 kHz mono silence to path.
func WriteSilentWAV(path string, seconds float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           make([]int, int(seconds*16000)),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// parseClock parses HH:MM:SS.mmm.
func parseClock(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, fmt.Errorf("bad time %q", s)
	}
	return float64(h*3600+m*60) + sec, nil
}
