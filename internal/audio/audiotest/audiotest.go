// Package audiotest builds WAV fixtures for tests.
package audiotest

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV encodes integer PCM samples (interleaved when channels > 1) as a WAV file.
func WAV(t testing.TB, samples []int, sampleRate, channels, bitDepth int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav fixture: %v", err)
	}

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode wav fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close wav fixture: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav fixture: %v", err)
	}
	return data
}

// Sine returns a 16-bit mono sine tone.
func Sine(freq float64, sampleRate int, d time.Duration, amplitude float64) []int {
	n := int(d.Seconds() * float64(sampleRate))
	out := make([]int, n)
	for i := range out {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		out[i] = int(v * 32767)
	}
	return out
}

// Interleave merges equal-length channel slices frame by frame.
func Interleave(channels ...[]int) []int {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	out := make([]int, 0, frames*len(channels))
	for i := 0; i < frames; i++ {
		for _, ch := range channels {
			out = append(out, ch[i])
		}
	}
	return out
}

// SineWAV is a convenience for a 16-bit mono 16 kHz sine WAV.
func SineWAV(t testing.TB, freq float64, d time.Duration) []byte {
	t.Helper()
	return WAV(t, Sine(freq, 16000, d, 0.5), 16000, 1, 16)
}
