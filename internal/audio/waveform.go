package audio

import (
	"fmt"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Waveform is decoded PCM audio as float32 samples in [-1, 1].
// Multi-channel audio is interleaved frame by frame.
type Waveform struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames.
func (w Waveform) Frames() int {
	if w.Channels <= 0 {
		return 0
	}
	return len(w.Samples) / w.Channels
}

// Duration returns the playback length of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(w.Frames()) * time.Second / time.Duration(w.SampleRate)
}

// Mono averages all channels into one. Mono input is returned as is.
func Mono(w Waveform) Waveform {
	if w.Channels <= 1 {
		return w
	}
	frames := w.Frames()
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		base := i * w.Channels
		for c := 0; c < w.Channels; c++ {
			sum += w.Samples[base+c]
		}
		out[i] = sum / float32(w.Channels)
	}
	return Waveform{Samples: out, SampleRate: w.SampleRate, Channels: 1}
}

// Resample converts mono audio to the target sample rate.
func Resample(w Waveform, rate int) (Waveform, error) {
	if w.Channels != 1 {
		return Waveform{}, fmt.Errorf("resample: expected mono input, got %d channels", w.Channels)
	}
	if rate <= 0 || w.SampleRate <= 0 {
		return Waveform{}, fmt.Errorf("resample: invalid rates %d -> %d", w.SampleRate, rate)
	}
	if w.SampleRate == rate || len(w.Samples) == 0 {
		return Waveform{Samples: w.Samples, SampleRate: rate, Channels: 1}, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(w.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return Waveform{}, fmt.Errorf("resample: %w", err)
	}

	input := make([]float64, len(w.Samples))
	for i, s := range w.Samples {
		input[i] = float64(s)
	}
	output, err := r.Process(input)
	if err != nil {
		return Waveform{}, fmt.Errorf("resample: %w", err)
	}

	samples := make([]float32, len(output))
	for i, s := range output {
		samples[i] = float32(clamp(s))
	}
	return Waveform{Samples: samples, SampleRate: rate, Channels: 1}, nil
}

func clamp(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
