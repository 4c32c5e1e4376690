package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// ErrNotWAV is returned by DecodeWAV for input that is not integer PCM WAV.
var ErrNotWAV = errors.New("not a PCM WAV stream")

// DecodeWAV decodes integer PCM RIFF/WAVE bytes. Anything else (compressed
// codecs, float WAV, other containers) returns an error wrapping ErrNotWAV
// so callers can fall back to transcoding.
func DecodeWAV(data []byte) (Waveform, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return Waveform{}, ErrNotWAV
	}
	if d.WavAudioFormat != wavFormatPCM {
		return Waveform{}, fmt.Errorf("%w: wav format %d", ErrNotWAV, d.WavAudioFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return Waveform{}, fmt.Errorf("%w: no samples", ErrNotWAV)
	}

	bitDepth := int(d.BitDepth)
	channels := buf.Format.NumChannels
	if channels <= 0 || buf.Format.SampleRate <= 0 {
		return Waveform{}, fmt.Errorf("%w: invalid format %d ch @ %d Hz", ErrNotWAV, channels, buf.Format.SampleRate)
	}

	samples := make([]float32, len(buf.Data))
	switch bitDepth {
	case 8:
		// 8-bit WAV is unsigned, centred on 128.
		for i, v := range buf.Data {
			samples[i] = float32(v-128) / 128
		}
	case 16, 24, 32:
		scale := float32(int64(1) << (bitDepth - 1))
		for i, v := range buf.Data {
			samples[i] = float32(v) / scale
		}
	default:
		return Waveform{}, fmt.Errorf("%w: unsupported bit depth %d", ErrNotWAV, bitDepth)
	}

	// Drop a trailing partial frame, if any.
	usable := len(samples) / channels * channels
	return Waveform{
		Samples:    samples[:usable],
		SampleRate: buf.Format.SampleRate,
		Channels:   channels,
	}, nil
}
