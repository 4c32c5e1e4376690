// Package voiceprint turns 16 kHz mono audio into fixed-length speaker
// embedding vectors ("voiceprints") using a pretrained model.
//
// # Pipeline
//
//  1. Prepare: waveform → mono (channel average) → 16 kHz (resample)
//  2. Extractor.Extract: samples → embedding of length Dimension()
//
// Two extractors are provided: [ONNXExtractor] runs a model in process via
// ONNX Runtime, [RemoteExtractor] calls an inference sidecar over HTTP.
// Neither batches nor caches; every call is one inference.
package voiceprint

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/codebuildervaibhav/voice-id/internal/audio"
	"github.com/codebuildervaibhav/voice-id/internal/config"
	"github.com/codebuildervaibhav/voice-id/internal/types"
)

// Extractor computes a speaker embedding from mono 16 kHz float32 samples.
//
// Implementations must be safe for concurrent use.
type Extractor interface {
	// Extract returns a vector of length Dimension().
	Extract(ctx context.Context, samples []float32) ([]float32, error)

	// Dimension returns the embedding size (e.g. 192 for ECAPA-TDNN).
	Dimension() int

	// Loaded reports whether the model is ready to serve requests.
	Loaded() bool

	// Close releases model resources.
	Close() error
}

var (
	// ErrTooShort is returned when a clip is below the minimum duration.
	ErrTooShort = errors.New("audio too short for a voiceprint")

	// ErrClosed is returned by Extract after Close.
	ErrClosed = errors.New("voiceprint: model is closed")
)

// Prepare downmixes w to mono and resamples it to 16 kHz. Clips shorter
// than minDuration after conversion are rejected with ErrTooShort.
func Prepare(w audio.Waveform, minDuration time.Duration) ([]float32, error) {
	mono := audio.Mono(w)
	resampled, err := audio.Resample(mono, types.TargetSampleRate)
	if err != nil {
		return nil, err
	}
	if len(resampled.Samples) == 0 || resampled.Duration() < minDuration {
		return nil, fmt.Errorf("%w: %s < %s", ErrTooShort, resampled.Duration(), minDuration)
	}
	return resampled.Samples, nil
}

// checkEmbedding rejects vectors that cannot be stored or compared.
func checkEmbedding(vec []float32, dim int) error {
	if len(vec) != dim {
		return fmt.Errorf("voiceprint: expected %d dimensions, got %d", dim, len(vec))
	}
	var norm float64
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("voiceprint: non-finite value at index %d", i)
		}
		norm += f * f
	}
	if norm == 0 {
		return errors.New("voiceprint: zero vector")
	}
	return nil
}

// New builds the extractor selected by cfg.Backend.
func New(cfg config.ModelConfig) (Extractor, error) {
	switch cfg.Backend {
	case "remote":
		return NewRemoteExtractor(cfg.RemoteURL, cfg.Dimension, cfg.RemoteTimeoutDuration()), nil
	case "onnx":
		return NewONNXExtractor(ONNXConfig{
			ModelPath:   cfg.Path,
			LibraryPath: cfg.LibraryPath,
			Dimension:   cfg.Dimension,
			InputKind:   cfg.InputKind,
			InputName:   cfg.InputName,
			OutputName:  cfg.OutputName,
			OutputShape: cfg.OutputShape,
		})
	default:
		return nil, fmt.Errorf("voiceprint: unknown backend %q", cfg.Backend)
	}
}
