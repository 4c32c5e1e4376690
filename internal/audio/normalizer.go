// Package audio turns uploaded audio or video bytes into a decoded waveform.
// WAV input is decoded in process; everything else goes through a
// Transcoder (ffmpeg) using request-scoped temp files.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TempFilePrefix marks files created by the normalizer in its temp dir.
const TempFilePrefix = "voiceid_"

// ErrEmptyAudio is returned when no audio bytes were supplied.
var ErrEmptyAudio = errors.New("empty audio payload")

// ProcessingError reports input that could be neither decoded nor transcoded.
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string {
	return "audio processing failed: " + e.Err.Error()
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Normalizer decodes arbitrary input bytes into a Waveform.
type Normalizer struct {
	tempDir    string
	transcoder Transcoder
	log        zerolog.Logger
}

// NewNormalizer creates a normalizer, making sure tempDir exists.
func NewNormalizer(tempDir string, transcoder Transcoder, log zerolog.Logger) (*Normalizer, error) {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &Normalizer{
		tempDir:    tempDir,
		transcoder: transcoder,
		log:        log,
	}, nil
}

// TempDir returns the directory used for transcoding scratch files.
func (n *Normalizer) TempDir() string {
	return n.tempDir
}

// Normalize decodes data directly when it is PCM WAV, otherwise transcodes
// it to mono 16 kHz WAV first. The returned waveform keeps the source
// channel layout and rate; see voiceprint.Prepare for mono/resampling.
func (n *Normalizer) Normalize(ctx context.Context, data []byte) (Waveform, error) {
	if len(data) == 0 {
		return Waveform{}, ErrEmptyAudio
	}

	w, err := DecodeWAV(data)
	if err == nil {
		return w, nil
	}
	n.log.Debug().Err(err).Int("bytes", len(data)).Msg("Direct decode failed, transcoding")

	wavData, err := n.transcode(ctx, data)
	if err != nil {
		return Waveform{}, &ProcessingError{Err: err}
	}

	w, err = DecodeWAV(wavData)
	if err != nil {
		return Waveform{}, &ProcessingError{Err: fmt.Errorf("decode transcoded audio: %w", err)}
	}
	return w, nil
}

// transcode round-trips data through temp files. Both files are removed
// before returning, whatever the outcome.
func (n *Normalizer) transcode(ctx context.Context, data []byte) ([]byte, error) {
	if n.transcoder == nil {
		return nil, errors.New("no transcoder configured")
	}

	inputPath := filepath.Join(n.tempDir, fmt.Sprintf("%s%s.input", TempFilePrefix, uuid.New().String()))
	outputPath := inputPath + ".wav"
	defer n.removeTempFile(inputPath)
	defer n.removeTempFile(outputPath)

	if err := os.WriteFile(inputPath, data, 0600); err != nil {
		return nil, fmt.Errorf("write temp input: %w", err)
	}

	if err := n.transcoder.Transcode(ctx, inputPath, outputPath); err != nil {
		return nil, err
	}

	out, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("read transcoded output: %w", err)
	}
	return out, nil
}

func (n *Normalizer) removeTempFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		n.log.Warn().Err(err).Str("path", path).Msg("Failed to cleanup temp file")
	}
}
