// Package servicetest provides fakes for exercising the service without
// ffmpeg or a model file.
package servicetest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/codebuildervaibhav/voice-id/internal/audio"
	"github.com/codebuildervaibhav/voice-id/internal/config"
	"github.com/codebuildervaibhav/voice-id/internal/logger"
	"github.com/codebuildervaibhav/voice-id/internal/service"
	"github.com/codebuildervaibhav/voice-id/internal/storage"
	"github.com/codebuildervaibhav/voice-id/internal/types"
)

// Dimension of the fake voiceprints.
const Dimension = 4

// Voices maps clip payloads to fake voiceprints. A clip is any byte string
// registered with Add; unregistered payloads fail to decode.
type Voices struct {
	mu      sync.Mutex
	vectors map[string][]float32
	markers map[float32]string
}

// NewVoices returns an empty registry.
func NewVoices() *Voices {
	return &Voices{vectors: map[string][]float32{}, markers: map[float32]string{}}
}

// Add registers payload as a clip whose voiceprint is vec.
func (v *Voices) Add(payload string, vec []float32) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vectors[payload] = vec
	v.markers[float32(len(v.markers)+1)/100] = payload
	return []byte(payload)
}

func (v *Voices) marker(payload string) (float32, bool) {
	for m, p := range v.markers {
		if p == payload {
			return m, true
		}
	}
	return 0, false
}

// Normalizer returns a normalizer that decodes registered payloads into one
// second of 16 kHz mono audio whose first sample identifies the clip.
func (v *Voices) Normalizer() service.Normalizer {
	return normalizer{v}
}

// Extractor returns a loaded extractor that maps clips to their registered vectors.
func (v *Voices) Extractor() *Extractor {
	return &Extractor{voices: v, loaded: true}
}

type normalizer struct{ v *Voices }

func (n normalizer) Normalize(_ context.Context, data []byte) (audio.Waveform, error) {
	n.v.mu.Lock()
	defer n.v.mu.Unlock()

	if len(data) == 0 {
		return audio.Waveform{}, audio.ErrEmptyAudio
	}
	m, ok := n.v.marker(string(data))
	if !ok {
		return audio.Waveform{}, &audio.ProcessingError{Err: errors.New("ffmpeg: Invalid data found when processing input")}
	}
	samples := make([]float32, types.TargetSampleRate)
	samples[0] = m
	return audio.Waveform{Samples: samples, SampleRate: types.TargetSampleRate, Channels: 1}, nil
}

// Extractor is a fake voiceprint.Extractor.
type Extractor struct {
	voices *Voices

	mu     sync.Mutex
	loaded bool
	err    error
	calls  int
}

// Fail makes subsequent Extract calls return err.
func (e *Extractor) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// SetLoaded toggles Loaded().
func (e *Extractor) SetLoaded(loaded bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = loaded
}

// Calls returns the number of Extract calls.
func (e *Extractor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Extractor) Extract(_ context.Context, samples []float32) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.voices.mu.Lock()
	defer e.voices.mu.Unlock()
	payload, ok := e.voices.markers[samples[0]]
	if !ok {
		return nil, fmt.Errorf("unknown clip marker %f", samples[0])
	}
	return e.voices.vectors[payload], nil
}

func (e *Extractor) Dimension() int { return Dimension }

func (e *Extractor) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

func (e *Extractor) Close() error { return nil }

// Env is a service backed by a real SQLite store and fake audio/model.
type Env struct {
	Service   *service.Service
	Store     *storage.SQLiteStore
	Voices    *Voices
	Extractor *Extractor
	Archive   *storage.LocalArchive
}

// New builds an Env rooted in t.TempDir().
func New(t testing.TB) *Env {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.NewSQLiteStore(context.Background(), config.StoreConfig{
		Driver:         "sqlite",
		DSN:            filepath.Join(dir, "voiceid.db"),
		ConnectRetries: 1,
	}, Dimension, logger.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	voices := NewVoices()
	ext := voices.Extractor()
	clipDir := filepath.Join(dir, "clips")
	archive := storage.NewLocalArchive(clipDir)

	svc := service.New(service.Options{
		Normalizer: voices.Normalizer(),
		Extractor:  ext,
		Store:      store,
		Archive:    archive,
		Logger:     logger.Nop(),
	})
	return &Env{
		Service:   svc,
		Store:     store,
		Voices:    voices,
		Extractor: ext,
		Archive:   archive,
	}
}
