// Package service wires the audio normalizer, the voiceprint model and the
// speaker store into the enroll / identify / list / delete operations.
// A Service is built once at startup and shared by every request.
package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/voice-id/internal/apperr"
	"github.com/codebuildervaibhav/voice-id/internal/audio"
	"github.com/codebuildervaibhav/voice-id/internal/logger"
	"github.com/codebuildervaibhav/voice-id/internal/storage"
	"github.com/codebuildervaibhav/voice-id/internal/types"
	"github.com/codebuildervaibhav/voice-id/internal/voiceprint"
)

// Normalizer decodes uploaded bytes into a waveform.
type Normalizer interface {
	Normalize(ctx context.Context, data []byte) (audio.Waveform, error)
}

// Options holds the dependencies of a Service.
type Options struct {
	Normalizer  Normalizer
	Extractor   voiceprint.Extractor
	Store       storage.Store
	Archive     storage.Archive // optional
	MinDuration time.Duration
	Logger      zerolog.Logger
}

// Service implements the speaker identification operations.
type Service struct {
	normalizer  Normalizer
	extractor   voiceprint.Extractor
	store       storage.Store
	archive     storage.Archive
	minDuration time.Duration
	log         zerolog.Logger
}

// New creates a Service.
func New(opts Options) *Service {
	archive := opts.Archive
	if archive == nil {
		archive = storage.NopArchive{}
	}
	return &Service{
		normalizer:  opts.Normalizer,
		extractor:   opts.Extractor,
		store:       opts.Store,
		archive:     archive,
		minDuration: opts.MinDuration,
		log:         logger.Component(opts.Logger, "service"),
	}
}

// Voiceprint decodes data and computes its embedding. Undecodable or too
// short audio is a client error; model failures are not.
func (s *Service) Voiceprint(ctx context.Context, data []byte) ([]float32, error) {
	w, err := s.normalizer.Normalize(ctx, data)
	if err != nil {
		return nil, apperr.InvalidAudio(err)
	}

	samples, err := voiceprint.Prepare(w, s.minDuration)
	if err != nil {
		return nil, apperr.InvalidAudio(err)
	}

	if !s.extractor.Loaded() {
		return nil, apperr.Unavailable("embedding model")
	}

	start := time.Now()
	vec, err := s.extractor.Extract(ctx, samples)
	if err != nil {
		if errors.Is(err, voiceprint.ErrTooShort) {
			return nil, apperr.InvalidAudio(err)
		}
		return nil, apperr.Internal(err)
	}

	s.log.Debug().
		Dur("audio", w.Duration()).
		Dur("inference", time.Since(start)).
		Int("dimension", len(vec)).
		Msg("Voiceprint extracted")
	return vec, nil
}

// Enroll stores or replaces the voiceprint for req.SpeakerID.
func (s *Service) Enroll(ctx context.Context, req types.EnrollRequest) (*types.EnrollResult, error) {
	speakerID, err := normalizeSpeakerID(req.SpeakerID)
	if err != nil {
		return nil, err
	}

	vec, err := s.Voiceprint(ctx, req.Audio)
	if err != nil {
		return nil, err
	}

	created, err := s.store.Upsert(ctx, types.SpeakerProfile{
		SpeakerID:   speakerID,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Voiceprint:  vec,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	// Archive failures are logged only.
	if location, err := s.archive.Save(ctx, speakerID, req.Filename, req.Audio); err != nil {
		s.log.Warn().Err(err).Str(logger.FieldSpeakerID, speakerID).Msg("Failed to archive enrollment clip")
	} else if location != "" {
		s.log.Debug().Str(logger.FieldSpeakerID, speakerID).Str("location", location).Msg("Enrollment clip archived")
	}

	result := &types.EnrollResult{Message: types.MessageUpdated, SpeakerID: speakerID, Created: created}
	if created {
		result.Message = types.MessageEnrolled
	}
	s.log.Info().Str(logger.FieldSpeakerID, speakerID).Bool("created", created).Msg("Speaker enrolled")
	return result, nil
}

// Identify finds the closest enrolled speaker to the clip and accepts it
// when its similarity reaches threshold.
func (s *Service) Identify(ctx context.Context, data []byte, threshold float64) (*types.IdentifyResult, error) {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, apperr.InvalidInput("threshold must be between 0 and 1")
	}

	vec, err := s.Voiceprint(ctx, data)
	if err != nil {
		return nil, err
	}
	return s.match(ctx, vec, threshold)
}

func (s *Service) match(ctx context.Context, vec []float32, threshold float64) (*types.IdentifyResult, error) {
	best, err := s.store.Nearest(ctx, vec)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if best == nil {
		return &types.IdentifyResult{Message: types.MessageNoSpeakers}, nil
	}

	similarity := round4(best.Similarity)
	if best.Similarity >= threshold {
		s.log.Info().Str(logger.FieldSpeakerID, best.SpeakerID).Float64("similarity", similarity).Msg("Speaker identified")
		return &types.IdentifyResult{
			Identified:  true,
			SpeakerID:   best.SpeakerID,
			DisplayName: best.DisplayName,
			Similarity:  similarity,
		}, nil
	}

	s.log.Info().Str("best_match", best.SpeakerID).Float64("similarity", similarity).
		Float64("threshold", threshold).Msg("No speaker above threshold")
	return &types.IdentifyResult{
		Message:   types.MessageNoMatch,
		BestMatch: &types.BestMatch{SpeakerID: best.SpeakerID, Similarity: similarity},
	}, nil
}

// List returns every enrolled speaker.
func (s *Service) List(ctx context.Context) ([]types.SpeakerSummary, error) {
	speakers, err := s.store.List(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return speakers, nil
}

// Delete removes a speaker and any archived clips.
func (s *Service) Delete(ctx context.Context, speakerID string) error {
	speakerID, err := normalizeSpeakerID(speakerID)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, speakerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("Speaker", speakerID)
		}
		return apperr.Internal(err)
	}

	if err := s.archive.DeleteSpeaker(ctx, speakerID); err != nil {
		s.log.Warn().Err(err).Str(logger.FieldSpeakerID, speakerID).Msg("Failed to delete archived clips")
	}
	s.log.Info().Str(logger.FieldSpeakerID, speakerID).Msg("Speaker deleted")
	return nil
}

// Health reports model and store readiness. It never fails; an unreachable
// store is reported in the result.
func (s *Service) Health(ctx context.Context) types.Health {
	h := types.Health{Status: "ok", ModelLoaded: s.extractor != nil && s.extractor.Loaded(), Store: "ok"}
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Store ping failed")
		h.Store = "unavailable"
	}
	return h
}

// normalizeSpeakerID trims surrounding whitespace; every operation keys
// speakers by the trimmed form.
func normalizeSpeakerID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apperr.InvalidInput("speaker_id is required")
	}
	return id, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
