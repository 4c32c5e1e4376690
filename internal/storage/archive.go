package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/voice-id/internal/config"
)

// Archive retains raw enrollment clips, keyed by speaker.
type Archive interface {
	// Save stores data and returns its location (path or object key).
	Save(ctx context.Context, speakerID, filename string, data []byte) (string, error)

	// DeleteSpeaker removes every clip stored for speakerID.
	DeleteSpeaker(ctx context.Context, speakerID string) error
}

// NewArchive builds the archive selected by cfg.Backend.
func NewArchive(ctx context.Context, cfg config.ArchiveConfig, log zerolog.Logger) (Archive, error) {
	switch cfg.Backend {
	case "", "none":
		return NopArchive{}, nil
	case "local":
		return NewLocalArchive(cfg.Dir), nil
	case "s3":
		return NewS3Archive(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

// NopArchive discards clips.
type NopArchive struct{}

func (NopArchive) Save(context.Context, string, string, []byte) (string, error) { return "", nil }
func (NopArchive) DeleteSpeaker(context.Context, string) error                 { return nil }

// clipName builds "20250123_143022_<uuid>.ext" for an uploaded filename.
func clipName(now time.Time, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return fmt.Sprintf("%s_%s%s", now.Format("20060102_150405"), uuid.New().String(), ext)
}

// maxSegmentPrefix bounds the readable part of a speaker segment, in bytes.
const maxSegmentPrefix = 64

// speakerSegment maps a speaker identifier to a single path segment:
// a readable prefix plus a hash of the raw identifier, so distinct
// identifiers never share a directory or key prefix.
func speakerSegment(speakerID string) string {
	var b strings.Builder
	for _, r := range speakerID {
		if b.Len() >= maxSegmentPrefix {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.' && b.Len() > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	sum := sha256.Sum256([]byte(speakerID))
	return b.String() + "-" + hex.EncodeToString(sum[:8])
}

func joinKey(prefix string, parts ...string) string {
	return strings.TrimPrefix(path.Join(append([]string{prefix}, parts...)...), "/")
}
