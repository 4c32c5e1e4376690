package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LocalArchive saves enrollment clips to the local filesystem
type LocalArchive struct {
	outputDir string
}

// NewLocalArchive creates a new local archive rooted at outputDir
func NewLocalArchive(outputDir string) *LocalArchive {
	return &LocalArchive{
		outputDir: outputDir,
	}
}

// SpeakerDir returns the directory holding speakerID's clips
func (la *LocalArchive) SpeakerDir(speakerID string) string {
	return filepath.Join(la.outputDir, speakerSegment(speakerID))
}

// Save writes the clip to outputDir/<speaker>/<timestamp>_<uuid><ext>
func (la *LocalArchive) Save(_ context.Context, speakerID, filename string, data []byte) (string, error) {
	speakerDir := la.SpeakerDir(speakerID)
	if err := os.MkdirAll(speakerDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create speaker directory: %w", err)
	}

	clipPath := filepath.Join(speakerDir, clipName(time.Now(), filename))
	if err := os.WriteFile(clipPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save clip: %w", err)
	}
	return clipPath, nil
}

// DeleteSpeaker removes the speaker's directory
func (la *LocalArchive) DeleteSpeaker(_ context.Context, speakerID string) error {
	if err := os.RemoveAll(la.SpeakerDir(speakerID)); err != nil {
		return fmt.Errorf("failed to delete clips: %w", err)
	}
	return nil
}
