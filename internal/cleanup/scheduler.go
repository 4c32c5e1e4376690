package cleanup

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/voice-id/internal/logger"
)

// Scheduler removes stale transcoding scratch files. Requests delete their
// own temp files; this only catches what a crash or kill left behind.
type Scheduler struct {
	tempDir  string
	prefix   string
	interval time.Duration
	maxAge   time.Duration
	log      zerolog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler for files in tempDir whose names start with prefix
func NewScheduler(tempDir, prefix string, interval, maxAge time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		tempDir:  tempDir,
		prefix:   prefix,
		interval: interval,
		maxAge:   maxAge,
		log:      logger.Component(log, "cleanup"),
		stopChan: make(chan struct{}),
	}
}

// Start runs one sweep immediately, then one per interval until Stop
func (s *Scheduler) Start() {
	s.log.Debug().Str("dir", s.tempDir).Msg("Running initial temp file cleanup")
	s.Sweep()

	if s.interval <= 0 {
		s.log.Info().Msg("Periodic cleanup disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopChan:
				return
			}
		}
	}()

	s.log.Info().Dur("interval", s.interval).Dur("max_age", s.maxAge).Msg("Cleanup scheduler started")
}

// Stop stops the scheduler and waits for a running sweep to finish. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		s.log.Info().Msg("Cleanup scheduler stopped")
	})
}

// Sweep removes matching files older than maxAge and reports how many
// files and bytes were freed.
func (s *Scheduler) Sweep() (deletedCount int, deletedSize int64) {
	now := time.Now()

	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("dir", s.tempDir).Msg("Error during cleanup")
		}
		return 0, 0
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), s.prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		age := now.Sub(info.ModTime())
		if age <= s.maxAge {
			continue
		}

		path := filepath.Join(s.tempDir, entry.Name())
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				s.log.Warn().Err(err).Str("path", path).Msg("Failed to delete old file")
			}
			continue
		}
		deletedCount++
		deletedSize += info.Size()
		s.log.Debug().Str("file", entry.Name()).Dur("age", age.Round(time.Second)).Msg("Deleted old temp file")
	}

	if deletedCount > 0 {
		s.log.Info().Int("files", deletedCount).Int64("bytes", deletedSize).Msg("Cleanup complete")
	}
	return deletedCount, deletedSize
}
