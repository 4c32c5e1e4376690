package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/voice-id/internal/audio"
	"github.com/codebuildervaibhav/voice-id/internal/cleanup"
	"github.com/codebuildervaibhav/voice-id/internal/config"
	"github.com/codebuildervaibhav/voice-id/internal/handlers"
	"github.com/codebuildervaibhav/voice-id/internal/logger"
	"github.com/codebuildervaibhav/voice-id/internal/service"
	"github.com/codebuildervaibhav/voice-id/internal/storage"
	"github.com/codebuildervaibhav/voice-id/internal/voiceprint"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP / WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Everything logged is also kept for GET /logs.
	logs := logger.NewBuffer(logger.DefaultBufferLines)
	log := logger.NewWithBuffer(cfg.Log, os.Stdout, logs)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("environment", cfg.Environment).Msg("Initializing components...")

	normalizer, err := newNormalizer(cfg, log)
	if err != nil {
		return err
	}

	extractor, err := voiceprint.New(cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to load embedding model: %w", err)
	}
	defer closeLogged(log, "embedding model", extractor)
	log.Info().Str("backend", cfg.Model.Backend).Int("dimension", extractor.Dimension()).Msg("Embedding model loaded")

	store, err := storage.Open(ctx, cfg.Store, cfg.Model.Dimension, log)
	if err != nil {
		return err
	}
	defer closeLogged(log, "speaker store", store)

	archive, err := storage.NewArchive(ctx, cfg.Archive, log)
	if err != nil {
		return err
	}

	svc := service.New(service.Options{
		Normalizer:  normalizer,
		Extractor:   extractor,
		Store:       store,
		Archive:     archive,
		MinDuration: cfg.Model.MinDurationValue(),
		Logger:      log,
	})

	sweeper := cleanup.NewScheduler(
		normalizer.TempDir(),
		audio.TempFilePrefix,
		cfg.Cleanup.IntervalDuration(),
		cfg.Cleanup.MaxAgeDuration(),
		log,
	)
	sweeper.Start()
	defer sweeper.Stop()

	app := handlers.NewApp(handlers.Options{
		Service:     svc,
		APIKey:      cfg.Server.APIKey,
		BodyLimitMB: cfg.Server.BodyLimitMB,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logs:        logs,
		Logger:      log,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(addr)
	}()

	log.Info().
		Str("addr", addr).
		Strs("routes", []string{
			"GET /health",
			"POST /enroll",
			"POST /identify",
			"GET /speakers",
			"DELETE /speakers/:speaker_id",
			"GET /ws/identify",
			"GET /logs",
		}).
		Msg("Server starting")

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down gracefully...")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.Options{ConfigFile: configFile, EnvFile: envFile})
}

func newNormalizer(cfg *config.Config, log zerolog.Logger) (*audio.Normalizer, error) {
	ffmpeg := audio.NewFFmpeg(cfg.Audio.FFmpegPath, cfg.Audio.TranscodeTimeoutDuration())
	return audio.NewNormalizer(cfg.Audio.TempDir, ffmpeg, logger.Component(log, "audio"))
}

func closeLogged(log zerolog.Logger, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Str("resource", name).Msg("Close failed")
	}
}
