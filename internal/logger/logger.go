// Package logger builds the zerolog logger shared by every component.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/voice-id/internal/config"
)

const (
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldSpeakerID = "speaker_id"
)

// New creates the root logger from config, writing to stdout.
func New(cfg config.LogConfig) zerolog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter creates the root logger writing to w.
func NewWithWriter(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	return build(cfg, formatWriter(cfg, w, false))
}

// NewWithBuffer logs to w and mirrors every line into buf without color codes.
func NewWithBuffer(cfg config.LogConfig, w io.Writer, buf *Buffer) zerolog.Logger {
	return build(cfg, zerolog.MultiLevelWriter(formatWriter(cfg, w, false), formatWriter(cfg, buf, true)))
}

func build(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func formatWriter(cfg config.LogConfig, w io.Writer, noColor bool) io.Writer {
	if strings.ToLower(cfg.Format) == "console" {
		return zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime, NoColor: noColor}
	}
	return w
}

// Component returns a child logger tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str(FieldComponent, name).Logger()
}

// Nop returns a disabled logger, for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
