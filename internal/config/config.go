package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultAPIKey is the placeholder secret. It is only accepted in development.
const DefaultAPIKey = "change-me-please"

// Config represents the application configuration
type Config struct {
	Environment string `yaml:"environment" mapstructure:"environment" validate:"oneof=development staging production"`

	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Model   ModelConfig   `yaml:"model" mapstructure:"model"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Audio   AudioConfig   `yaml:"audio" mapstructure:"audio"`
	Archive ArchiveConfig `yaml:"archive" mapstructure:"archive"`
	Cleanup CleanupConfig `yaml:"cleanup" mapstructure:"cleanup"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Host        string `yaml:"host" mapstructure:"host"`
	Port        int    `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	APIKey      string `yaml:"api_key" mapstructure:"api_key" validate:"required"`
	BodyLimitMB int    `yaml:"body_limit_mb" mapstructure:"body_limit_mb" validate:"min=1"`
	CORSOrigins string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// ModelConfig selects and configures the speaker-embedding model.
type ModelConfig struct {
	// Backend is "onnx" for an in-process model or "remote" for an inference sidecar.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=onnx remote"`

	Path        string `yaml:"path" mapstructure:"path" validate:"required_if=Backend onnx"`
	LibraryPath string `yaml:"library_path" mapstructure:"library_path"`
	Dimension   int    `yaml:"dimension" mapstructure:"dimension" validate:"min=1"`

	// InputKind is "fbank" (log-mel features, [1,T,80]) or "waveform" ([1,N] samples).
	InputKind   string  `yaml:"input_kind" mapstructure:"input_kind" validate:"oneof=fbank waveform"`
	InputName   string  `yaml:"input_name" mapstructure:"input_name" validate:"required_if=Backend onnx"`
	OutputName  string  `yaml:"output_name" mapstructure:"output_name" validate:"required_if=Backend onnx"`
	OutputShape []int64 `yaml:"output_shape" mapstructure:"output_shape"`

	RemoteURL     string `yaml:"remote_url" mapstructure:"remote_url" validate:"required_if=Backend remote"`
	RemoteTimeout string `yaml:"remote_timeout" mapstructure:"remote_timeout" validate:"duration"`

	// MinDuration rejects clips too short to carry a usable voiceprint (e.g. "500ms").
	MinDuration string `yaml:"min_duration" mapstructure:"min_duration" validate:"duration"`
}

type StoreConfig struct {
	Driver         string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN            string `yaml:"dsn" mapstructure:"dsn" validate:"required"`
	MaxOpenConns   int    `yaml:"max_open_conns" mapstructure:"max_open_conns" validate:"min=1"`
	ConnectRetries int    `yaml:"connect_retries" mapstructure:"connect_retries" validate:"min=1"`
}

type AudioConfig struct {
	FFmpegPath       string `yaml:"ffmpeg_path" mapstructure:"ffmpeg_path" validate:"required"`
	TempDir          string `yaml:"temp_dir" mapstructure:"temp_dir" validate:"required"`
	TranscodeTimeout string `yaml:"transcode_timeout" mapstructure:"transcode_timeout" validate:"duration"`
}

// ArchiveConfig controls optional retention of raw enrollment clips.
type ArchiveConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=none local s3"`
	Dir     string `yaml:"dir" mapstructure:"dir" validate:"required_if=Backend local"`
	Bucket  string `yaml:"bucket" mapstructure:"bucket" validate:"required_if=Backend s3"`
	Prefix  string `yaml:"prefix" mapstructure:"prefix"`
	Region  string `yaml:"region" mapstructure:"region"`

	// Endpoint targets an S3-compatible service such as MinIO (path-style addressing).
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

type CleanupConfig struct {
	Interval string `yaml:"interval" mapstructure:"interval" validate:"duration"`
	MaxAge   string `yaml:"max_age" mapstructure:"max_age" validate:"duration"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=console json"`
}

// ApplyDefaults sets defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.APIKey == "" {
		c.Server.APIKey = DefaultAPIKey
	}
	if c.Server.BodyLimitMB == 0 {
		c.Server.BodyLimitMB = 50
	}
	if c.Server.CORSOrigins == "" {
		c.Server.CORSOrigins = "*"
	}

	if c.Model.Backend == "" {
		c.Model.Backend = "onnx"
	}
	if c.Model.Dimension == 0 {
		c.Model.Dimension = 192
	}
	if c.Model.InputKind == "" {
		c.Model.InputKind = "fbank"
	}
	if c.Model.InputName == "" {
		c.Model.InputName = "feats"
	}
	if c.Model.OutputName == "" {
		c.Model.OutputName = "embs"
	}
	if len(c.Model.OutputShape) == 0 {
		c.Model.OutputShape = []int64{1, int64(c.Model.Dimension)}
	}
	if c.Model.RemoteTimeout == "" {
		c.Model.RemoteTimeout = "30s"
	}
	if c.Model.MinDuration == "" {
		c.Model.MinDuration = "500ms"
	}

	c.Store.DSN = normalizeDSN(c.Store.DSN)
	// A postgres URL selects postgres even when the file pins another driver.
	if isPostgresURL(c.Store.DSN) {
		c.Store.Driver = "postgres"
	} else if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite" {
		c.Store.DSN = "data/voiceid.db"
	}
	if c.Store.MaxOpenConns == 0 {
		c.Store.MaxOpenConns = 10
	}
	if c.Store.ConnectRetries == 0 {
		c.Store.ConnectRetries = 5
	}

	if c.Audio.FFmpegPath == "" {
		c.Audio.FFmpegPath = "ffmpeg"
	}
	if c.Audio.TempDir == "" {
		c.Audio.TempDir = "temp"
	}
	if c.Audio.TranscodeTimeout == "" {
		c.Audio.TranscodeTimeout = "2m"
	}

	if c.Archive.Backend == "" {
		c.Archive.Backend = "none"
	}

	if c.Cleanup.Interval == "" {
		c.Cleanup.Interval = "30m"
	}
	if c.Cleanup.MaxAge == "" {
		c.Cleanup.MaxAge = "6h"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}
	if c.Environment != "development" && c.Server.APIKey == DefaultAPIKey {
		return fmt.Errorf("server.api_key must be changed from the default outside development")
	}
	if c.Model.Backend == "remote" {
		if _, err := url.ParseRequestURI(c.Model.RemoteURL); err != nil {
			return fmt.Errorf("model.remote_url is not a valid URL: %w", err)
		}
	}
	if c.Model.Backend == "onnx" && len(c.Model.OutputShape) > 0 {
		n := int64(1)
		for _, d := range c.Model.OutputShape {
			n *= d
		}
		if n != int64(c.Model.Dimension) {
			return fmt.Errorf("model.output_shape %v holds %d values, expected model.dimension=%d",
				c.Model.OutputShape, n, c.Model.Dimension)
		}
	}
	return nil
}

// Redacted returns a copy that is safe to print.
func (c Config) Redacted() Config {
	out := c
	if out.Server.APIKey != "" {
		out.Server.APIKey = "********"
	}
	if u, err := url.Parse(out.Store.DSN); err == nil && u.User != nil {
		out.Store.DSN = u.Redacted()
	}
	out.Model.OutputShape = append([]int64(nil), c.Model.OutputShape...)
	return out
}

func (c ModelConfig) RemoteTimeoutDuration() time.Duration {
	return mustDuration(c.RemoteTimeout)
}

func (c ModelConfig) MinDurationValue() time.Duration {
	return mustDuration(c.MinDuration)
}

func (c AudioConfig) TranscodeTimeoutDuration() time.Duration {
	return mustDuration(c.TranscodeTimeout)
}

func (c CleanupConfig) IntervalDuration() time.Duration {
	return mustDuration(c.Interval)
}

func (c CleanupConfig) MaxAgeDuration() time.Duration {
	return mustDuration(c.MaxAge)
}

// mustDuration parses a duration that Validate has already checked.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// normalizeDSN drops a "+driver" suffix from the scheme, so SQLAlchemy-style
// URLs such as postgresql+psycopg://... work unchanged.
func normalizeDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if base, _, found := strings.Cut(scheme, "+"); found {
		return base + "://" + rest
	}
	return dsn
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
