package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/codebuildervaibhav/voice-id/internal/types"
)

// maxStderrTail bounds how much transcoder output ends up in error messages.
const maxStderrTail = 512

// Transcoder converts an arbitrary audio/video file to mono 16 kHz WAV.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputPath string) error
}

// FFmpeg shells out to the ffmpeg binary.
type FFmpeg struct {
	Path    string
	Timeout time.Duration
}

// NewFFmpeg creates an ffmpeg transcoder. An empty path means "ffmpeg" on PATH.
func NewFFmpeg(path string, timeout time.Duration) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path, Timeout: timeout}
}

// Transcode implements Transcoder.
func (f *FFmpeg) Transcode(ctx context.Context, inputPath, outputPath string) error {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, f.Path,
		"-y",
		"-i", inputPath,
		"-ac", "1", // mono
		"-ar", strconv.Itoa(types.TargetSampleRate),
		"-vn", // drop video
		"-c:a", "pcm_s16le",
		"-f", "wav",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg failed: %v: %s", err, tail(output, maxStderrTail))
	}
	return nil
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
