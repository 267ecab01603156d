package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// DeviceCapturer records one segment from a Recorder and stores it as WAV.
type DeviceCapturer struct {
	config   Config
	recorder Recorder
	logger   *slog.Logger
}

var _ Capturer = (*DeviceCapturer)(nil)

func NewDeviceCapturer(config Config, recorder Recorder, logger *slog.Logger) *DeviceCapturer {
	return &DeviceCapturer{
		config:   config,
		recorder: recorder,
		logger:   logger,
	}
}

func (c *DeviceCapturer) Capture(ctx context.Context, path string) (Artifact, error) {
	count := c.config.SampleCount()
	if count <= 0 {
		return Artifact{}, fmt.Errorf("%w: segment of %v at %d Hz holds no samples", ErrCapture, c.config.Duration, c.config.SampleRate)
	}

	c.logger.Info("Recording audio",
		slog.String("device", c.config.device()),
		slog.Duration("duration", c.config.Duration),
	)

	samples := make([]int16, count)
	if err := c.recorder.Record(ctx, samples); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrCapture, err)
	}

	if err := WriteWAV(path, samples, c.config.SampleRate, c.config.Channels); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrCapture, err)
	}

	return Artifact{
		Path:       path,
		SampleRate: c.config.SampleRate,
		Channels:   c.config.Channels,
		BitDepth:   bitDepth,
		Duration:   c.config.Duration,
	}, nil
}

// SampleCapturer stands in for a microphone by copying a fixed WAV file to
// each requested artifact path.
type SampleCapturer struct {
	source string
	logger *slog.Logger
}

var _ Capturer = (*SampleCapturer)(nil)

func NewSampleCapturer(source string, logger *slog.Logger) *SampleCapturer {
	return &SampleCapturer{
		source: source,
		logger: logger,
	}
}

func (c *SampleCapturer) Capture(ctx context.Context, path string) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	c.logger.Info("Using sample file", slog.String("source", c.source))

	src, err := os.Open(c.source)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: failed to open sample file: %w", ErrCapture, err)
	}
	defer src.Close()

	err = writeAtomic(path, func(f *os.File) error {
		if _, err := io.Copy(f, src); err != nil {
			return fmt.Errorf("failed to copy sample file: %w", err)
		}
		return nil
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrCapture, err)
	}

	artifact, err := Inspect(path)
	if err != nil {
		// Non-WAV samples still reach the transcriber, which decides for itself.
		c.logger.Warn("Sample file header unreadable", slog.String("path", path), slog.String("error", err.Error()))
		return Artifact{Path: path}, nil
	}
	return artifact, nil
}
