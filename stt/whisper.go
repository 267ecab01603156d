package stt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

type WhisperConfig struct {
	Command  string
	Model    string
	Language string
}

// WhisperTranscriber runs the local whisper CLI once per artifact.
type WhisperTranscriber struct {
	config  WhisperConfig
	backend Backend
	logger  *slog.Logger
}

var _ Transcriber = (*WhisperTranscriber)(nil)

func NewWhisperTranscriber(config WhisperConfig, backend Backend, logger *slog.Logger) *WhisperTranscriber {
	if config.Command == "" {
		config.Command = "whisper"
	}
	if config.Model == "" {
		config.Model = "base"
	}
	return &WhisperTranscriber{
		config:  config,
		backend: backend,
		logger:  logger,
	}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	outDir, err := os.MkdirTemp("", "aihl-whisper-")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create output directory: %w", ErrTranscription, err)
	}
	defer os.RemoveAll(outDir)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, w.config.Command, w.args(path, outDir)...)
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: whisper failed: %w: %s", ErrTranscription, err, strings.TrimSpace(stderr.String()))
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	text, err := os.ReadFile(filepath.Join(outDir, base+".txt"))
	if err != nil {
		return "", fmt.Errorf("%w: whisper produced no transcript: %w", ErrTranscription, err)
	}

	w.logger.Debug("Whisper finished",
		slog.String("path", path),
		slog.Duration("elapsed", time.Since(start)),
	)
	return strings.TrimSpace(string(text)), nil
}

func (w *WhisperTranscriber) args(path, outDir string) []string {
	args := []string{
		path,
		"--model", w.config.Model,
		"--device", string(w.backend),
		"--output_format", "txt",
		"--output_dir", outDir,
		"--verbose", "False",
	}
	if w.config.Language != "" {
		args = append(args, "--language", w.config.Language)
	}
	if w.backend == BackendCPU {
		args = append(args, "--fp16", "False")
	}
	return args
}

func (w *WhisperTranscriber) Close() error {
	return nil
}
