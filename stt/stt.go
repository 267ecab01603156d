package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/d1nch8g/aihl/config"
)

// ErrTranscription marks a failed attempt to turn an artifact into text.
var ErrTranscription = errors.New("transcription failed")

// Transcriber defines the interface for speech-to-text implementations
type Transcriber interface {
	// Transcribe returns the text spoken in the audio file at path. Silence
	// yields an empty string and no error.
	Transcribe(ctx context.Context, path string) (string, error)

	// Close releases the engine and its connections
	Close() error
}

// New builds the transcriber selected by cfg.Transcriber.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Transcriber, error) {
	switch cfg.Transcriber {
	case "", "whisper":
		backend := ResolveBackend(ctx, cfg.Whisper.Device, DefaultProbes(), logger)
		return NewWhisperTranscriber(WhisperConfig{
			Command:  cfg.Whisper.Command,
			Model:    cfg.Whisper.Model,
			Language: cfg.Whisper.Language,
		}, backend, logger), nil

	case "speechkit":
		return NewYandexTranscriber(YandexConfig{
			APIKey:   cfg.SpeechKit.APIKey,
			IamToken: cfg.SpeechKit.IamToken,
			FolderID: cfg.SpeechKit.FolderID,
			Language: cfg.SpeechKit.Language,
			Endpoint: cfg.SpeechKit.Endpoint,
		}, logger)

	case "deepgram":
		return NewDeepgramTranscriber(DeepgramConfig{
			APIKey:   cfg.Deepgram.APIKey,
			BaseURL:  cfg.Deepgram.BaseURL,
			Model:    cfg.Deepgram.Model,
			Language: cfg.Deepgram.Language,
		}, logger), nil

	default:
		return nil, fmt.Errorf("unknown transcriber %q", cfg.Transcriber)
	}
}
