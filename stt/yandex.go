package stt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	speechkit "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/stt/v3"

	"github.com/d1nch8g/aihl/audio"
)

const (
	defaultYandexEndpoint = "stt.api.cloud.yandex.net:443"
	yandexChunkSize       = 32 * 1024
)

type YandexConfig struct {
	APIKey   string
	IamToken string
	FolderID string
	Language string
	Endpoint string
}

// YandexTranscriber streams a recorded file through SpeechKit v3.
type YandexTranscriber struct {
	client speechkit.RecognizerClient
	conn   *grpc.ClientConn
	config YandexConfig
	logger *slog.Logger
}

var _ Transcriber = (*YandexTranscriber)(nil)

// NewYandexTranscriber connects to SpeechKit. Without dial options the
// connection uses TLS.
func NewYandexTranscriber(config YandexConfig, logger *slog.Logger, opts ...grpc.DialOption) (*YandexTranscriber, error) {
	if config.Endpoint == "" {
		config.Endpoint = defaultYandexEndpoint
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{}))}
	}

	conn, err := grpc.NewClient(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Yandex STT: %w", err)
	}

	return &YandexTranscriber{
		client: speechkit.NewRecognizerClient(conn),
		conn:   conn,
		config: config,
		logger: logger,
	}, nil
}

func (s *YandexTranscriber) Close() error {
	return s.conn.Close()
}

func (s *YandexTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	pcm, err := audio.LoadPCM16(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	ctx = metadata.NewOutgoingContext(ctx, s.authMetadata())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.client.RecognizeStreaming(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create streaming client: %w", ErrTranscription, err)
	}

	if err := stream.Send(s.sessionOptions(pcm)); err != nil {
		return "", fmt.Errorf("%w: failed to send session options: %w", ErrTranscription, err)
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var parts []string
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				done <- result{text: strings.Join(parts, " ")}
				return
			}
			if err != nil {
				done <- result{err: err}
				return
			}

			alternatives := resp.GetFinal().GetAlternatives()
			if len(alternatives) == 0 {
				continue
			}
			if text := strings.TrimSpace(alternatives[0].GetText()); text != "" {
				parts = append(parts, text)
			}
		}
	}()

	for offset := 0; offset < len(pcm.Data); offset += yandexChunkSize {
		end := min(offset+yandexChunkSize, len(pcm.Data))
		chunk := &speechkit.StreamingRequest{
			Event: &speechkit.StreamingRequest_Chunk{
				Chunk: &speechkit.AudioChunk{
					Data: pcm.Data[offset:end],
				},
			},
		}
		if err := stream.Send(chunk); err != nil {
			if errors.Is(err, io.EOF) {
				// The server ended the stream; Recv reports why.
				break
			}
			return "", fmt.Errorf("%w: failed to send audio chunk: %w", ErrTranscription, err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return "", fmt.Errorf("%w: failed to close audio stream: %w", ErrTranscription, err)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("%w: error receiving response: %w", ErrTranscription, r.err)
		}
		return r.text, nil
	}
}

func (s *YandexTranscriber) authMetadata() metadata.MD {
	auth := "Bearer " + s.config.IamToken
	if s.config.APIKey != "" {
		auth = "Api-Key " + s.config.APIKey
	}
	return metadata.Pairs(
		"authorization", auth,
		"x-folder-id", s.config.FolderID,
	)
}

func (s *YandexTranscriber) sessionOptions(pcm audio.PCM) *speechkit.StreamingRequest {
	return &speechkit.StreamingRequest{
		Event: &speechkit.StreamingRequest_SessionOptions{
			SessionOptions: &speechkit.StreamingOptions{
				RecognitionModel: &speechkit.RecognitionModelOptions{
					AudioFormat: &speechkit.AudioFormatOptions{
						AudioFormat: &speechkit.AudioFormatOptions_RawAudio{
							RawAudio: &speechkit.RawAudio{
								AudioEncoding:     speechkit.RawAudio_LINEAR16_PCM,
								SampleRateHertz:   int64(pcm.SampleRate),
								AudioChannelCount: int64(pcm.Channels),
							},
						},
					},
					TextNormalization: &speechkit.TextNormalizationOptions{
						TextNormalization: speechkit.TextNormalizationOptions_TEXT_NORMALIZATION_ENABLED,
					},
					LanguageRestriction: &speechkit.LanguageRestrictionOptions{
						RestrictionType: speechkit.LanguageRestrictionOptions_WHITELIST,
						LanguageCode:    []string{s.config.Language},
					},
					AudioProcessingType: speechkit.RecognitionModelOptions_FULL_DATA,
				},
			},
		},
	}
}
