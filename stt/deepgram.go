package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/d1nch8g/aihl/audio"
)

const deepgramChunkSize = 8 * 1024

type DeepgramConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// DeepgramTranscriber sends a recorded file over Deepgram's live websocket
// and keeps the final transcripts.
type DeepgramTranscriber struct {
	config DeepgramConfig
	dialer *websocket.Dialer
	logger *slog.Logger
}

var _ Transcriber = (*DeepgramTranscriber)(nil)

func NewDeepgramTranscriber(config DeepgramConfig, logger *slog.Logger) *DeepgramTranscriber {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.deepgram.com/v1"
	}
	if config.Model == "" {
		config.Model = "nova-2"
	}
	return &DeepgramTranscriber{
		config: config,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

func (d *DeepgramTranscriber) Close() error {
	return nil
}

func (d *DeepgramTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	if strings.TrimSpace(d.config.APIKey) == "" {
		return "", fmt.Errorf("%w: deepgram api key is not configured", ErrTranscription)
	}

	pcm, err := audio.LoadPCM16(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	wsURL, err := buildListenURL(d.config, pcm.SampleRate, pcm.Channels)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.config.APIKey)

	conn, _, err := d.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return "", fmt.Errorf("%w: failed to connect to Deepgram websocket: %w", ErrTranscription, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := readFinals(conn)
		done <- result{text: text, err: err}
	}()

	if err := writeAudio(conn, pcm.Data); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	r := <-done
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if r.err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, r.err)
	}
	return r.text, nil
}

func writeAudio(conn *websocket.Conn, data []byte) error {
	for offset := 0; offset < len(data); offset += deepgramChunkSize {
		end := min(offset+deepgramChunkSize, len(data))
		if err := conn.WriteMessage(websocket.BinaryMessage, data[offset:end]); err != nil {
			return fmt.Errorf("failed to send audio: %w", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}

// readFinals collects final transcripts until the server closes the socket.
func readFinals(conn *websocket.Conn) (string, error) {
	var parts []string
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				return strings.Join(parts, " "), nil
			}
			return "", fmt.Errorf("failed to read provider event: %w", err)
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			return "", errors.New(message)
		}
		if !response.IsFinal {
			continue
		}
		if text := extractTranscript(response); text != "" {
			parts = append(parts, text)
		}
	}
}

type deepgramResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	IsFinal bool   `json:"is_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(response.Channel.Alternatives[0].Transcript)
}

func buildListenURL(cfg DeepgramConfig, sampleRate, channels int) (string, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(sampleRate))
	query.Set("channels", strconv.Itoa(channels))
	query.Set("punctuate", "true")
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
