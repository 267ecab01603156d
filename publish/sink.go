package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	ErrConnect = errors.New("message bus connection failed")
	ErrPublish = errors.New("publish failed")
	ErrLog     = errors.New("transcript log write failed")
)

// Publisher defines the interface for a message bus connection
type Publisher interface {
	// Publish sends payload to topic and waits for it to be accepted
	Publish(ctx context.Context, topic string, payload []byte) error

	// Close flushes in-flight messages and tears the connection down
	Close()
}

type SinkConfig struct {
	Topic         string
	LogFile       string
	OffsetMinutes int
}

// Sink delivers transcripts to the transcript log and the message bus.
type Sink struct {
	config    SinkConfig
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewSink(config SinkConfig, publisher Publisher, logger *slog.Logger) *Sink {
	return &Sink{
		config:    config,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Deliver formats text once, appends it to the log and publishes it. Blank
// text is dropped and reported as not delivered. The log line is written
// even when publishing fails.
func (s *Sink) Deliver(ctx context.Context, text string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, nil
	}

	msg := Message{Text: text, UTC: s.now().UTC(), OffsetMinutes: s.config.OffsetMinutes}
	line := msg.String()

	var errs []error
	if err := AppendLog(s.config.LogFile, line); err != nil {
		errs = append(errs, err)
	}
	if err := s.publisher.Publish(ctx, s.config.Topic, []byte(line)); err != nil {
		if errors.Is(err, ErrPublish) {
			errs = append(errs, err)
		} else {
			errs = append(errs, fmt.Errorf("%w: %w", ErrPublish, err))
		}
	} else {
		s.logger.Info("Published transcript", slog.String("topic", s.config.Topic), slog.String("message", line))
	}

	return true, errors.Join(errs...)
}
