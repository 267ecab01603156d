package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/d1nch8g/aihl/audio"
	"github.com/d1nch8g/aihl/metrics"
	"github.com/d1nch8g/aihl/publish"
	"github.com/d1nch8g/aihl/retention"
	"github.com/d1nch8g/aihl/stt"
)

// Deliverer hands a transcript to its consumers. It reports false when the
// text was blank and nothing was written.
type Deliverer interface {
	Deliver(ctx context.Context, text string) (bool, error)
}

// Reclaimer bounds the number of artifacts kept in a directory.
type Reclaimer interface {
	Enforce(dir string, maxFiles int) ([]string, error)
}

// EngineConfig holds the configuration for the pipeline driver
type EngineConfig struct {
	Directory    string
	MaxFiles     int
	RetryDelay   time.Duration
	PublishFatal bool
}

// Engine drives capture, transcription, publishing and retention
type Engine struct {
	config      EngineConfig
	capturer    audio.Capturer
	transcriber stt.Transcriber
	sink        Deliverer
	reclaimer   Reclaimer
	metrics     *metrics.Metrics
	logger      *slog.Logger
	namer       *Namer

	state atomic.Int32

	isRunning    bool
	runningMutex sync.RWMutex
}

// NewEngine creates a new pipeline driver
func NewEngine(
	config EngineConfig,
	capturer audio.Capturer,
	transcriber stt.Transcriber,
	sink Deliverer,
	reclaimer Reclaimer,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Engine {
	if config.MaxFiles < 0 {
		config.MaxFiles = 0
	}

	return &Engine{
		config:      config,
		capturer:    capturer,
		transcriber: transcriber,
		sink:        sink,
		reclaimer:   reclaimer,
		metrics:     m,
		logger:      logger,
		namer:       NewNamer(),
	}
}

// State returns the stage the current cycle is in
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(logger *slog.Logger, s State) {
	e.state.Store(int32(s))
	logger.Debug("State changed", slog.String("state", s.String()))
}

// Run captures and processes segments until ctx is cancelled. It returns nil
// on cancellation and an error only when a failure is configured as fatal.
func (e *Engine) Run(ctx context.Context) error {
	e.runningMutex.Lock()
	if e.isRunning {
		e.runningMutex.Unlock()
		return fmt.Errorf("engine is already running")
	}
	e.isRunning = true
	e.runningMutex.Unlock()

	defer func() {
		e.runningMutex.Lock()
		e.isRunning = false
		e.runningMutex.Unlock()
	}()

	if err := os.MkdirAll(e.config.Directory, 0o755); err != nil {
		return fmt.Errorf("failed to create recordings directory: %w", err)
	}
	e.removePartials()

	e.logger.Info("Engine started",
		slog.String("directory", e.config.Directory),
		slog.Int("max_files", e.config.MaxFiles),
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine stopping due to context cancellation")
			return nil
		default:
			if err := e.cycle(ctx); err != nil {
				return err
			}
		}
	}
}

// cycle runs one capture, transcribe, publish, reclaim pass. Only fatal
// errors are returned; everything else is logged.
func (e *Engine) cycle(ctx context.Context) error {
	logger := e.logger.With(slog.String("cycle", uuid.NewString()))
	defer e.setState(logger, Idle)

	name := e.namer.Next()
	path := filepath.Join(e.config.Directory, name)

	e.setState(logger, Capturing)
	artifact, err := e.capturer.Capture(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		logger.Error("Capture failed", slog.String("path", path), slog.String("error", err.Error()))
		e.metrics.RecordCaptureFailure()
		e.metrics.RecordCycle(metrics.OutcomeCaptureFailed)
		sleep(ctx, e.config.RetryDelay)
		return nil
	}
	e.namer.Commit()
	logger.Info("Saved recording", slog.String("path", artifact.Path))

	e.setState(logger, Transcribing)
	text, err := e.transcribe(ctx, artifact.Path)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		logger.Error("Transcription failed", slog.String("path", artifact.Path), slog.String("error", err.Error()))
		e.metrics.RecordCycle(metrics.OutcomeTranscribeError)
		e.reclaim(logger)
		return nil
	}

	e.setState(logger, Publishing)
	delivered, err := e.sink.Deliver(ctx, text)
	var publishErr error
	if delivered || err != nil {
		publishErr = e.recordDelivery(logger, err)
	}
	switch {
	case publishErr != nil:
		e.metrics.RecordCycle(metrics.OutcomePublishFailed)
	case !delivered:
		logger.Info("Nothing to publish", slog.String("path", artifact.Path))
		e.metrics.RecordCycle(metrics.OutcomeEmpty)
	default:
		e.metrics.RecordCycle(metrics.OutcomePublished)
	}

	e.reclaim(logger)

	if publishErr != nil && e.config.PublishFatal && ctx.Err() == nil {
		return publishErr
	}
	return nil
}

// recordDelivery logs and counts the result of a delivered transcript and
// returns the bus failure, if any. A transcript log failure alone does not
// fail the publish.
func (e *Engine) recordDelivery(logger *slog.Logger, err error) error {
	if err == nil {
		e.metrics.RecordPublish(nil)
		return nil
	}
	if errors.Is(err, publish.ErrLog) {
		logger.Error("Transcript log write failed", slog.String("error", err.Error()))
		e.metrics.RecordLogFailure()
		if !errors.Is(err, publish.ErrPublish) {
			e.metrics.RecordPublish(nil)
			return nil
		}
	}
	logger.Error("Publish failed", slog.String("error", err.Error()))
	e.metrics.RecordPublish(err)
	return err
}

// Outcome is the result of processing a single file
type Outcome int

const (
	OutcomePublished Outcome = iota
	OutcomeEmpty
	OutcomePublishFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePublished:
		return "published"
	case OutcomeEmpty:
		return "nothing to publish"
	case OutcomePublishFailed:
		return "publish failed"
	default:
		return "unknown"
	}
}

// ProcessFile transcribes and publishes one existing recording. MP3 input is
// converted to WAV first. Retention is not applied to the input.
func (e *Engine) ProcessFile(ctx context.Context, path string) (Outcome, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("input file %s is not accessible: %w", path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("input file %s is a directory", path)
	}

	logger := e.logger.With(slog.String("cycle", uuid.NewString()))
	defer e.setState(logger, Idle)

	if audio.IsMP3(path) {
		tmpDir, err := os.MkdirTemp("", "aihl-")
		if err != nil {
			return 0, fmt.Errorf("failed to create temporary directory: %w", err)
		}
		defer os.RemoveAll(tmpDir)

		wavPath := filepath.Join(tmpDir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+".wav")
		if _, err := audio.ConvertMP3(path, wavPath); err != nil {
			return 0, fmt.Errorf("failed to convert %s: %w", path, err)
		}
		logger.Info("Converted MP3 input", slog.String("source", path), slog.String("wav", wavPath))
		path = wavPath
	}

	e.setState(logger, Transcribing)
	text, err := e.transcribe(ctx, path)
	if err != nil {
		return 0, err
	}
	logger.Info("Transcription finished", slog.String("path", path), slog.String("text", text))

	e.setState(logger, Publishing)
	delivered, err := e.sink.Deliver(ctx, text)
	if !delivered && err == nil {
		return OutcomeEmpty, nil
	}
	if publishErr := e.recordDelivery(logger, err); publishErr != nil {
		if e.config.PublishFatal && ctx.Err() == nil {
			return OutcomePublishFailed, publishErr
		}
		return OutcomePublishFailed, nil
	}
	return OutcomePublished, nil
}

func (e *Engine) transcribe(ctx context.Context, path string) (string, error) {
	start := time.Now()
	text, err := e.transcriber.Transcribe(ctx, path)
	e.metrics.RecordTranscription(time.Since(start).Seconds(), err)
	if err != nil && !errors.Is(err, stt.ErrTranscription) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %w", stt.ErrTranscription, err)
	}
	return text, err
}

func (e *Engine) reclaim(logger *slog.Logger) {
	e.setState(logger, Reclaiming)

	deleted, err := e.reclaimer.Enforce(e.config.Directory, e.config.MaxFiles)
	if err != nil {
		logger.Warn("Retention pass incomplete", slog.String("error", err.Error()))
	}

	retained := -1
	if entries, scanErr := retention.Scan(os.DirFS(e.config.Directory)); scanErr == nil {
		retained = len(entries)
	}
	e.metrics.RecordRetention(len(deleted), err, retained)
}

// removePartials deletes artifacts left half-written by an interrupted run.
func (e *Engine) removePartials() {
	matches, err := filepath.Glob(filepath.Join(e.config.Directory, "*"+retention.Extension+audio.PartialSuffix))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			e.logger.Warn("Failed to remove partial recording", slog.String("path", m), slog.String("error", err.Error()))
			continue
		}
		e.logger.Info("Removed partial recording", slog.String("path", m))
	}
}

// IsRunning returns whether the engine is currently running
func (e *Engine) IsRunning() bool {
	e.runningMutex.RLock()
	defer e.runningMutex.RUnlock()
	return e.isRunning
}

// Stop releases the transcriber
func (e *Engine) Stop() error {
	if err := e.transcriber.Close(); err != nil {
		return fmt.Errorf("failed to close transcriber: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
