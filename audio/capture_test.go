package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeRecorder struct {
	err   error
	calls int
}

func (r *fakeRecorder) Initialize() error { return nil }
func (r *fakeRecorder) Terminate()        {}

func (r *fakeRecorder) Record(ctx context.Context, samples []int16) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	for i := range samples {
		samples[i] = int16(i)
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := GetDefaultConfig()
	cfg.SampleRate = 8000
	cfg.Duration = 250 * time.Millisecond
	return cfg
}

func TestDeviceCapturerWritesArtifact(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "recording_20240101-120000.wav")
	recorder := &fakeRecorder{}
	capturer := NewDeviceCapturer(testConfig(), recorder, discardLogger())

	artifact, err := capturer.Capture(context.Background(), path)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if recorder.calls != 1 {
		t.Fatalf("expected one record call, got %d", recorder.calls)
	}
	if artifact.Path != path || artifact.SampleRate != 8000 || artifact.Channels != 1 {
		t.Fatalf("unexpected artifact: %+v", artifact)
	}

	onDisk, err := Inspect(path)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	if onDisk.Duration != 250*time.Millisecond {
		t.Fatalf("unexpected duration on disk: %v", onDisk.Duration)
	}
}

func TestDeviceCapturerFailureLeavesNoArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "recording_20240101-120000.wav")
	recorder := &fakeRecorder{err: errors.New("device unplugged")}
	capturer := NewDeviceCapturer(testConfig(), recorder, discardLogger())

	_, err := capturer.Capture(context.Background(), path)
	if !errors.Is(err, ErrCapture) {
		t.Fatalf("expected ErrCapture, got %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files after failed capture, found %d", len(entries))
	}
}

func TestDeviceCapturerRejectsEmptySegment(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Duration = 0
	recorder := &fakeRecorder{}
	capturer := NewDeviceCapturer(cfg, recorder, discardLogger())

	_, err := capturer.Capture(context.Background(), filepath.Join(t.TempDir(), "x.wav"))
	if !errors.Is(err, ErrCapture) {
		t.Fatalf("expected ErrCapture, got %v", err)
	}
	if recorder.calls != 0 {
		t.Fatalf("recorder should not run for an empty segment")
	}
}

func TestSampleCapturerCopiesSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	source := filepath.Join(dir, "sample.wav")
	if err := WriteWAV(source, []int16{1, 2, 3, 4, 5, 6, 7, 8}, 8000, 2); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	capturer := NewSampleCapturer(source, discardLogger())
	path := filepath.Join(dir, "recording_20240101-120000.wav")
	artifact, err := capturer.Capture(context.Background(), path)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if artifact.Channels != 2 || artifact.SampleRate != 8000 {
		t.Fatalf("unexpected artifact: %+v", artifact)
	}

	want, _ := os.ReadFile(source)
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("artifact differs from sample file")
	}
}

func TestSampleCapturerMissingSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	capturer := NewSampleCapturer(filepath.Join(dir, "missing.wav"), discardLogger())
	_, err := capturer.Capture(context.Background(), filepath.Join(dir, "out.wav"))
	if !errors.Is(err, ErrCapture) {
		t.Fatalf("expected ErrCapture, got %v", err)
	}
}

func TestSampleCapturerHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	capturer := NewSampleCapturer("unused.wav", discardLogger())
	if _, err := capturer.Capture(ctx, filepath.Join(t.TempDir(), "out.wav")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
