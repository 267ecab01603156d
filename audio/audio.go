package audio

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrCapture marks a failed segment capture: device unavailable, stream
// errors, or an artifact that could not be written.
var ErrCapture = errors.New("capture failed")

// PartialSuffix is appended to artifacts while they are being written.
const PartialSuffix = ".part"

// Config holds the capture parameters for one segment
type Config struct {
	DeviceIndex     int // -1 selects by name or the system default
	DeviceName      string
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	Duration        time.Duration
}

// SampleCount returns the number of interleaved int16 samples in one segment.
func (c Config) SampleCount() int {
	return int(c.Duration.Seconds()*float64(c.SampleRate)) * c.Channels
}

func (c Config) device() string {
	switch {
	case c.DeviceName != "":
		return c.DeviceName
	case c.DeviceIndex >= 0:
		return "device " + strconv.Itoa(c.DeviceIndex)
	default:
		return "default input"
	}
}

// Artifact is a finished recording on disk.
type Artifact struct {
	Path       string
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// Recorder defines the interface for blocking microphone capture
type Recorder interface {
	// Initialize initializes the audio system
	Initialize() error

	// Terminate terminates the audio system
	Terminate()

	// Record blocks until samples is completely filled from the input device
	// or ctx is cancelled.
	Record(ctx context.Context, samples []int16) error
}

// Capturer produces one audio artifact at the given path.
type Capturer interface {
	Capture(ctx context.Context, path string) (Artifact, error)
}
