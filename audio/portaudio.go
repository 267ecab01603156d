package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// maxReadErrors bounds consecutive stream read failures before a capture is
// abandoned.
const maxReadErrors = 10

// DeviceInfo describes an audio device known to PortAudio.
type DeviceInfo struct {
	Index             int
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	DefaultInput      bool
}

type PortaudioRecorder struct {
	config Config
	logger *slog.Logger
}

var _ Recorder = (*PortaudioRecorder)(nil)

func NewPortaudioRecorder(config Config, logger *slog.Logger) *PortaudioRecorder {
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = GetDefaultConfig().FramesPerBuffer
	}
	return &PortaudioRecorder{
		config: config,
		logger: logger,
	}
}

func (r *PortaudioRecorder) Initialize() error {
	return portaudio.Initialize()
}

func (r *PortaudioRecorder) Terminate() {
	portaudio.Terminate()
}

// Record opens a fresh input stream, fills samples and closes the stream
// again, so nothing leaks into the next segment when a capture fails.
func (r *PortaudioRecorder) Record(ctx context.Context, samples []int16) error {
	device, err := r.inputDevice()
	if err != nil {
		return err
	}

	frame := make([]int16, r.config.FramesPerBuffer*r.config.Channels)
	params := portaudio.HighLatencyParameters(device, nil)
	params.Input.Channels = r.config.Channels
	params.SampleRate = float64(r.config.SampleRate)
	params.FramesPerBuffer = r.config.FramesPerBuffer

	stream, err := portaudio.OpenStream(params, frame)
	if err != nil {
		return fmt.Errorf("failed to open input stream on %s: %w", device.Name, err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	defer stream.Stop()

	filled := 0
	readErrors := 0
	for filled < len(samples) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := stream.Read(); err != nil {
			readErrors++
			if readErrors >= maxReadErrors {
				return fmt.Errorf("failed to read audio: %w", err)
			}
			r.logger.Warn("Error reading audio", slog.String("error", err.Error()))
			continue
		}
		readErrors = 0
		filled += copy(samples[filled:], frame)
	}

	return nil
}

func (r *PortaudioRecorder) inputDevice() (*portaudio.DeviceInfo, error) {
	if r.config.DeviceIndex < 0 && r.config.DeviceName == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	found, err := FindDevice(convertDevices(devices, nil), r.config.DeviceIndex, r.config.DeviceName)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Index == found.Index {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device %d disappeared during lookup", found.Index)
}

// ListDevices returns every device PortAudio can see. The caller must have
// initialized PortAudio.
func ListDevices() ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		defaultInput = nil
	}
	return convertDevices(devices, defaultInput), nil
}

func convertDevices(devices []*portaudio.DeviceInfo, defaultInput *portaudio.DeviceInfo) []DeviceInfo {
	result := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		info := DeviceInfo{
			Index:             d.Index,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			DefaultInput:      defaultInput != nil && d.Index == defaultInput.Index,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		result = append(result, info)
	}
	return result
}

// FindDevice resolves a device by index when index >= 0, otherwise by exact
// name and then by case-insensitive substring. Only input-capable devices match.
func FindDevice(devices []DeviceInfo, index int, name string) (DeviceInfo, error) {
	if index >= 0 {
		for _, d := range devices {
			if d.Index == index {
				if d.MaxInputChannels == 0 {
					return DeviceInfo{}, fmt.Errorf("device %d (%s) has no input channels", index, d.Name)
				}
				return d, nil
			}
		}
		return DeviceInfo{}, fmt.Errorf("no audio device with index %d", index)
	}

	if name == "" {
		return DeviceInfo{}, errors.New("no device index or name given")
	}

	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	needle := strings.ToLower(name)
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), needle) && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return DeviceInfo{}, fmt.Errorf("no input device matching %q", name)
}

func GetDefaultConfig() Config {
	return Config{
		DeviceIndex:     -1,
		SampleRate:      44100,
		Channels:        1,
		FramesPerBuffer: 1024,
	}
}
