package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfig marks every failure to load or validate the configuration.
var ErrConfig = errors.New("invalid configuration")

const (
	DefaultPort              = 1883
	DefaultWavDirectory      = "./recordings"
	DefaultMaxFiles          = 10
	DefaultLogFile           = "transcription.log"
	DefaultDuration          = 30
	DefaultSampleRate        = 44100
	DefaultChannels          = 1
	DefaultFramesPerBuffer   = 1024
	DefaultMQTTTimeout       = 10
	DefaultCaptureRetryDelay = 1
)

// Config is the static process configuration.
type Config struct {
	Broker    string `json:"broker" toml:"broker" yaml:"broker"`
	Port      int    `json:"port" toml:"port" yaml:"port"`
	MQTTTopic string `json:"mqtt_topic" toml:"mqtt_topic" yaml:"mqtt_topic"`

	MQTTClientID string `json:"mqtt_client_id" toml:"mqtt_client_id" yaml:"mqtt_client_id"`
	MQTTUsername string `json:"mqtt_username" toml:"mqtt_username" yaml:"mqtt_username"`
	MQTTPassword string `json:"mqtt_password" toml:"mqtt_password" yaml:"mqtt_password"`
	MQTTQoS      int    `json:"mqtt_qos" toml:"mqtt_qos" yaml:"mqtt_qos"`
	MQTTRetain   bool   `json:"mqtt_retain" toml:"mqtt_retain" yaml:"mqtt_retain"`
	MQTTTimeout  int    `json:"mqtt_timeout" toml:"mqtt_timeout" yaml:"mqtt_timeout"` // seconds

	AudioDevice     Device  `json:"audio_device" toml:"audio_device" yaml:"audio_device"`
	Duration        float64 `json:"duration" toml:"duration" yaml:"duration"` // seconds
	SampleRate      int     `json:"sample_rate" toml:"sample_rate" yaml:"sample_rate"`
	Channels        int     `json:"channels" toml:"channels" yaml:"channels"`
	FramesPerBuffer int     `json:"frames_per_buffer" toml:"frames_per_buffer" yaml:"frames_per_buffer"`

	WavDirectory      string  `json:"wav_directory" toml:"wav_directory" yaml:"wav_directory"`
	MaxFiles          int     `json:"max_files" toml:"max_files" yaml:"max_files"`
	CaptureRetryDelay float64 `json:"capture_retry_delay" toml:"capture_retry_delay" yaml:"capture_retry_delay"` // seconds

	Debug         bool   `json:"debug" toml:"debug" yaml:"debug"`
	SampleWavFile string `json:"sample_wav_file" toml:"sample_wav_file" yaml:"sample_wav_file"`

	LocalOffset int    `json:"local_offset" toml:"local_offset" yaml:"local_offset"` // minutes
	LogFile     string `json:"log_file" toml:"log_file" yaml:"log_file"`

	// PublishErrorsFatal is nil when the mode default applies.
	PublishErrorsFatal *bool `json:"publish_errors_fatal" toml:"publish_errors_fatal" yaml:"publish_errors_fatal"`

	Transcriber string          `json:"transcriber" toml:"transcriber" yaml:"transcriber"`
	Whisper     WhisperConfig   `json:"whisper" toml:"whisper" yaml:"whisper"`
	SpeechKit   SpeechKitConfig `json:"speechkit" toml:"speechkit" yaml:"speechkit"`
	Deepgram    DeepgramConfig  `json:"deepgram" toml:"deepgram" yaml:"deepgram"`

	MetricsAddress string `json:"metrics_address" toml:"metrics_address" yaml:"metrics_address"`
	LogLevel       string `json:"log_level" toml:"log_level" yaml:"log_level"`
	LogFormat      string `json:"log_format" toml:"log_format" yaml:"log_format"`
}

type WhisperConfig struct {
	Command  string `json:"command" toml:"command" yaml:"command"`
	Model    string `json:"model" toml:"model" yaml:"model"`
	Device   string `json:"device" toml:"device" yaml:"device"` // auto|mps|cuda|cpu
	Language string `json:"language" toml:"language" yaml:"language"`
}

type SpeechKitConfig struct {
	APIKey   string `json:"api_key" toml:"api_key" yaml:"api_key"`
	IamToken string `json:"iam_token" toml:"iam_token" yaml:"iam_token"`
	FolderID string `json:"folder_id" toml:"folder_id" yaml:"folder_id"`
	Language string `json:"language" toml:"language" yaml:"language"`
	Endpoint string `json:"endpoint" toml:"endpoint" yaml:"endpoint"`
}

type DeepgramConfig struct {
	APIKey   string `json:"api_key" toml:"api_key" yaml:"api_key"`
	BaseURL  string `json:"base_url" toml:"base_url" yaml:"base_url"`
	Model    string `json:"model" toml:"model" yaml:"model"`
	Language string `json:"language" toml:"language" yaml:"language"`
}

// Default returns a configuration holding every documented default.
func Default() Config {
	return Config{
		Port:              DefaultPort,
		MQTTTimeout:       DefaultMQTTTimeout,
		Duration:          DefaultDuration,
		SampleRate:        DefaultSampleRate,
		Channels:          DefaultChannels,
		FramesPerBuffer:   DefaultFramesPerBuffer,
		WavDirectory:      DefaultWavDirectory,
		MaxFiles:          DefaultMaxFiles,
		CaptureRetryDelay: DefaultCaptureRetryDelay,
		LogFile:           DefaultLogFile,
		Transcriber:       "whisper",
		Whisper: WhisperConfig{
			Command: "whisper",
			Model:   "base",
			Device:  "auto",
		},
		SpeechKit: SpeechKitConfig{
			Language: "en-US",
			Endpoint: "stt.api.cloud.yandex.net:443",
		},
		Deepgram: DeepgramConfig{
			BaseURL: "https://api.deepgram.com/v1",
			Model:   "nova-2",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads the configuration file at path, overlays secrets from the
// environment and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: config file '%s' not found", ErrConfig, path)
		}
		return nil, fmt.Errorf("%w: failed to read config file %s: %w", ErrConfig, path, err)
	}

	cfg := Default()
	if err := decode(path, data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: config file '%s' is not valid: %w", ErrConfig, path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return &cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// LoadEnv loads dotenv files into the process environment. Missing files are
// skipped; variables already set are left untouched.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		key    string
		target *string
	}{
		{"AIHL_MQTT_USERNAME", &c.MQTTUsername},
		{"AIHL_MQTT_PASSWORD", &c.MQTTPassword},
		{"AIHL_SPEECHKIT_API_KEY", &c.SpeechKit.APIKey},
		{"AIHL_SPEECHKIT_IAM_TOKEN", &c.SpeechKit.IamToken},
		{"AIHL_SPEECHKIT_FOLDER_ID", &c.SpeechKit.FolderID},
		{"AIHL_DEEPGRAM_API_KEY", &c.Deepgram.APIKey},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.key)); v != "" {
			*o.target = v
		}
	}
}

// Validate checks every field and reports the first offending key.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Broker) == "" {
		return fmt.Errorf("broker cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if strings.TrimSpace(c.MQTTTopic) == "" {
		return fmt.Errorf("mqtt_topic cannot be empty")
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		return fmt.Errorf("mqtt_qos must be 0, 1 or 2, got %d", c.MQTTQoS)
	}
	if c.MQTTTimeout < 1 {
		return fmt.Errorf("mqtt_timeout must be at least 1 second, got %d", c.MQTTTimeout)
	}

	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %g", c.Duration)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", c.Channels)
	}
	if c.FramesPerBuffer < 64 {
		return fmt.Errorf("frames_per_buffer must be at least 64, got %d", c.FramesPerBuffer)
	}

	if strings.TrimSpace(c.WavDirectory) == "" {
		return fmt.Errorf("wav_directory cannot be empty")
	}
	if c.MaxFiles < 0 {
		return fmt.Errorf("max_files must be >= 0, got %d", c.MaxFiles)
	}
	if c.CaptureRetryDelay < 0 {
		return fmt.Errorf("capture_retry_delay cannot be negative, got %g", c.CaptureRetryDelay)
	}

	if c.Debug {
		if c.SampleWavFile == "" {
			return fmt.Errorf("sample_wav_file is required when debug is enabled")
		}
		info, err := os.Stat(c.SampleWavFile)
		if err != nil {
			return fmt.Errorf("sample_wav_file %s is not accessible: %w", c.SampleWavFile, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("sample_wav_file %s is not a regular file", c.SampleWavFile)
		}
	}

	if c.LocalOffset < -24*60 || c.LocalOffset > 24*60 {
		return fmt.Errorf("local_offset must be within +/-1440 minutes, got %d", c.LocalOffset)
	}
	if strings.TrimSpace(c.LogFile) == "" {
		return fmt.Errorf("log_file cannot be empty")
	}

	switch c.Transcriber {
	case "whisper":
		if c.Whisper.Command == "" {
			return fmt.Errorf("whisper.command cannot be empty")
		}
		switch c.Whisper.Device {
		case "auto", "mps", "cuda", "cpu":
		default:
			return fmt.Errorf("whisper.device must be one of [auto, mps, cuda, cpu], got '%s'", c.Whisper.Device)
		}
	case "speechkit":
		if c.SpeechKit.APIKey == "" && c.SpeechKit.IamToken == "" {
			return fmt.Errorf("speechkit.api_key or speechkit.iam_token must be set")
		}
		if c.SpeechKit.FolderID == "" {
			return fmt.Errorf("speechkit.folder_id cannot be empty")
		}
	case "deepgram":
		if c.Deepgram.APIKey == "" {
			return fmt.Errorf("deepgram.api_key cannot be empty")
		}
	default:
		return fmt.Errorf("transcriber must be one of [whisper, speechkit, deepgram], got '%s'", c.Transcriber)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of [debug, info, warn, error], got '%s'", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be 'json' or 'text', got '%s'", c.LogFormat)
	}

	return nil
}

// BrokerURL returns the paho-style broker address.
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Broker, c.Port)
}

// CaptureDuration returns the segment length as a time.Duration.
func (c *Config) CaptureDuration() time.Duration {
	return time.Duration(c.Duration * float64(time.Second))
}

// RetryDelay returns the pause after a failed capture.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.CaptureRetryDelay * float64(time.Second))
}

// PublishTimeout returns how long a single publish may wait for acknowledgement.
func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.MQTTTimeout) * time.Second
}

// PublishFatal resolves the publish error policy for the given mode.
func (c *Config) PublishFatal(oneShot bool) bool {
	if c.PublishErrorsFatal != nil {
		return *c.PublishErrorsFatal
	}
	return oneShot
}

// Device identifies a capture device either by index or by name. The zero
// value selects the system default input.
type Device struct {
	Index int
	Name  string
	IsSet bool
}

func (d Device) String() string {
	switch {
	case !d.IsSet:
		return "default"
	case d.Name != "":
		return d.Name
	default:
		return strconv.Itoa(d.Index)
	}
}

func (d *Device) set(v any) error {
	switch val := v.(type) {
	case nil:
		*d = Device{}
	case string:
		if strings.TrimSpace(val) == "" {
			*d = Device{}
			return nil
		}
		*d = Device{Name: val, IsSet: true}
	case float64:
		if val != float64(int(val)) || val < 0 {
			return fmt.Errorf("audio_device index must be a non-negative integer, got %v", val)
		}
		*d = Device{Index: int(val), IsSet: true}
	case int64:
		if val < 0 {
			return fmt.Errorf("audio_device index must be a non-negative integer, got %d", val)
		}
		*d = Device{Index: int(val), IsSet: true}
	case int:
		if val < 0 {
			return fmt.Errorf("audio_device index must be a non-negative integer, got %d", val)
		}
		*d = Device{Index: val, IsSet: true}
	default:
		return fmt.Errorf("audio_device must be an integer index or a device name, got %T", v)
	}
	return nil
}

func (d *Device) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Device) UnmarshalTOML(v any) error {
	return d.set(v)
}

func (d *Device) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}
