package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "config.json", `{"broker": "localhost", "mqtt_topic": "home/transcripts"}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Port != DefaultPort {
		t.Fatalf("expected default port, got %d", cfg.Port)
	}
	if cfg.WavDirectory != "./recordings" {
		t.Fatalf("unexpected wav_directory: %q", cfg.WavDirectory)
	}
	if cfg.MaxFiles != 10 {
		t.Fatalf("unexpected max_files: %d", cfg.MaxFiles)
	}
	if cfg.LogFile != "transcription.log" {
		t.Fatalf("unexpected log_file: %q", cfg.LogFile)
	}
	if cfg.CaptureDuration() != 30*time.Second {
		t.Fatalf("unexpected duration: %v", cfg.CaptureDuration())
	}
	if cfg.SampleRate != 44100 || cfg.Channels != 1 {
		t.Fatalf("unexpected audio format: %d Hz, %d channels", cfg.SampleRate, cfg.Channels)
	}
	if cfg.AudioDevice.IsSet {
		t.Fatalf("expected system default device, got %v", cfg.AudioDevice)
	}
	if cfg.Debug || cfg.LocalOffset != 0 {
		t.Fatalf("unexpected debug/offset defaults")
	}
	if cfg.Transcriber != "whisper" || cfg.Whisper.Device != "auto" {
		t.Fatalf("unexpected transcriber defaults: %q %q", cfg.Transcriber, cfg.Whisper.Device)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		contents string
	}{
		{
			name:     "json",
			file:     "config.json",
			contents: `{"broker": "mqtt.local", "port": 1884, "mqtt_topic": "t", "audio_device": 3, "max_files": 2, "local_offset": 120}`,
		},
		{
			name: "toml",
			file: "config.toml",
			contents: `broker = "mqtt.local"
port = 1884
mqtt_topic = "t"
audio_device = 3
max_files = 2
local_offset = 120
`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			contents: `broker: mqtt.local
port: 1884
mqtt_topic: t
audio_device: 3
max_files: 2
local_offset: 120
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.file, tt.contents))
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			if cfg.Broker != "mqtt.local" || cfg.Port != 1884 {
				t.Fatalf("unexpected broker: %s:%d", cfg.Broker, cfg.Port)
			}
			if cfg.BrokerURL() != "tcp://mqtt.local:1884" {
				t.Fatalf("unexpected broker url: %s", cfg.BrokerURL())
			}
			if !cfg.AudioDevice.IsSet || cfg.AudioDevice.Index != 3 || cfg.AudioDevice.Name != "" {
				t.Fatalf("unexpected device: %+v", cfg.AudioDevice)
			}
			if cfg.MaxFiles != 2 || cfg.LocalOffset != 120 {
				t.Fatalf("unexpected values: max_files=%d local_offset=%d", cfg.MaxFiles, cfg.LocalOffset)
			}
		})
	}
}

func TestLoadDeviceByName(t *testing.T) {
	path := writeConfig(t, "config.json", `{"broker": "b", "mqtt_topic": "t", "audio_device": "USB Microphone"}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.AudioDevice.Name != "USB Microphone" || !cfg.AudioDevice.IsSet {
		t.Fatalf("unexpected device: %+v", cfg.AudioDevice)
	}
	if cfg.AudioDevice.String() != "USB Microphone" {
		t.Fatalf("unexpected device string: %s", cfg.AudioDevice)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		errorMsg string
	}{
		{name: "invalid json", contents: `{"broker": `, errorMsg: "is not valid"},
		{name: "missing broker", contents: `{"mqtt_topic": "t"}`, errorMsg: "broker cannot be empty"},
		{name: "missing topic", contents: `{"broker": "b"}`, errorMsg: "mqtt_topic cannot be empty"},
		{name: "bad port", contents: `{"broker": "b", "mqtt_topic": "t", "port": 70000}`, errorMsg: "port must be between"},
		{name: "bad max files", contents: `{"broker": "b", "mqtt_topic": "t", "max_files": -1}`, errorMsg: "max_files must be >= 0, got -1"},
		{name: "negative device", contents: `{"broker": "b", "mqtt_topic": "t", "audio_device": -1}`, errorMsg: "non-negative integer"},
		{name: "debug without sample", contents: `{"broker": "b", "mqtt_topic": "t", "debug": true}`, errorMsg: "sample_wav_file is required"},
		{name: "debug with missing sample", contents: `{"broker": "b", "mqtt_topic": "t", "debug": true, "sample_wav_file": "/nonexistent/sample.wav"}`, errorMsg: "not accessible"},
		{name: "unknown transcriber", contents: `{"broker": "b", "mqtt_topic": "t", "transcriber": "magic"}`, errorMsg: "transcriber must be one of"},
		{name: "speechkit without folder", contents: `{"broker": "b", "mqtt_topic": "t", "transcriber": "speechkit", "speechkit": {"api_key": "k"}}`, errorMsg: "speechkit.folder_id"},
		{name: "bad log level", contents: `{"broker": "b", "mqtt_topic": "t", "log_level": "trace"}`, errorMsg: "log_level must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.json", tt.contents))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.errorMsg)
			}
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Fatalf("expected error to contain %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestLoadKeepsZeroMaxFiles(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.json", `{"broker": "b", "mqtt_topic": "t", "max_files": 0}`))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.MaxFiles != 0 {
		t.Fatalf("expected explicit max_files 0 to be kept, got %d", cfg.MaxFiles)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadDebugWithExistingSample(t *testing.T) {
	sample := filepath.Join(t.TempDir(), "sample.wav")
	if err := os.WriteFile(sample, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	path := writeConfig(t, "config.json", `{"broker": "b", "mqtt_topic": "t", "debug": true, "sample_wav_file": "`+filepath.ToSlash(sample)+`"}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !cfg.Debug {
		t.Fatalf("expected debug mode")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AIHL_MQTT_PASSWORD", "from-env")
	t.Setenv("AIHL_DEEPGRAM_API_KEY", "dg-key")
	path := writeConfig(t, "config.json", `{"broker": "b", "mqtt_topic": "t", "mqtt_password": "from-file", "transcriber": "deepgram"}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.MQTTPassword != "from-env" {
		t.Fatalf("expected env password, got %q", cfg.MQTTPassword)
	}
	if cfg.Deepgram.APIKey != "dg-key" {
		t.Fatalf("expected env deepgram key, got %q", cfg.Deepgram.APIKey)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("AIHL_TEST_LOAD_ENV=loaded\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("AIHL_TEST_LOAD_ENV", "")
	os.Unsetenv("AIHL_TEST_LOAD_ENV")

	if err := LoadEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("load env failed: %v", err)
	}
	if got := os.Getenv("AIHL_TEST_LOAD_ENV"); got != "loaded" {
		t.Fatalf("expected variable from env file, got %q", got)
	}
}

func TestPublishFatalPolicy(t *testing.T) {
	cfg := Default()
	if !cfg.PublishFatal(true) {
		t.Fatalf("one-shot mode should default to fatal publish errors")
	}
	if cfg.PublishFatal(false) {
		t.Fatalf("loop mode should default to non-fatal publish errors")
	}

	fatal := true
	cfg.PublishErrorsFatal = &fatal
	if !cfg.PublishFatal(false) {
		t.Fatalf("explicit policy should override loop default")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Config{Duration: 1.5, CaptureRetryDelay: 0.25, MQTTTimeout: 3}

	if cfg.CaptureDuration() != 1500*time.Millisecond {
		t.Fatalf("unexpected capture duration: %v", cfg.CaptureDuration())
	}
	if cfg.RetryDelay() != 250*time.Millisecond {
		t.Fatalf("unexpected retry delay: %v", cfg.RetryDelay())
	}
	if cfg.PublishTimeout() != 3*time.Second {
		t.Fatalf("unexpected publish timeout: %v", cfg.PublishTimeout())
	}
}
