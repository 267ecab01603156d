package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/d1nch8g/aihl/audio"
	"github.com/d1nch8g/aihl/config"
	"github.com/d1nch8g/aihl/engine"
	"github.com/d1nch8g/aihl/metrics"
	"github.com/d1nch8g/aihl/publish"
	"github.com/d1nch8g/aihl/retention"
	"github.com/d1nch8g/aihl/stt"
	"github.com/d1nch8g/aihl/version"
)

// dependencies builds the external collaborators; tests replace them.
type dependencies struct {
	newTranscriber func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (stt.Transcriber, error)
	connect        func(ctx context.Context, cfg publish.MQTTConfig, logger *slog.Logger) (publish.Publisher, error)
	newRecorder    func(cfg audio.Config, logger *slog.Logger) audio.Recorder
}

func defaultDependencies() dependencies {
	return dependencies{
		newTranscriber: stt.New,
		connect: func(ctx context.Context, cfg publish.MQTTConfig, logger *slog.Logger) (publish.Publisher, error) {
			return publish.ConnectMQTT(ctx, cfg, logger)
		},
		newRecorder: func(cfg audio.Config, logger *slog.Logger) audio.Recorder {
			return audio.NewPortaudioRecorder(cfg, logger)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(defaultDependencies()).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(deps dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aihl <config_file> [audio_file]",
		Short: "Record, transcribe and publish audio to MQTT",
		Long: "Continuously records fixed-length audio segments, transcribes them and publishes the text to an MQTT topic, " +
			"keeping only the most recent recordings on disk. With an audio file argument, transcribes and publishes that file once.",
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := ""
			if len(args) == 2 {
				input = args[1]
			}
			return run(cmd.Context(), deps, args[0], input, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.AddCommand(newDevicesCmd())

	return rootCmd
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder := audio.NewPortaudioRecorder(audio.GetDefaultConfig(), slog.Default())
			if err := recorder.Initialize(); err != nil {
				return fmt.Errorf("failed to initialize PortAudio: %w", err)
			}
			defer recorder.Terminate()

			devices, err := audio.ListDevices()
			if err != nil {
				return fmt.Errorf("failed to list devices: %w", err)
			}
			printDevices(cmd.OutOrStdout(), devices)
			return nil
		},
	}
}

func printDevices(w io.Writer, devices []audio.DeviceInfo) {
	for _, d := range devices {
		marker := ""
		if d.DefaultInput {
			marker = " (default input)"
		}
		fmt.Fprintf(w, "Device %d: %s%s\n", d.Index, d.Name, marker)
		if d.HostAPI != "" {
			fmt.Fprintf(w, "  Host API: %s\n", d.HostAPI)
		}
		fmt.Fprintf(w, "  Input Channels: %d\n", d.MaxInputChannels)
		fmt.Fprintf(w, "  Output Channels: %d\n", d.MaxOutputChannels)
		fmt.Fprintf(w, "  Default Sample Rate: %.1f\n", d.DefaultSampleRate)
		fmt.Fprintln(w, "---")
	}
}

func run(ctx context.Context, deps dependencies, configPath, input string, stdout, stderr io.Writer) error {
	if err := config.LoadEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.LogLevel, cfg.LogFormat, stderr)
	oneShot := input != ""

	logger.Info("Service starting",
		slog.String("version", version.Version),
		slog.String("config_path", configPath),
		slog.Bool("one_shot", oneShot),
	)
	logger.Info("Configuration loaded",
		slog.String("broker", cfg.BrokerURL()),
		slog.String("topic", cfg.MQTTTopic),
		slog.String("audio_device", cfg.AudioDevice.String()),
		slog.String("wav_directory", cfg.WavDirectory),
		slog.Int("max_files", cfg.MaxFiles),
		slog.Bool("debug", cfg.Debug),
		slog.String("transcriber", cfg.Transcriber),
	)

	if oneShot {
		if _, err := os.Stat(input); err != nil {
			return fmt.Errorf("input file %s is not accessible: %w", input, err)
		}
	}

	appMetrics := metrics.NewMetrics()
	if cfg.MetricsAddress != "" {
		if err := appMetrics.Serve(ctx, cfg.MetricsAddress, logger); err != nil {
			return err
		}
	}

	transcriber, err := deps.newTranscriber(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create transcriber: %w", err)
	}

	publisher, err := deps.connect(ctx, publish.MQTTConfig{
		BrokerURL:     cfg.BrokerURL(),
		ClientID:      cfg.MQTTClientID,
		Username:      cfg.MQTTUsername,
		Password:      cfg.MQTTPassword,
		QoS:           byte(cfg.MQTTQoS),
		Retain:        cfg.MQTTRetain,
		Timeout:       cfg.PublishTimeout(),
		AutoReconnect: !oneShot,
	}, logger)
	if err != nil {
		transcriber.Close()
		return err
	}
	defer publisher.Close()

	sink := publish.NewSink(publish.SinkConfig{
		Topic:         cfg.MQTTTopic,
		LogFile:       cfg.LogFile,
		OffsetMinutes: cfg.LocalOffset,
	}, publisher, logger)

	engineConfig := engine.EngineConfig{
		Directory:    cfg.WavDirectory,
		MaxFiles:     cfg.MaxFiles,
		RetryDelay:   cfg.RetryDelay(),
		PublishFatal: cfg.PublishFatal(oneShot),
	}

	if oneShot {
		eng := engine.NewEngine(engineConfig, nil, transcriber, sink, retention.NewManager(logger), appMetrics, logger)
		defer eng.Stop()

		outcome, err := eng.ProcessFile(ctx, input)
		if err != nil {
			return err
		}
		if outcome == engine.OutcomeEmpty {
			fmt.Fprintln(stdout, "nothing to publish")
		}
		return nil
	}

	capturer, release, err := newCapturer(cfg, deps, logger)
	if err != nil {
		transcriber.Close()
		return err
	}
	defer release()

	eng := engine.NewEngine(engineConfig, capturer, transcriber, sink, retention.NewManager(logger), appMetrics, logger)
	defer eng.Stop()

	return eng.Run(ctx)
}

// newCapturer returns the capture source for loop mode and a release func
// for any audio runtime it acquired.
func newCapturer(cfg *config.Config, deps dependencies, logger *slog.Logger) (audio.Capturer, func(), error) {
	if cfg.Debug {
		logger.Info("Debug mode: using sample file instead of recording", slog.String("sample", cfg.SampleWavFile))
		return audio.NewSampleCapturer(cfg.SampleWavFile, logger), func() {}, nil
	}

	audioConfig := audio.Config{
		DeviceIndex:     -1,
		SampleRate:      cfg.SampleRate,
		Channels:        cfg.Channels,
		FramesPerBuffer: cfg.FramesPerBuffer,
		Duration:        cfg.CaptureDuration(),
	}
	if cfg.AudioDevice.IsSet {
		if cfg.AudioDevice.Name != "" {
			audioConfig.DeviceName = cfg.AudioDevice.Name
		} else {
			audioConfig.DeviceIndex = cfg.AudioDevice.Index
		}
	}

	recorder := deps.newRecorder(audioConfig, logger)
	if err := recorder.Initialize(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return audio.NewDeviceCapturer(audioConfig, recorder, logger), recorder.Terminate, nil
}

// initLogger creates and configures the structured logger
func initLogger(levelName, format string, output io.Writer) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
