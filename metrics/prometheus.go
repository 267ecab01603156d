package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes.
const (
	OutcomePublished       = "published"
	OutcomeEmpty           = "empty"
	OutcomeCaptureFailed   = "capture_failed"
	OutcomeTranscribeError = "transcription_failed"
	OutcomePublishFailed   = "publish_failed"
)

// Metrics contains all Prometheus metrics for the pipeline
type Metrics struct {
	registry *prometheus.Registry

	Cycles                *prometheus.CounterVec
	CaptureFailures       prometheus.Counter
	TranscriptionFailures prometheus.Counter
	TranscriptionDuration prometheus.Histogram
	Publishes             *prometheus.CounterVec
	LogFailures           prometheus.Counter
	RetentionDeleted      prometheus.Counter
	RetentionErrors       prometheus.Counter
	ArtifactsRetained     prometheus.Gauge
}

// NewMetrics creates all metrics on a private registry together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aihl_cycles_total",
			Help: "Total number of pipeline cycles by outcome",
		}, []string{"outcome"}),
		CaptureFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "aihl_capture_failures_total",
			Help: "Total number of failed segment captures",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "aihl_transcription_failures_total",
			Help: "Total number of failed transcriptions",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aihl_transcription_duration_seconds",
			Help:    "Time spent transcribing one artifact",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),
		Publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aihl_publish_total",
			Help: "Total number of publish attempts by result",
		}, []string{"result"}),
		LogFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "aihl_log_failures_total",
			Help: "Total number of transcripts that could not be appended to the log file",
		}),
		RetentionDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "aihl_retention_deleted_total",
			Help: "Total number of artifacts deleted by retention",
		}),
		RetentionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "aihl_retention_errors_total",
			Help: "Total number of retention passes that left files behind",
		}),
		ArtifactsRetained: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aihl_artifacts_retained",
			Help: "Artifacts left on disk after the last retention pass",
		}),
	}
}

func (m *Metrics) RecordCycle(outcome string) {
	m.Cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordCaptureFailure() {
	m.CaptureFailures.Inc()
}

func (m *Metrics) RecordTranscription(durationSeconds float64, err error) {
	m.TranscriptionDuration.Observe(durationSeconds)
	if err != nil {
		m.TranscriptionFailures.Inc()
	}
}

func (m *Metrics) RecordPublish(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Publishes.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordLogFailure() {
	m.LogFailures.Inc()
}

func (m *Metrics) RecordRetention(deleted int, err error, retained int) {
	m.RetentionDeleted.Add(float64(deleted))
	if err != nil {
		m.RetentionErrors.Inc()
	}
	if retained >= 0 {
		m.ArtifactsRetained.Set(float64(retained))
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics endpoint listening", slog.String("address", listener.Addr().String()))
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}
