package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.RecordCycle(OutcomePublished)
	m.RecordCycle(OutcomePublished)
	m.RecordCycle(OutcomeEmpty)
	m.RecordCaptureFailure()
	m.RecordTranscription(1.5, nil)
	m.RecordTranscription(0.5, errors.New("boom"))
	m.RecordPublish(nil)
	m.RecordPublish(errors.New("down"))
	m.RecordLogFailure()
	m.RecordRetention(2, errors.New("denied"), 10)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"published cycles", testutil.ToFloat64(m.Cycles.WithLabelValues(OutcomePublished)), 2},
		{"empty cycles", testutil.ToFloat64(m.Cycles.WithLabelValues(OutcomeEmpty)), 1},
		{"capture failures", testutil.ToFloat64(m.CaptureFailures), 1},
		{"transcription failures", testutil.ToFloat64(m.TranscriptionFailures), 1},
		{"publish success", testutil.ToFloat64(m.Publishes.WithLabelValues("success")), 1},
		{"publish failure", testutil.ToFloat64(m.Publishes.WithLabelValues("failure")), 1},
		{"log failures", testutil.ToFloat64(m.LogFailures), 1},
		{"retention deleted", testutil.ToFloat64(m.RetentionDeleted), 2},
		{"retention errors", testutil.ToFloat64(m.RetentionErrors), 1},
		{"artifacts retained", testutil.ToFloat64(m.ArtifactsRetained), 10},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}
}

func TestHandlerExposesSeries(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.RecordCycle(OutcomeCaptureFailed)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`aihl_cycles_total{outcome="capture_failed"} 1`,
		"aihl_transcription_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}
