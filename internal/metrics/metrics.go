// Package metrics exposes Prometheus metrics for voice sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "voicetutor"

// Metrics holds all Prometheus metrics for the tutor.
type Metrics struct {
	registry *prometheus.Registry

	// Capture metrics
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	SessionsActive  prometheus.Gauge
	CaptureBytes    prometheus.Counter

	// Analysis metrics
	SubmissionsTotal   *prometheus.CounterVec
	SubmissionDuration prometheus.Histogram
	FluencyScore       prometheus.Histogram

	// Playback and notices
	PlaybackFailures prometheus.Counter
	NoticesTotal     *prometheus.CounterVec
	HistoryEntries   prometheus.Gauge
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished capture sessions by stop reason and outcome",
		}, []string{"reason", "outcome"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Capture duration in seconds",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "1 while a capture is in progress",
		}),
		CaptureBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_bytes_total",
			Help:      "Encoded audio bytes produced by finished captures",
		}),
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Analysis submissions by status",
		}, []string{"status"}),
		SubmissionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "Analysis round trip in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		FluencyScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fluency_score",
			Help:      "Fluency scores returned by the analysis service",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		PlaybackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_failures_total",
			Help:      "Tutor clips that could not be decoded or played",
		}),
		NoticesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_total",
			Help:      "User notices by kind",
		}, []string{"kind"}),
		HistoryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_entries",
			Help:      "Entries in the transcript history",
		}),
	}

	registry.MustRegister(
		m.SessionsTotal,
		m.SessionDuration,
		m.SessionsActive,
		m.CaptureBytes,
		m.SubmissionsTotal,
		m.SubmissionDuration,
		m.FluencyScore,
		m.PlaybackFailures,
		m.NoticesTotal,
		m.HistoryEntries,
	)
	return m
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionStarted records a capture starting.
func (m *Metrics) SessionStarted() {
	m.SessionsActive.Set(1)
}

// SessionFinished records a capture ending.
func (m *Metrics) SessionFinished(reason, outcome string, duration time.Duration, bytes int) {
	m.SessionsActive.Set(0)
	m.SessionsTotal.WithLabelValues(reason, outcome).Inc()
	if duration > 0 {
		m.SessionDuration.Observe(duration.Seconds())
	}
	if bytes > 0 {
		m.CaptureBytes.Add(float64(bytes))
	}
}

// Submission records an analysis round trip.
func (m *Metrics) Submission(status string, duration time.Duration) {
	m.SubmissionsTotal.WithLabelValues(status).Inc()
	m.SubmissionDuration.Observe(duration.Seconds())
}

// Fluency records a returned fluency score.
func (m *Metrics) Fluency(score int) {
	m.FluencyScore.Observe(float64(score))
}

// PlaybackFailed records a failed clip.
func (m *Metrics) PlaybackFailed() {
	m.PlaybackFailures.Inc()
}

// Notice records a user notice.
func (m *Metrics) Notice(kind string) {
	m.NoticesTotal.WithLabelValues(kind).Inc()
}

// History records the history length.
func (m *Metrics) History(entries int) {
	m.HistoryEntries.Set(float64(entries))
}
