package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stage labels.
const (
	StageTranscribe = "transcribe"
	StageAnswer     = "answer"
)

// Metrics holds the gateway's Prometheus instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	SessionsActive   prometheus.Gauge
	SessionsTotal    prometheus.Counter
	PipelineRuns     *prometheus.CounterVec
	Superseded       prometheus.Counter
	PipelineDuration prometheus.Histogram
	StageDuration    *prometheus.HistogramVec
	ClipBytes        prometheus.Histogram
}

// New registers the instruments with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicegw_sessions_active",
			Help: "Current number of connected sessions",
		}),
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "voicegw_sessions_total",
			Help: "Total number of sessions opened",
		}),
		PipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicegw_pipeline_runs_total",
			Help: "Pipeline runs by terminal outcome",
		}, []string{"outcome"}),
		Superseded: f.NewCounter(prometheus.CounterOpts{
			Name: "voicegw_pipeline_superseded_total",
			Help: "Running pipelines cancelled by newer audio or an interrupt",
		}),
		PipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicegw_pipeline_duration_seconds",
			Help:    "Wall time of a pipeline run",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicegw_stage_duration_seconds",
			Help:    "Collaborator call latency by stage",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"stage"}),
		ClipBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicegw_audio_clip_bytes",
			Help:    "Size of normalized inbound audio clips",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) RunFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(outcome).Inc()
	m.PipelineDuration.Observe(d.Seconds())
}

func (m *Metrics) RunSuperseded() {
	if m == nil {
		return
	}
	m.Superseded.Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ObserveClip(n int) {
	if m == nil {
		return
	}
	m.ClipBytes.Observe(float64(n))
}
