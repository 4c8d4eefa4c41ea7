// Package metrics exposes Prometheus metrics for the gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	jobsCreated       *prometheus.CounterVec
	jobsFinished      *prometheus.CounterVec
	activeJobs        prometheus.Gauge
	extractDuration   prometheus.Histogram
	synthesisDuration *prometheus.HistogramVec
	chunksSynthesized prometheus.Counter
	audioBytes        prometheus.Counter
	streamClients     prometheus.Gauge
}

// NewMetrics registers the collectors under namespace on a private registry
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_created_total",
			Help:      "Jobs accepted, by source",
		}, []string{"source"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status",
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Jobs currently extracting or synthesizing",
		}),
		extractDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extract_duration_seconds",
			Help:      "Time spent extracting text from documents",
			Buckets:   prometheus.DefBuckets,
		}),
		synthesisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Time spent synthesizing a whole job",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"status"}),
		chunksSynthesized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_synthesized_total",
			Help:      "Text chunks converted to audio",
		}),
		audioBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Bytes of audio produced",
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_stream_clients",
			Help:      "Open status stream connections",
		}),
	}

	reg.MustRegister(
		m.jobsCreated,
		m.jobsFinished,
		m.activeJobs,
		m.extractDuration,
		m.synthesisDuration,
		m.chunksSynthesized,
		m.audioBytes,
		m.streamClients,
	)
	return m
}

func (m *Metrics) RecordJobCreated(source string) {
	if m == nil {
		return
	}
	m.jobsCreated.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordJobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementActiveJobs() {
	if m == nil {
		return
	}
	m.activeJobs.Inc()
}

func (m *Metrics) DecrementActiveJobs() {
	if m == nil {
		return
	}
	m.activeJobs.Dec()
}

func (m *Metrics) RecordExtractDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.extractDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordSynthesisDuration(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.synthesisDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordChunk counts one synthesized chunk and its audio size
func (m *Metrics) RecordChunk(audioBytes int) {
	if m == nil {
		return
	}
	m.chunksSynthesized.Inc()
	m.audioBytes.Add(float64(audioBytes))
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.streamClients.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.streamClients.Dec()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
