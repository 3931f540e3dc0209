// Package metrics exposes Prometheus collectors for the region scraper.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the scraper components report to
type Recorder interface {
	RequestDone(endpoint string, status int, elapsed time.Duration)
	RequestRetried(endpoint string)
	ProbeResult(result string)
	DownloadOutcome(status string, features int)
	TaskStarted()
	TaskFinished()
	QueueDepth(n int)
	Phase(name string)
}

// Metrics holds the Prometheus collectors
type Metrics struct {
	gatherer prometheus.Gatherer

	requestsTotal          *prometheus.CounterVec
	requestDurationSeconds *prometheus.HistogramVec
	retriesTotal           *prometheus.CounterVec
	probesTotal            *prometheus.CounterVec
	downloadsTotal         *prometheus.CounterVec
	featuresTotal          prometheus.Counter
	activeDownloads        prometheus.Gauge
	queuedDownloads        prometheus.Gauge
	phase                  *prometheus.GaugeVec
}

// phases are the orchestrator states exported by the phase gauge
var phases = []string{"init", "validating", "downloading", "reporting", "done"}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landscraper_requests_total",
				Help: "Upstream requests, labeled by endpoint and status code (0 for transport failures).",
			},
			[]string{"endpoint", "code"},
		),
		requestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "landscraper_request_duration_seconds",
				Help:    "Histogram of upstream request latencies, labeled by endpoint.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landscraper_retries_total",
				Help: "Transport retries, labeled by endpoint.",
			},
			[]string{"endpoint"},
		),
		probesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landscraper_probes_total",
				Help: "Validation probes, labeled by result.",
			},
			[]string{"result"},
		),
		downloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landscraper_downloads_total",
				Help: "Region downloads, labeled by status.",
			},
			[]string{"status"},
		),
		featuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "landscraper_features_total",
				Help: "Features written to artifacts.",
			},
		),
		activeDownloads: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "landscraper_active_downloads",
				Help: "Number of download tasks currently running.",
			},
		),
		queuedDownloads: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "landscraper_queued_downloads",
				Help: "Regions waiting in the download queue.",
			},
		),
		phase: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "landscraper_phase",
				Help: "1 for the orchestrator's current phase, 0 otherwise.",
			},
			[]string{"phase"},
		),
	}
}

// Handler returns an http.Handler exposing the registered collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RequestDone(endpoint string, status int, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.requestDurationSeconds.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *Metrics) RequestRetried(endpoint string) {
	m.retriesTotal.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) ProbeResult(result string) {
	m.probesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) DownloadOutcome(status string, features int) {
	m.downloadsTotal.WithLabelValues(status).Inc()
	if features > 0 {
		m.featuresTotal.Add(float64(features))
	}
}

func (m *Metrics) TaskStarted()     { m.activeDownloads.Inc() }
func (m *Metrics) TaskFinished()    { m.activeDownloads.Dec() }
func (m *Metrics) QueueDepth(n int) { m.queuedDownloads.Set(float64(n)) }

// Phase marks name as the current orchestrator phase
func (m *Metrics) Phase(name string) {
	for _, p := range phases {
		v := 0.0
		if p == name {
			v = 1
		}
		m.phase.WithLabelValues(p).Set(v)
	}
}

// Nop discards everything
type Nop struct{}

func (Nop) RequestDone(string, int, time.Duration) {}
func (Nop) RequestRetried(string)                  {}
func (Nop) ProbeResult(string)                     {}
func (Nop) DownloadOutcome(string, int)            {}
func (Nop) TaskStarted()                           {}
func (Nop) TaskFinished()                          {}
func (Nop) QueueDepth(int)                         {}
func (Nop) Phase(string)                           {}
