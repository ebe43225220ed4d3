// Package metrics exposes Prometheus collectors for the occupancy pipeline.
// Collectors live on a private registry so tests and embedded uses never
// collide with the process-wide default registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

const namespace = "atlasgrid"

// Metrics holds every collector. All recording methods are safe on a nil
// receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived    prometheus.Counter
	framesSampled     prometheus.Counter
	framesDropped     prometheus.Counter
	failures          *prometheus.CounterVec
	inferenceDuration prometheus.Histogram

	transitions     *prometheus.CounterVec
	flickers        prometheus.Counter
	persistRetries  prometheus.Counter
	persistFailures prometheus.Counter
	commitDuration  prometheus.Histogram
	spacesByStatus  *prometheus.GaugeVec
	staleSpaces     prometheus.Gauge
	publishFailures *prometheus.CounterVec
	syncRuns        *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "frames_received_total",
			Help: "Frames read from the video source.",
		}),
		framesSampled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "frames_sampled_total",
			Help: "Frames kept by the sampler and queued for detection.",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "frames_dropped_total",
			Help: "Sampled frames evicted from the full processing queue.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "failures_total",
			Help: "Pipeline failures by kind (acquisition, detection, persistence, configuration).",
		}, []string{"kind"}),
		inferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "detect", Name: "inference_duration_seconds",
			Help:    "Detector round-trip latency.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reconcile", Name: "transitions_total",
			Help: "Committed space status transitions.",
		}, []string{"from", "to"}),
		flickers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reconcile", Name: "flickers_total",
			Help: "Pending status changes abandoned before reaching the debounce threshold.",
		}),
		persistRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "retries_total",
			Help: "Ledger transaction attempts that were retried.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "commit_failures_total",
			Help: "Transitions that could not be persisted after all retries.",
		}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "commit_duration_seconds",
			Help:    "Time to persist one transition including retries.",
			Buckets: prometheus.DefBuckets,
		}),
		spacesByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "spaces",
			Help: "Spaces per committed status.",
		}, []string{"status"}),
		staleSpaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "stale_spaces",
			Help: "Spaces with no processed sample within the staleness window.",
		}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "publish_failures_total",
			Help: "Lifecycle events a sink failed to accept.",
		}, []string{"topic"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "runs_total",
			Help: "Ledger export writes by destination and result.",
		}, []string{"destination", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.framesReceived,
		m.framesSampled,
		m.framesDropped,
		m.failures,
		m.inferenceDuration,
		m.transitions,
		m.flickers,
		m.persistRetries,
		m.persistFailures,
		m.commitDuration,
		m.spacesByStatus,
		m.staleSpaces,
		m.publishFailures,
		m.syncRuns,
		m.httpRequests,
		m.httpDuration,
	)
	for _, s := range model.Statuses {
		m.spacesByStatus.WithLabelValues(string(s)).Set(0)
	}
	return m
}

// Registry returns the private registry, for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

func (m *Metrics) FrameSampled() {
	if m == nil {
		return
	}
	m.framesSampled.Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

// Failure counts one failure of the given kind.
func (m *Metrics) Failure(kind model.FailureKind) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) Inference(d time.Duration) {
	if m == nil {
		return
	}
	m.inferenceDuration.Observe(d.Seconds())
}

// Transition counts a committed status change.
func (m *Metrics) Transition(from, to model.Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) Flicker() {
	if m == nil {
		return
	}
	m.flickers.Inc()
}

func (m *Metrics) PersistRetry() {
	if m == nil {
		return
	}
	m.persistRetries.Inc()
}

// Commit records the outcome and latency of persisting one transition.
func (m *Metrics) Commit(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.commitDuration.Observe(d.Seconds())
	if !ok {
		m.persistFailures.Inc()
		m.failures.WithLabelValues(model.PersistenceFailure.String()).Inc()
	}
}

// SetSpaces replaces the per-status gauge values.
func (m *Metrics) SetSpaces(st model.Stats) {
	if m == nil {
		return
	}
	m.spacesByStatus.WithLabelValues(string(model.StatusAvailable)).Set(float64(st.Available))
	m.spacesByStatus.WithLabelValues(string(model.StatusOccupied)).Set(float64(st.Occupied))
	m.spacesByStatus.WithLabelValues(string(model.StatusObstacle)).Set(float64(st.Obstacles))
}

func (m *Metrics) SetStale(n int) {
	if m == nil {
		return
	}
	m.staleSpaces.Set(float64(n))
}

func (m *Metrics) PublishFailed(topic string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(topic).Inc()
}

// SyncRun records one export write to a destination.
func (m *Metrics) SyncRun(destination string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.syncRuns.WithLabelValues(destination, result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the wrapped writer so SSE streams keep working.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// WrapHandler records request count and latency for route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		m.httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
