package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scribe_active_sessions",
		Help: "Number of room sessions currently in the registry",
	})

	recordingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_recordings_total",
		Help: "Total number of recordings by outcome",
	}, []string{"outcome"}) // outcome: ok, discarded, or the error kind

	recordingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scribe_recording_duration_seconds",
		Help:    "Duration of recorded audio in seconds",
		Buckets: []float64{10, 60, 300, 600, 1200, 1800, 3600, 7200},
	})

	pipelineLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scribe_pipeline_latency_seconds",
		Help:    "Time from stop request to persisted transcript",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
	})

	// Chunk metrics
	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_chunks_total",
		Help: "Total number of chunk transcriptions by terminal status",
	}, []string{"status"}) // status: ok, failed, abandoned

	// Backend metrics
	backendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_backend_requests_total",
		Help: "Total number of speech-to-text backend calls",
	}, []string{"variant", "engine", "status"}) // status: ok, rejected, transient, permanent

	backendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scribe_backend_latency_seconds",
		Help:    "Speech-to-text backend latency in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"variant", "engine"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_backend_retries_total",
		Help: "Total number of retried backend calls",
	}, []string{"variant"})

	// Worker pool metrics
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scribe_worker_queue_depth",
		Help: "Number of chunk jobs waiting for a worker",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_errors_total",
		Help: "Total number of errors",
	}, []string{"kind", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scribe_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_audio_bytes_total",
		Help: "Total audio bytes accepted into recording buffers",
	}, []string{"source"})
)

// RecordingMetrics tracks metrics for a single recording
type RecordingMetrics struct {
	roomID    string
	startTime time.Time
	stopTime  time.Time
	mu        sync.Mutex
}

// NewRecordingMetrics creates a new metrics tracker for a recording
func NewRecordingMetrics(roomID string) *RecordingMetrics {
	return &RecordingMetrics{
		roomID:    roomID,
		startTime: time.Now(),
	}
}

// RecordStopRequested marks the beginning of the stop pipeline
func (m *RecordingMetrics) RecordStopRequested(audio time.Duration) {
	m.mu.Lock()
	m.stopTime = time.Now()
	m.mu.Unlock()
	recordingDuration.Observe(audio.Seconds())
}

// RecordOutcome records how the recording ended
func (m *RecordingMetrics) RecordOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.stopTime.IsZero() {
		pipelineLatency.Observe(time.Since(m.stopTime).Seconds())
	}
	recordingsTotal.WithLabelValues(outcome).Inc()
}

// SessionOpened increments the active sessions gauge
func SessionOpened() {
	activeSessions.Inc()
}

// SessionClosed decrements the active sessions gauge
func SessionClosed() {
	activeSessions.Dec()
}

// RecordChunk records the terminal status of one chunk
func RecordChunk(status string) {
	chunksTotal.WithLabelValues(status).Inc()
}

// RecordBackendCall records one backend attempt
func RecordBackendCall(variant, engine, status string, latency time.Duration) {
	backendRequests.WithLabelValues(variant, engine, status).Inc()
	backendLatency.WithLabelValues(variant, engine).Observe(latency.Seconds())
}

// RecordRetry records a retried backend attempt
func RecordRetry(variant string) {
	retriesTotal.WithLabelValues(variant).Inc()
}

// SetQueueDepth updates the worker queue depth gauge
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// RecordError records an error
func RecordError(kind, component string) {
	errorsTotal.WithLabelValues(kind, component).Inc()
}

// RecordAudioBytes records audio bytes accepted from a source
func RecordAudioBytes(source string, bytes int) {
	audioBytesIngested.WithLabelValues(source).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
