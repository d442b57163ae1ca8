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
		Name: "meeting_gateway_active_sessions",
		Help: "Number of active meeting sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meeting_gateway_sessions_total",
		Help: "Total number of meeting sessions recorded",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meeting_gateway_session_duration_seconds",
		Help:    "Duration of meeting sessions in seconds",
		Buckets: []float64{30, 60, 300, 600, 1800, 3600, 7200},
	})

	// Capture metrics
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_gateway_capture_frames_total",
		Help: "Total audio frames captured",
	}, []string{"source"})

	audioBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_gateway_audio_bytes_total",
		Help: "Total audio bytes captured",
	}, []string{"source"})

	silenceRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meeting_gateway_silence_ratio",
		Help: "Fraction of recent frames under the near-silence threshold",
	}, []string{"source"})

	// Transcript metrics
	transcriptLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_gateway_transcript_lines_total",
		Help: "Total finalized transcript lines",
	}, []string{"source"})

	// Coaching metrics
	coachingTips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_gateway_coaching_tips_total",
		Help: "Total coaching generations by outcome",
	}, []string{"status"}) // status: finalized, canceled, error, suppressed

	coachingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meeting_gateway_coaching_latency_seconds",
		Help:    "Time from trigger to finalized coaching tip",
		Buckets: []float64{0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meeting_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// RecordFrame records one captured audio frame for a source.
func RecordFrame(source string, bytes int64) {
	framesTotal.WithLabelValues(source).Inc()
	audioBytesTotal.WithLabelValues(source).Add(float64(bytes))
}

// SetSilenceRatio updates the rolling near-silence fraction for a source.
func SetSilenceRatio(source string, ratio float64) {
	silenceRatio.WithLabelValues(source).Set(ratio)
}

// RecordTranscriptLine records one finalized transcript line.
func RecordTranscriptLine(source string) {
	transcriptLines.WithLabelValues(source).Inc()
}

// RecordCoachingOutcome records the terminal state of one coaching generation.
func RecordCoachingOutcome(status string) {
	coachingTips.WithLabelValues(status).Inc()
}

// RecordError records an error by type and component.
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// SessionMetrics tracks metrics for a single meeting session
type SessionMetrics struct {
	sessionID    string
	startTime    time.Time
	coachStarted time.Time
	mu           sync.Mutex
}

// NewSessionMetrics creates a metrics tracker for one session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordCoachingStart marks the moment a coaching trigger fired
func (m *SessionMetrics) RecordCoachingStart() {
	m.mu.Lock()
	m.coachStarted = time.Now()
	m.mu.Unlock()
}

// RecordCoachingEnd records the outcome of a coaching generation
func (m *SessionMetrics) RecordCoachingEnd(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.coachStarted.IsZero() && status == "finalized" {
		coachingLatency.Observe(time.Since(m.coachStarted).Seconds())
	}
	RecordCoachingOutcome(status)
}
