package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics contains the Prometheus metrics of the audio session
// orchestrator. It implements SessionRecorder.
type SessionMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	deviceEventsTotal *prometheus.CounterVec
	enabled           prometheus.Gauge
	passthrough       prometheus.Gauge
	sampleRate        prometheus.Gauge
}

var _ SessionRecorder = (*SessionMetrics)(nil)

// NewSessionMetrics creates and registers the session metrics.
func NewSessionMetrics(registry prometheus.Registerer) (*SessionMetrics, error) {
	m := &SessionMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register session metrics: %w", err)
	}
	return m, nil
}

func (m *SessionMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eqroute_session_operations_total",
		Help: "Total number of session operations by status",
	}, []string{"operation", "status"})

	m.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eqroute_session_operation_duration_seconds",
		Help:    "Duration of session operations, settle delays included",
		Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
	}, []string{"operation"})

	m.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eqroute_session_errors_total",
		Help: "Total number of session errors by category",
	}, []string{"operation", "error_type"})

	m.deviceEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eqroute_device_events_total",
		Help: "Total number of device events by type and outcome",
	}, []string{"event", "outcome"})

	m.enabled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eqroute_session_enabled",
		Help: "Whether the session is enabled (1) or disabled (0)",
	})

	m.passthrough = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eqroute_passthrough_running",
		Help: "Whether a capture pipeline is running (1) or not (0)",
	})

	m.sampleRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eqroute_passthrough_sample_rate_hertz",
		Help: "Sample rate of the running pipeline",
	})
}

// RecordOperation implements Recorder.
func (m *SessionMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *SessionMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (m *SessionMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordDeviceEvent implements SessionRecorder.
func (m *SessionMetrics) RecordDeviceEvent(eventType, outcome string) {
	m.deviceEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// SetEnabled implements SessionRecorder.
func (m *SessionMetrics) SetEnabled(enabled bool) {
	m.enabled.Set(boolToFloat(enabled))
}

// SetPassthrough implements SessionRecorder.
func (m *SessionMetrics) SetPassthrough(running bool, sampleRate float64) {
	m.passthrough.Set(boolToFloat(running))
	if !running {
		sampleRate = 0
	}
	m.sampleRate.Set(sampleRate)
}

// Describe implements the prometheus.Collector interface.
func (m *SessionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.operationDuration.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.deviceEventsTotal.Describe(ch)
	ch <- m.enabled.Desc()
	ch <- m.passthrough.Desc()
	ch <- m.sampleRate.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *SessionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.operationDuration.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.deviceEventsTotal.Collect(ch)
	ch <- m.enabled
	ch <- m.passthrough
	ch <- m.sampleRate
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
