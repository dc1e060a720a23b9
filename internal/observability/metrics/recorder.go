// Package metrics provides custom Prometheus metrics for eqroute.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on it rather than on concrete collectors.
type Recorder interface {
	// RecordOperation records an operation with its status, e.g. ("switch", "coalesced").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its category.
	RecordError(operation, errorType string)
}

// SessionRecorder is what the audio session reports to.
type SessionRecorder interface {
	Recorder

	// RecordDeviceEvent counts a device event and what the session did with it.
	RecordDeviceEvent(eventType, outcome string)
	// SetEnabled tracks the enabled state.
	SetEnabled(enabled bool)
	// SetPassthrough tracks whether a pipeline is running and at what rate.
	SetPassthrough(running bool, sampleRate float64)
}

// NoOpRecorder is a SessionRecorder that records nothing.
type NoOpRecorder struct{}

var _ SessionRecorder = NoOpRecorder{}

func (NoOpRecorder) RecordOperation(string, string)   {}
func (NoOpRecorder) RecordDuration(string, float64)   {}
func (NoOpRecorder) RecordError(string, string)       {}
func (NoOpRecorder) RecordDeviceEvent(string, string) {}
func (NoOpRecorder) SetEnabled(bool)                  {}
func (NoOpRecorder) SetPassthrough(bool, float64)     {}
