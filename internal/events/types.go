// Package events provides the asynchronous notification bus the audio
// session uses to tell collaborators (MQTT bridge, metrics, CLI) what it did.
package events

import (
	"time"
)

// Kind identifies a notification.
type Kind string

const (
	KindEngineCreated   Kind = "engine-created"
	KindOutputCreated   Kind = "output-created"
	KindPipelineRunning Kind = "pipeline-running"
	KindEnabledChanged  Kind = "enabled-changed"
	KindError           Kind = "error"
	KindProfilesChanged Kind = "profiles-changed"
	KindGainChanged     Kind = "gain-changed"
	KindOutputSelected  Kind = "output-selected"
)

// Notification is a single session event. Only the fields relevant to Kind
// are set.
type Notification struct {
	Kind       Kind
	Timestamp  time.Time
	Enabled    bool    // enabled-changed
	Gain       float64 // gain-changed
	DeviceID   uint32  // output-selected, pipeline-running
	DeviceName string  // output-selected, pipeline-running
	SampleRate float64 // pipeline-running
	Message    string  // error
	Component  string  // error
	Category   string  // error
}

func newNotification(kind Kind) Notification {
	return Notification{Kind: kind, Timestamp: time.Now()}
}

// EngineCreated reports a new capture pipeline.
func EngineCreated() Notification { return newNotification(KindEngineCreated) }

// OutputCreated reports a new output writer.
func OutputCreated() Notification { return newNotification(KindOutputCreated) }

// PipelineRunning reports that passthrough to the device is live.
func PipelineRunning(deviceID uint32, deviceName string, sampleRate float64) Notification {
	n := newNotification(KindPipelineRunning)
	n.DeviceID = deviceID
	n.DeviceName = deviceName
	n.SampleRate = sampleRate
	return n
}

// EnabledChanged reports the session being switched on or off.
func EnabledChanged(enabled bool) Notification {
	n := newNotification(KindEnabledChanged)
	n.Enabled = enabled
	return n
}

// ErrorMessage reports a failure to collaborators.
func ErrorMessage(message string) Notification {
	n := newNotification(KindError)
	n.Message = message
	return n
}

// ProfilesChanged reports a saved or removed device profile.
func ProfilesChanged() Notification { return newNotification(KindProfilesChanged) }

// GainChanged reports a gain pushed from the device to the driver.
func GainChanged(gain float64) Notification {
	n := newNotification(KindGainChanged)
	n.Gain = gain
	return n
}

// OutputSelected reports the device the user picked while the session was
// busy rebuilding.
func OutputSelected(deviceID uint32, deviceName string) Notification {
	n := newNotification(KindOutputSelected)
	n.DeviceID = deviceID
	n.DeviceName = deviceName
	return n
}

// ErrorEvent is the view of an enhanced error the bus needs. It keeps the
// errors package free of an import on this one.
type ErrorEvent interface {
	GetComponent() string
	GetCategory() string
	GetMessage() string
	GetTimestamp() time.Time
}

// Consumer processes notifications from the bus.
type Consumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent handles one notification
	ProcessEvent(n Notification) error
}

// ConsumerFunc adapts a function into a named Consumer.
type ConsumerFunc struct {
	ConsumerName string
	Fn           func(Notification) error
}

// Name implements Consumer
func (c ConsumerFunc) Name() string { return c.ConsumerName }

// ProcessEvent implements Consumer
func (c ConsumerFunc) ProcessEvent(n Notification) error { return c.Fn(n) }

// Stats contains runtime statistics for monitoring
type Stats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}
