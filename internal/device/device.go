// Package device models output devices as the session sees them: identity,
// capabilities and the live attributes it re-queries from the OS registry.
package device

import (
	"slices"
	"strings"
)

// Transport describes how a device is attached.
type Transport string

const (
	TransportBuiltIn   Transport = "builtin"
	TransportUSB       Transport = "usb"
	TransportBluetooth Transport = "bluetooth"
	TransportHDMI      Transport = "hdmi"
	TransportVirtual   Transport = "virtual"
	TransportAggregate Transport = "aggregate"
	TransportUnknown   Transport = "unknown"
)

// AudioDevice is a snapshot of an output device. The session only keeps
// ids and names across calls and asks the Registry for fresh snapshots.
type AudioDevice struct {
	ID         uint32
	Name       string
	UID        string // stable across replug, unlike ID
	SourceName string // data source, e.g. "Headphones" on a jack-capable output
	Transport  Transport

	SupportsVolume  bool
	SupportsBalance bool
	JackCapable     bool

	Alive             bool
	JackConnected     bool
	NominalSampleRate float64
	ActualSampleRate  float64
	Latency           uint32  // playback latency in frames
	Volume            float64 // 0..1
	Muted             bool
	Balance           float64 // device native 0 (left) .. 1 (right)
}

// DisplayName prefers the data source name, which is what users recognise
// on jack-capable outputs.
func (d AudioDevice) DisplayName() string {
	if d.SourceName != "" {
		return d.SourceName
	}
	return d.Name
}

// SameAs matches by id or by name. Ids are reassigned on replug, names
// usually are not.
func (d AudioDevice) SameAs(other AudioDevice) bool {
	return d.ID == other.ID || (d.Name != "" && d.Name == other.Name)
}

// Registry is the OS device registry.
type Registry interface {
	EventSource

	// Devices lists every output device, the virtual driver included.
	Devices() []AudioDevice
	// Device returns a fresh snapshot of one device.
	Device(id uint32) (AudioDevice, bool)

	// DefaultOutput is the device applications play to.
	DefaultOutput() (AudioDevice, bool)
	SetDefaultOutput(id uint32) error
	// SetDefaultSystemOutput sets the device used for alerts and UI sounds.
	SetDefaultSystemOutput(id uint32) error
}

// FindByName returns the first device whose name contains pattern.
func FindByName(devices []AudioDevice, pattern string) (AudioDevice, bool) {
	if pattern == "" {
		return AudioDevice{}, false
	}
	i := slices.IndexFunc(devices, func(d AudioDevice) bool {
		return strings.Contains(d.Name, pattern)
	})
	if i < 0 {
		return AudioDevice{}, false
	}
	return devices[i], true
}

// BuiltInOutput returns the built-in output: the first device with the
// built-in transport, else the first whose name contains namePattern.
func BuiltInOutput(r Registry, namePattern string) (AudioDevice, bool) {
	devices := r.Devices()
	if i := slices.IndexFunc(devices, func(d AudioDevice) bool {
		return d.Transport == TransportBuiltIn
	}); i >= 0 {
		return devices[i], true
	}
	return FindByName(devices, namePattern)
}

// Diff reports which devices appear in next but not prev and vice versa,
// comparing by id.
func Diff(prev, next []AudioDevice) (added, removed []AudioDevice) {
	has := func(list []AudioDevice, id uint32) bool {
		return slices.ContainsFunc(list, func(d AudioDevice) bool { return d.ID == id })
	}
	for _, d := range next {
		if !has(prev, d.ID) {
			added = append(added, d)
		}
	}
	for _, d := range prev {
		if !has(next, d.ID) {
			removed = append(removed, d)
		}
	}
	return added, removed
}
