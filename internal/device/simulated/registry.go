// Package simulated provides an in-memory device registry and virtual
// driver. It backs the null audio backend and the session tests.
package simulated

import (
	"fmt"
	"slices"
	"sync"

	"github.com/tphakala/eqroute/internal/device"
)

// Registry is an in-memory device.Registry. Mutators emit the same events
// an OS registry would, after releasing the registry lock.
type Registry struct {
	device.Hub

	mu            sync.Mutex
	devices       []device.AudioDevice
	nextID        uint32
	defaultOutput uint32
	systemOutput  uint32
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{nextID: 1}
}

var _ device.Registry = (*Registry)(nil)

// Devices implements device.Registry.
func (r *Registry) Devices() []device.AudioDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.devices)
}

// Device implements device.Registry.
func (r *Registry) Device(id uint32) (device.AudioDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.devices[i], true
	}
	return device.AudioDevice{}, false
}

// DefaultOutput implements device.Registry.
func (r *Registry) DefaultOutput() (device.AudioDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(r.defaultOutput); i >= 0 {
		return r.devices[i], true
	}
	return device.AudioDevice{}, false
}

// SetDefaultOutput implements device.Registry. A change emits OutputChanged.
func (r *Registry) SetDefaultOutput(id uint32) error {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("device %d not found", id)
	}
	changed := r.defaultOutput != id
	r.defaultOutput = id
	d := r.devices[i]
	r.mu.Unlock()

	if changed {
		r.Emit(device.Event{Type: device.OutputChanged, Device: d})
	}
	return nil
}

// SetDefaultSystemOutput implements device.Registry.
func (r *Registry) SetDefaultSystemOutput(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(id) < 0 {
		return fmt.Errorf("device %d not found", id)
	}
	r.systemOutput = id
	return nil
}

// SystemOutput returns the current system output id.
func (r *Registry) SystemOutput() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.systemOutput
}

// AddDevice registers d, assigning an id when d.ID is zero, and emits
// ListChanged. The first device added becomes the default output.
func (r *Registry) AddDevice(d device.AudioDevice) device.AudioDevice {
	r.mu.Lock()
	if d.ID == 0 {
		d.ID = r.nextID
	}
	r.nextID = max(r.nextID, d.ID) + 1
	r.devices = append(r.devices, d)
	if r.defaultOutput == 0 {
		r.defaultOutput = d.ID
		r.systemOutput = d.ID
	}
	r.mu.Unlock()

	r.Emit(device.Event{Type: device.ListChanged, Added: []device.AudioDevice{d}})
	return d
}

// RemoveDevice unregisters a device and emits ListChanged.
func (r *Registry) RemoveDevice(id uint32) {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return
	}
	d := r.devices[i]
	d.Alive = false
	r.devices = slices.Delete(r.devices, i, i+1)
	r.mu.Unlock()

	r.Emit(device.Event{Type: device.ListChanged, Removed: []device.AudioDevice{d}})
}

// SetAlive changes liveness and emits IsAliveChanged.
func (r *Registry) SetAlive(id uint32, alive bool) {
	if d, ok := r.update(id, func(d *device.AudioDevice) { d.Alive = alive }); ok {
		r.Emit(device.Event{Type: device.IsAliveChanged, Device: d, Alive: alive})
	}
}

// SetJackConnected changes jack state and emits JackConnectedChanged.
func (r *Registry) SetJackConnected(id uint32, connected bool) {
	if d, ok := r.update(id, func(d *device.AudioDevice) { d.JackConnected = connected }); ok {
		r.Emit(device.Event{Type: device.JackConnectedChanged, Device: d, Connected: connected})
	}
}

// SetDeviceVolume changes a device volume and emits VolumeChanged.
func (r *Registry) SetDeviceVolume(id uint32, v float64) {
	if d, ok := r.update(id, func(d *device.AudioDevice) { d.Volume = v }); ok {
		r.Emit(device.Event{Type: device.VolumeChanged, Device: d})
	}
}

// SetDeviceMuted changes a device mute state and emits MuteChanged.
func (r *Registry) SetDeviceMuted(id uint32, muted bool) {
	if d, ok := r.update(id, func(d *device.AudioDevice) { d.Muted = muted }); ok {
		r.Emit(device.Event{Type: device.MuteChanged, Device: d})
	}
}

// SetSampleRate changes nominal and actual rate and emits SampleRateChanged.
func (r *Registry) SetSampleRate(id uint32, rate float64) {
	if d, ok := r.update(id, func(d *device.AudioDevice) {
		d.NominalSampleRate = rate
		d.ActualSampleRate = rate
	}); ok {
		r.Emit(device.Event{Type: device.SampleRateChanged, Device: d})
	}
}

// Update mutates a device without emitting events.
func (r *Registry) Update(id uint32, fn func(*device.AudioDevice)) bool {
	_, ok := r.update(id, fn)
	return ok
}

func (r *Registry) update(id uint32, fn func(*device.AudioDevice)) (device.AudioDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return device.AudioDevice{}, false
	}
	fn(&r.devices[i])
	return r.devices[i], true
}

func (r *Registry) indexLocked(id uint32) int {
	return slices.IndexFunc(r.devices, func(d device.AudioDevice) bool { return d.ID == id })
}
