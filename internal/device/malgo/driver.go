package malgo

import (
	"slices"
	"sync"

	"github.com/tphakala/eqroute/internal/device"
	"github.com/tphakala/eqroute/internal/driver"
	"github.com/tphakala/eqroute/internal/errors"
)

// Driver controls the loopback playback device that applications render
// into. Its controls are software controls kept by eqroute; changes are
// echoed through the registry like a kernel driver would.
type Driver struct {
	reg       *Registry
	supported []float64

	mu      sync.Mutex
	id      uint32
	name    string
	balance float64
	latency uint32
	shown   bool
}

// NewDriver binds the registry device whose name matches cfg.DriverName.
func NewDriver(reg *Registry, supported []float64) (*Driver, error) {
	d, ok := device.FindByName(reg.Devices(), reg.cfg.DriverName)
	if !ok {
		return nil, errors.Newf("virtual driver %q not found among playback devices", reg.cfg.DriverName).
			Component("device").
			Category(errors.CategoryDriver).
			Context("driver_name", reg.cfg.DriverName).
			Build()
	}
	return &Driver{
		reg:       reg,
		id:        d.ID,
		name:      d.Name,
		supported: slices.Clone(supported),
	}, nil
}

var _ driver.Handle = (*Driver)(nil)

func (d *Driver) snapshot() device.AudioDevice {
	dev, _ := d.reg.Device(d.ID())
	d.mu.Lock()
	defer d.mu.Unlock()
	dev.Name = d.name
	dev.Latency = d.latency
	return dev
}

// Device returns the driver device with the name and latency eqroute reports.
func (d *Driver) Device() device.AudioDevice { return d.snapshot() }

// ID returns the registry id of the loopback device.
func (d *Driver) ID() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// Volume returns the software master volume.
func (d *Driver) Volume() float64 { return d.snapshot().Volume }

// Muted reports the software mute.
func (d *Driver) Muted() bool { return d.snapshot().Muted }

// NominalSampleRate returns the rate the loopback device runs at.
func (d *Driver) NominalSampleRate() float64 { return d.snapshot().NominalSampleRate }

// SupportedSampleRates returns a copy of the configured rates.
func (d *Driver) SupportedSampleRates() []float64 { return slices.Clone(d.supported) }

// SetVolume stores v and emits VolumeChanged for the driver.
func (d *Driver) SetVolume(v float64) error {
	if dev, ok := d.reg.update(d.ID(), func(dev *device.AudioDevice) { dev.Volume = v }); ok {
		d.reg.Emit(device.Event{Type: device.VolumeChanged, Device: dev})
	}
	return nil
}

// SetMuted stores muted and emits MuteChanged for the driver.
func (d *Driver) SetMuted(muted bool) error {
	if dev, ok := d.reg.update(d.ID(), func(dev *device.AudioDevice) { dev.Muted = muted }); ok {
		d.reg.Emit(device.Event{Type: device.MuteChanged, Device: dev})
	}
	return nil
}

// Balance returns the stored balance in [-1, 1].
func (d *Driver) Balance() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.balance
}

// SetBalance stores b. The output stage applies it.
func (d *Driver) SetBalance(b float64) error {
	d.mu.Lock()
	d.balance = b
	d.mu.Unlock()
	return nil
}

// Latency returns the latency set by SetLatency for either direction.
func (d *Driver) Latency(driver.Direction) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latency
}

// SetLatency records the playback latency of the shadowed device.
func (d *Driver) SetLatency(frames uint32) error {
	d.mu.Lock()
	d.latency = frames
	d.mu.Unlock()
	return nil
}

// SetNominalSampleRate switches the loopback rate and emits
// SampleRateChanged. Rates outside the supported set are rejected.
func (d *Driver) SetNominalSampleRate(rate float64) error {
	if len(d.supported) > 0 && !slices.Contains(d.supported, rate) {
		return errors.Newf("sample rate %v not supported by virtual driver", rate).
			Component("device").
			Category(errors.CategoryValidation).
			Build()
	}
	if dev, ok := d.reg.update(d.ID(), func(dev *device.AudioDevice) {
		dev.NominalSampleRate = rate
		dev.ActualSampleRate = rate
	}); ok {
		d.reg.Emit(device.Event{Type: device.SampleRateChanged, Device: dev})
	}
	return nil
}

// Name returns the name eqroute reports for the driver.
func (d *Driver) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

// SetName changes the name eqroute reports. The OS name is unchanged.
func (d *Driver) SetName(name string) error {
	if name == "" {
		name = d.reg.cfg.DriverName
	}
	d.mu.Lock()
	d.name = name
	d.mu.Unlock()
	return nil
}

// Shown reports whether the driver is offered as an output.
func (d *Driver) Shown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shown
}

// SetShown marks the driver visible or hidden.
func (d *Driver) SetShown(shown bool) error {
	d.mu.Lock()
	d.shown = shown
	d.mu.Unlock()
	return nil
}
