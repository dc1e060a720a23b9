package simulated

import (
	"fmt"
	"slices"
	"sync"

	"github.com/tphakala/eqroute/internal/device"
	"github.com/tphakala/eqroute/internal/driver"
)

// Driver is an in-memory virtual driver registered as a device of its
// registry. Setting volume or mute emits the same echo events a kernel
// driver would.
type Driver struct {
	reg         *Registry
	id          uint32
	defaultName string
	supported   []float64

	mu      sync.Mutex
	balance float64
	shown   bool
}

// NewDriver adds the virtual driver to reg.
func NewDriver(reg *Registry, name string, supported []float64) *Driver {
	rate := 48000.0
	if len(supported) > 0 {
		rate = supported[0]
	}
	d := reg.AddDevice(device.AudioDevice{
		Name:              name,
		UID:               name + "-driver",
		Transport:         device.TransportVirtual,
		SupportsVolume:    true,
		SupportsBalance:   true,
		Alive:             true,
		NominalSampleRate: rate,
		ActualSampleRate:  rate,
		Volume:            1,
		Balance:           0.5,
	})
	return &Driver{
		reg:         reg,
		id:          d.ID,
		defaultName: name,
		supported:   slices.Clone(supported),
	}
}

var _ driver.Handle = (*Driver)(nil)

func (d *Driver) snapshot() device.AudioDevice {
	dev, _ := d.reg.Device(d.id)
	return dev
}

func (d *Driver) Device() device.AudioDevice { return d.snapshot() }
func (d *Driver) ID() uint32                 { return d.id }
func (d *Driver) Volume() float64            { return d.snapshot().Volume }
func (d *Driver) Muted() bool                { return d.snapshot().Muted }
func (d *Driver) Name() string               { return d.snapshot().Name }
func (d *Driver) NominalSampleRate() float64 { return d.snapshot().NominalSampleRate }

func (d *Driver) SupportedSampleRates() []float64 { return slices.Clone(d.supported) }

func (d *Driver) Latency(driver.Direction) uint32 { return d.snapshot().Latency }

// SetVolume stores v and emits VolumeChanged for the driver.
func (d *Driver) SetVolume(v float64) error {
	d.reg.SetDeviceVolume(d.id, v)
	return nil
}

// SetMuted stores muted and emits MuteChanged for the driver.
func (d *Driver) SetMuted(muted bool) error {
	d.reg.SetDeviceMuted(d.id, muted)
	return nil
}

func (d *Driver) Balance() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.balance
}

func (d *Driver) SetBalance(b float64) error {
	d.mu.Lock()
	d.balance = b
	d.mu.Unlock()
	d.reg.Update(d.id, func(dev *device.AudioDevice) { dev.Balance = driver.BalanceToDevice(b) })
	return nil
}

func (d *Driver) SetLatency(frames uint32) error {
	d.reg.Update(d.id, func(dev *device.AudioDevice) { dev.Latency = frames })
	return nil
}

// SetNominalSampleRate accepts only supported rates.
func (d *Driver) SetNominalSampleRate(rate float64) error {
	if len(d.supported) > 0 && !slices.Contains(d.supported, rate) {
		return fmt.Errorf("sample rate %v not supported by driver", rate)
	}
	d.reg.SetSampleRate(d.id, rate)
	return nil
}

func (d *Driver) SetName(name string) error {
	if name == "" {
		name = d.defaultName
	}
	d.reg.Update(d.id, func(dev *device.AudioDevice) { dev.Name = name })
	return nil
}

func (d *Driver) Shown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shown
}

func (d *Driver) SetShown(shown bool) error {
	d.mu.Lock()
	d.shown = shown
	d.mu.Unlock()
	return nil
}

// UserSetVolume simulates the user moving the driver's volume slider.
func (d *Driver) UserSetVolume(v float64) { d.reg.SetDeviceVolume(d.id, v) }

// UserSetMuted simulates the user toggling the driver's mute.
func (d *Driver) UserSetMuted(muted bool) { d.reg.SetDeviceMuted(d.id, muted) }
