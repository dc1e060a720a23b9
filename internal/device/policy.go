package device

// Policy decides which devices the session may route to.
type Policy interface {
	IsDeviceAllowed(d AudioDevice) bool
	ShouldAutoSelect(d AudioDevice) bool
	AllowedDevices() []AudioDevice
}

// TransportPolicy allows every live physical output except the virtual
// driver, and auto-selects newly attached USB and Bluetooth devices.
type TransportPolicy struct {
	Registry Registry
	DriverID uint32
}

// IsDeviceAllowed implements Policy.
func (p TransportPolicy) IsDeviceAllowed(d AudioDevice) bool {
	if d.ID == p.DriverID {
		return false
	}
	switch d.Transport {
	case TransportVirtual, TransportAggregate:
		return false
	default:
		return true
	}
}

// ShouldAutoSelect implements Policy.
func (p TransportPolicy) ShouldAutoSelect(d AudioDevice) bool {
	if !p.IsDeviceAllowed(d) {
		return false
	}
	return d.Transport == TransportUSB || d.Transport == TransportBluetooth
}

// AllowedDevices implements Policy.
func (p TransportPolicy) AllowedDevices() []AudioDevice {
	var out []AudioDevice
	for _, d := range p.Registry.Devices() {
		if p.IsDeviceAllowed(d) {
			out = append(out, d)
		}
	}
	return out
}
