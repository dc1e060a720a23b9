// Package driver describes the control surface of the virtual output
// device that intercepts system audio, plus the pure helpers the session
// uses to make it shadow a physical device.
package driver

import (
	"math"

	"github.com/tphakala/eqroute/internal/device"
)

// Direction selects input or output latency.
type Direction int

const (
	Playback Direction = iota
	Recording
)

// Handle is the virtual driver. It lives for the whole process; the session
// only mutates it.
type Handle interface {
	// Device returns a snapshot of the driver as a registry device.
	Device() device.AudioDevice
	ID() uint32

	Volume() float64
	SetVolume(v float64) error
	Muted() bool
	SetMuted(muted bool) error
	// Balance is in application range -1..1.
	Balance() float64
	SetBalance(b float64) error

	Latency(dir Direction) uint32
	SetLatency(frames uint32) error

	NominalSampleRate() float64
	SetNominalSampleRate(rate float64) error
	SupportedSampleRates() []float64

	Name() string
	// SetName renames the driver. An empty name restores the default.
	SetName(name string) error
	Shown() bool
	SetShown(shown bool) error
}

// MatchSampleRate returns the supported rate closest to rate. Ties go to
// the rate listed first. It returns rate unchanged when supported is empty.
func MatchSampleRate(supported []float64, rate float64) float64 {
	if len(supported) == 0 {
		return rate
	}
	best := supported[0]
	bestDiff := math.Abs(best - rate)
	for _, r := range supported[1:] {
		if d := math.Abs(r - rate); d < bestDiff {
			best, bestDiff = r, d
		}
	}
	return best
}

// ShadowName is the driver name shown while it shadows d.
func ShadowName(d device.AudioDevice, suffix string) string {
	return d.DisplayName() + suffix
}

// BalanceFromDevice maps a device's native 0..1 balance to -1..1.
func BalanceFromDevice(native float64) float64 {
	return math.Max(-1, math.Min(1, native*2-1))
}

// BalanceToDevice maps -1..1 back to the native 0..1 range.
func BalanceToDevice(balance float64) float64 {
	return math.Max(0, math.Min(1, (balance+1)/2))
}
