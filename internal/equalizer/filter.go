// Package equalizer configures the effects chain from Robert Bristow-Johnson's
// audio EQ cookbook biquads.
//
// Three modes are supported:
//
//   - Basic: bass low-shelf, mid peaking and treble high-shelf
//   - Advanced: 10-band graphic equalizer with global gain
//   - Parametric: 10 free filters (PK, LSC, HSC) with preamp
//
// A FilterChain is built on the control plane and handed to a Processor,
// which the real-time thread reads without locking.
package equalizer

import (
	"math"

	"github.com/tphakala/eqroute/internal/errors"
)

// FilterKind names a biquad response.
type FilterKind int

const (
	Undefined FilterKind = iota
	LowShelf
	HighShelf
	Peaking
)

// Filter is a normalized biquad with independent state per channel.
type Filter struct {
	kind FilterKind

	b0, b1, b2, a1, a2 float64

	x1, x2, y1, y2 []float64
}

func newFilter(kind FilterKind, a0, a1, a2, b0, b1, b2 float64, channels int) *Filter {
	return &Filter{
		kind: kind,
		b0:   b0 / a0,
		b1:   b1 / a0,
		b2:   b2 / a0,
		a1:   a1 / a0,
		a2:   a2 / a0,
		x1:   make([]float64, channels),
		x2:   make([]float64, channels),
		y1:   make([]float64, channels),
		y2:   make([]float64, channels),
	}
}

// Kind reports the filter response.
func (f *Filter) Kind() FilterKind { return f.kind }

// Process filters one channel in place. Channels beyond the filter's
// channel count pass through.
func (f *Filter) Process(ch int, samples []float32) {
	if ch >= len(f.x1) {
		return
	}
	x1, x2, y1, y2 := f.x1[ch], f.x2[ch], f.y1[ch], f.y2[ch]
	for i, s := range samples {
		x := float64(s)
		y := f.b0*x + f.b1*x1 + f.b2*x2 - f.a1*y1 - f.a2*y2
		x2, x1 = x1, x
		y2, y1 = y1, y
		samples[i] = float32(y)
	}
	f.x1[ch], f.x2[ch], f.y1[ch], f.y2[ch] = x1, x2, y1, y2
}

// Reset clears the filter history.
func (f *Filter) Reset() {
	clear(f.x1)
	clear(f.x2)
	clear(f.y1)
	clear(f.y2)
}

func checkParams(sampleRate, frequency, shape float64, channels int) error {
	switch {
	case sampleRate <= 0:
		return errors.Newf("sample rate must be positive, got %v", sampleRate).
			Component("equalizer").Category(errors.CategoryValidation).Build()
	case frequency <= 0 || frequency >= sampleRate/2:
		return errors.Newf("frequency %v Hz outside (0, %v)", frequency, sampleRate/2).
			Component("equalizer").Category(errors.CategoryValidation).Build()
	case shape <= 0:
		return errors.Newf("q or bandwidth must be positive, got %v", shape).
			Component("equalizer").Category(errors.CategoryValidation).Build()
	case channels < 1:
		return errors.Newf("channel count must be positive, got %d", channels).
			Component("equalizer").Category(errors.CategoryValidation).Build()
	}
	return nil
}

// NewLowShelf returns a low-shelf filter. gain is in dB.
func NewLowShelf(sampleRate, frequency, q, gain float64, channels int) (*Filter, error) {
	if err := checkParams(sampleRate, frequency, q, channels); err != nil {
		return nil, err
	}
	w0 := 2 * math.Pi * frequency / sampleRate
	a := math.Pow(10, gain/40)
	beta := math.Sqrt(a) / q
	cos, sin := math.Cos(w0), math.Sin(w0)

	return newFilter(LowShelf,
		(a+1)+(a-1)*cos+beta*sin,
		-2*((a-1)+(a+1)*cos),
		(a+1)+(a-1)*cos-beta*sin,
		a*((a+1)-(a-1)*cos+beta*sin),
		2*a*((a-1)-(a+1)*cos),
		a*((a+1)-(a-1)*cos-beta*sin),
		channels,
	), nil
}

// NewHighShelf returns a high-shelf filter. gain is in dB.
func NewHighShelf(sampleRate, frequency, q, gain float64, channels int) (*Filter, error) {
	if err := checkParams(sampleRate, frequency, q, channels); err != nil {
		return nil, err
	}
	w0 := 2 * math.Pi * frequency / sampleRate
	a := math.Pow(10, gain/40)
	beta := math.Sqrt(a) / q
	cos, sin := math.Cos(w0), math.Sin(w0)

	return newFilter(HighShelf,
		(a+1)-(a-1)*cos+beta*sin,
		2*((a-1)-(a+1)*cos),
		(a+1)-(a-1)*cos-beta*sin,
		a*((a+1)+(a-1)*cos+beta*sin),
		-2*a*((a-1)+(a+1)*cos),
		a*((a+1)+(a-1)*cos-beta*sin),
		channels,
	), nil
}

// NewPeaking returns a peaking filter. width is the bandwidth in octaves,
// gain is in dB.
func NewPeaking(sampleRate, frequency, width, gain float64, channels int) (*Filter, error) {
	if err := checkParams(sampleRate, frequency, width, channels); err != nil {
		return nil, err
	}
	w0 := 2 * math.Pi * frequency / sampleRate
	alpha := math.Sin(w0) * math.Sinh(math.Ln2/2*width*w0/math.Sin(w0))
	a := math.Pow(10, gain/40)
	cos := math.Cos(w0)

	return newFilter(Peaking,
		1+alpha/a,
		-2*cos,
		1-alpha/a,
		1+alpha*a,
		-2*cos,
		1-alpha*a,
		channels,
	), nil
}

// BandwidthFromQ converts a Q factor to a bandwidth in octaves.
func BandwidthFromQ(q float64) float64 {
	if q <= 0 {
		return 0.5
	}
	return math.Log2((math.Sqrt(4*q*q+1) + 1) / (2 * q))
}

// DecibelsToLinear converts a gain in dB to a linear factor.
func DecibelsToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}
