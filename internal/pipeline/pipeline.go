// Package pipeline builds the live audio graph of a session.
//
//	Source (driver loopback) -> Engine render hook -> effects -> ring buffer
//	ring buffer -> Output (gain, mute, balance) -> Sink (physical device)
//
// The Engine's render hook runs on the capture device's real-time thread
// and the Output's pull runs on the playback device's thread. The two only
// share the ring buffer, which is indexed by absolute sample time so the
// independent clocks never have to agree.
package pipeline

import (
	"context"
	"fmt"
)

// Format describes the frames flowing through the graph.
type Format struct {
	SampleRate float64
	Channels   int
	// FrameSize is the number of frames per device callback.
	FrameSize int
}

// Validate checks that the format can carry audio.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %g", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	if f.FrameSize <= 0 {
		return fmt.Errorf("invalid frame size: %d", f.FrameSize)
	}
	return nil
}

// RenderFunc receives one rendered block. frames holds one slice per
// channel, all the same length, and sampleTime is the hardware sample
// counter of the first frame. frames is only valid during the call.
type RenderFunc func(frames [][]float32, sampleTime int64)

// PullFunc fills every channel slice of dst with the next frames to play.
type PullFunc func(dst [][]float32)

// Source is the capture side of the graph.
type Source interface {
	// Name returns a human-readable name for this source
	Name() string

	// Format returns the format of rendered blocks
	Format() Format

	// Start begins delivering blocks to render until Stop
	Start(ctx context.Context, render RenderFunc) error

	// Stop halts capture. render is not called after Stop returns.
	Stop() error
}

// Sink is the playback device the Output drives.
type Sink interface {
	// Name returns a human-readable name for this sink
	Name() string

	// Format returns the format the sink plays
	Format() Format

	// Start begins calling pull for every block to play until Stop
	Start(ctx context.Context, pull PullFunc) error

	// Stop halts playback. pull is not called after Stop returns.
	Stop() error
}

// Builder creates the Source and Sink of one pipeline epoch. The session
// calls it on every rebuild.
type Builder interface {
	// NewSource opens the capture side at sampleRate.
	NewSource(sampleRate float64) (Source, error)
	// NewSink opens the playback side on the device with the given id.
	NewSink(deviceID uint32, sampleRate float64) (Sink, error)
}

// makeFrames allocates channels slices of n frames.
func makeFrames(channels, n int) [][]float32 {
	frames := make([][]float32, channels)
	for ch := range frames {
		frames[ch] = make([]float32, n)
	}
	return frames
}

// Deinterleave splits interleaved samples into dst, one slice per channel.
// It returns the number of frames written.
func Deinterleave(dst [][]float32, src []float32) int {
	channels := len(dst)
	if channels == 0 {
		return 0
	}
	n := len(src) / channels
	for ch := range dst {
		n = min(n, len(dst[ch]))
	}
	for i := range n {
		base := i * channels
		for ch := range channels {
			dst[ch][i] = src[base+ch]
		}
	}
	return n
}

// Interleave merges the first n frames of src into dst.
func Interleave(dst []float32, src [][]float32, n int) {
	channels := len(src)
	for i := range n {
		base := i * channels
		for ch := range channels {
			dst[base+ch] = src[ch][i]
		}
	}
}

// FloatToInt16 converts a sample to 16-bit PCM with clipping.
func FloatToInt16(v float32) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	default:
		return int16(v * 32767)
	}
}
