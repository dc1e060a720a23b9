// Package ringbuffer implements a fixed-capacity, per-channel float32 ring
// buffer addressed by absolute sample time.
//
// One goroutine writes (the real-time render hook) and one goroutine reads
// (the output writer). Neither side blocks or allocates: positions are
// published through atomics and every problem is reported as a Status.
package ringbuffer

import (
	"fmt"
	"sync/atomic"
)

// Status is the outcome of a read or write.
type Status int

const (
	// StatusOK means the whole request was satisfied.
	StatusOK Status = iota
	// StatusOverrun means unread frames were overwritten. On write the
	// reader had fallen more than a capacity behind; on read the cursor was
	// moved forward to the oldest retained frame.
	StatusOverrun
	// StatusUnderrun means fewer frames were available than requested,
	// including reads before anything was written.
	StatusUnderrun
	// StatusTooMuch means the request exceeded the capacity and nothing was done.
	StatusTooMuch
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusOverrun:
		return "overrun"
	case StatusUnderrun:
		return "underrun"
	case StatusTooMuch:
		return "too-much"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// unset marks cursors before the first write.
const unset = int64(-1) << 62

// Buffer is a single-producer single-consumer ring of per-channel samples.
type Buffer struct {
	channels int
	capacity int64
	data     [][]float32

	// startTime is the oldest sample time still held, endTime the exclusive
	// end of the newest write. Both are written only by the producer.
	startTime atomic.Int64
	endTime   atomic.Int64

	// writeMark is the end of the newest write, published before its
	// frames are copied. epoch counts restarts. A reader that sees either
	// move past its window while copying knows the frames may be mixed.
	writeMark atomic.Int64
	epoch     atomic.Uint64

	// readTime is the consumer's cursor, written only by the consumer
	// except for the first write, which seeds it.
	readTime atomic.Int64
}

// New allocates a buffer holding capacity frames for each channel.
func New(channels, capacity int) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid capacity: %d, must be greater than 0", capacity)
	}

	data := make([][]float32, channels)
	for ch := range data {
		data[ch] = make([]float32, capacity)
	}

	b := &Buffer{channels: channels, capacity: int64(capacity), data: data}
	b.startTime.Store(unset)
	b.endTime.Store(unset)
	b.writeMark.Store(unset)
	b.readTime.Store(unset)
	return b, nil
}

// Channels returns the channel count.
func (b *Buffer) Channels() int { return b.channels }

// Capacity returns the per-channel capacity in frames.
func (b *Buffer) Capacity() int { return int(b.capacity) }

// Bounds returns the retained sample-time window [start, end). ok is false
// before the first write.
func (b *Buffer) Bounds() (start, end int64, ok bool) {
	end = b.endTime.Load()
	if end == unset {
		return 0, 0, false
	}
	return b.startTime.Load(), end, true
}

// ReadTime returns the consumer cursor, or false before the first write.
func (b *Buffer) ReadTime() (int64, bool) {
	rt := b.readTime.Load()
	return rt, rt != unset
}

// Write stores the frames for sample-time window [start, end). samples
// holds one slice per channel with at least end-start frames. A gap since
// the previous write is filled with silence; a write that jumps further
// than the capacity restarts the window.
func (b *Buffer) Write(samples [][]float32, start, end int64) Status {
	n := end - start
	if n <= 0 {
		return StatusOK
	}
	if n > b.capacity || len(samples) < b.channels {
		return StatusTooMuch
	}
	for ch := 0; ch < b.channels; ch++ {
		if int64(len(samples[ch])) < n {
			return StatusTooMuch
		}
	}

	prevEnd := b.endTime.Load()
	prevStart := b.startTime.Load()

	// first write, or a jump further than the retained window
	restart := prevEnd == unset || start > prevEnd+b.capacity || end <= prevEnd-b.capacity
	if restart {
		b.epoch.Add(1)
		b.writeMark.Store(end)
	} else if end > b.writeMark.Load() {
		b.writeMark.Store(end)
	}
	if !restart && start > prevEnd {
		b.zero(prevEnd, start)
	}

	for ch := 0; ch < b.channels; ch++ {
		b.copyIn(b.data[ch], samples[ch][:n], start)
	}

	newStart := start
	if !restart {
		newStart = max(min(prevStart, start), max(end, prevEnd)-b.capacity)
	}

	b.startTime.Store(newStart)
	b.endTime.Store(end)

	rt := b.readTime.Load()
	if rt == unset {
		b.readTime.CompareAndSwap(unset, start)
		return StatusOK
	}
	if rt < end-b.capacity {
		return StatusOverrun
	}
	return StatusOK
}

// Read copies up to frames frames per channel from the consumer cursor into
// dst and advances the cursor. It returns the number of frames copied;
// callers substitute silence for the rest.
func (b *Buffer) Read(dst [][]float32, frames int) (int, Status) {
	if frames <= 0 {
		return 0, StatusOK
	}
	if int64(frames) > b.capacity || len(dst) < b.channels {
		return 0, StatusTooMuch
	}

	epoch := b.epoch.Load()
	end := b.endTime.Load()
	rt := b.readTime.Load()
	if end == unset || rt == unset {
		return 0, StatusUnderrun
	}

	status := StatusOK
	if oldest := b.startTime.Load(); rt < oldest {
		rt = oldest
		status = StatusOverrun
	}

	available := end - rt
	if available <= 0 {
		return 0, StatusUnderrun
	}

	n := min(int64(frames), available)
	for ch := 0; ch < b.channels; ch++ {
		b.copyOut(dst[ch][:n], b.data[ch], rt)
	}

	// a write in progress may have overwritten part of what was copied
	if b.epoch.Load() != epoch || b.writeMark.Load()-b.capacity > rt {
		status = StatusOverrun
	}

	b.readTime.Store(rt + n)

	if status == StatusOK && n < int64(frames) {
		status = StatusUnderrun
	}
	return int(n), status
}

// ReadAt copies the frames for [start, end) without moving the consumer
// cursor. Frames outside the retained window are zeroed and reported.
func (b *Buffer) ReadAt(dst [][]float32, start, end int64) Status {
	n := end - start
	if n <= 0 {
		return StatusOK
	}
	if n > b.capacity || len(dst) < b.channels {
		return StatusTooMuch
	}

	bufEnd := b.endTime.Load()
	if bufEnd == unset {
		for ch := 0; ch < b.channels; ch++ {
			clear(dst[ch][:n])
		}
		return StatusUnderrun
	}
	bufStart := b.startTime.Load()

	status := StatusOK
	from, to := max(start, bufStart), min(end, bufEnd)
	if from >= to {
		for ch := 0; ch < b.channels; ch++ {
			clear(dst[ch][:n])
		}
		if start >= bufEnd {
			return StatusUnderrun
		}
		return StatusOverrun
	}

	for ch := 0; ch < b.channels; ch++ {
		out := dst[ch][:n]
		clear(out[:from-start])
		b.copyOut(out[from-start:to-start], b.data[ch], from)
		clear(out[to-start:])
	}

	if start < bufStart {
		status = StatusOverrun
	}
	if end > bufEnd {
		status = StatusUnderrun
	}
	return status
}

// Reset drops all content. It must not race with Write or Read.
func (b *Buffer) Reset() {
	for ch := range b.data {
		clear(b.data[ch])
	}
	b.startTime.Store(unset)
	b.endTime.Store(unset)
	b.writeMark.Store(unset)
	b.epoch.Add(1)
	b.readTime.Store(unset)
}

func (b *Buffer) offset(t int64) int64 {
	off := t % b.capacity
	if off < 0 {
		off += b.capacity
	}
	return off
}

// copyIn writes src at sample time t, wrapping around the end of ring.
func (b *Buffer) copyIn(ring, src []float32, t int64) {
	off := b.offset(t)
	k := copy(ring[off:], src)
	copy(ring, src[k:])
}

// copyOut reads len(dst) frames at sample time t.
func (b *Buffer) copyOut(dst, ring []float32, t int64) {
	off := b.offset(t)
	k := copy(dst, ring[off:])
	copy(dst[k:], ring)
}

// zero clears [from, to) in every channel.
func (b *Buffer) zero(from, to int64) {
	if to-from >= b.capacity {
		for ch := range b.data {
			clear(b.data[ch])
		}
		return
	}
	for ch := range b.data {
		ring := b.data[ch]
		off := b.offset(from)
		n := to - from
		first := min(n, b.capacity-off)
		clear(ring[off : off+first])
		clear(ring[:n-first])
	}
}
