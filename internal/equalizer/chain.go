package equalizer

import (
	"sync/atomic"

	"github.com/tphakala/eqroute/internal/errors"
)

// FilterChain is a preamp followed by filters applied in sequence.
// A chain carries filter state and must be processed by one goroutine.
type FilterChain struct {
	preamp   float32
	filters  []*Filter
	channels int
}

// NewFilterChain creates an empty chain with unity preamp.
func NewFilterChain(channels int) *FilterChain {
	return &FilterChain{preamp: 1, channels: channels}
}

// SetPreamp sets the chain input gain in dB.
func (fc *FilterChain) SetPreamp(db float64) {
	fc.preamp = float32(DecibelsToLinear(db))
}

// AddFilter appends f to the chain.
func (fc *FilterChain) AddFilter(f *Filter) error {
	if f == nil || f.kind == Undefined {
		return errors.NewStd("cannot add nil or uninitialized filter")
	}
	fc.filters = append(fc.filters, f)
	return nil
}

// Length returns the number of filters.
func (fc *FilterChain) Length() int { return len(fc.filters) }

// Channels returns the channel count the chain was built for.
func (fc *FilterChain) Channels() int { return fc.channels }

// Process runs every channel of buf through the chain in place.
func (fc *FilterChain) Process(buf [][]float32) {
	for ch, samples := range buf {
		if fc.preamp != 1 {
			for i := range samples {
				samples[i] *= fc.preamp
			}
		}
		for _, f := range fc.filters {
			f.Process(ch, samples)
		}
	}
}

// Processor holds the active chain. Swap is called from the control plane,
// Process from the real-time thread.
type Processor struct {
	chain atomic.Pointer[FilterChain]
}

// NewProcessor creates a processor, passthrough until a chain is swapped in.
func NewProcessor() *Processor {
	return &Processor{}
}

// Swap installs chain and returns the previous one.
func (p *Processor) Swap(chain *FilterChain) *FilterChain {
	return p.chain.Swap(chain)
}

// Chain returns the active chain, possibly nil.
func (p *Processor) Chain() *FilterChain {
	return p.chain.Load()
}

// Process applies the active chain. It does not allocate or block.
func (p *Processor) Process(buf [][]float32) {
	if c := p.chain.Load(); c != nil {
		c.Process(buf)
	}
}
