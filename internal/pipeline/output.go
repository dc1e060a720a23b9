package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/ringbuffer"
	"github.com/tphakala/eqroute/internal/state"
)

const (
	underrunCheckInterval = 500 * time.Millisecond
	underrunLogInterval   = 10 * time.Second
)

// OutputConfig holds what an output writer is built from.
type OutputConfig struct {
	Sink     Sink
	Buffer   *ringbuffer.Buffer
	Volume   state.Volume
	Recorder *Recorder
	Logger   logger.Logger
}

// outputGains are the per-block multipliers derived from volume state.
type outputGains struct {
	left, right float32
}

// Output reads the ring buffer in sample-time order and plays it on the
// sink. Missing frames are played as silence.
type Output struct {
	sink     Sink
	buffer   *ringbuffer.Buffer
	recorder *Recorder
	log      logger.Logger

	gains atomic.Pointer[outputGains]

	frames    atomic.Uint64
	underruns atomic.Uint64
	overruns  atomic.Uint64

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOutput validates cfg and builds an output writer.
func NewOutput(cfg OutputConfig) (*Output, error) {
	if cfg.Sink == nil || cfg.Buffer == nil {
		return nil, errors.Newf("output requires a sink and a ring buffer").
			Component("pipeline").
			Category(errors.CategoryValidation).
			Build()
	}
	format := cfg.Sink.Format()
	if err := format.Validate(); err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryAudioSink).
			Context("sink", cfg.Sink.Name()).
			Build()
	}
	if format.Channels != cfg.Buffer.Channels() {
		return nil, errors.Newf("sink has %d channels, ring buffer has %d", format.Channels, cfg.Buffer.Channels()).
			Component("pipeline").
			Category(errors.CategoryValidation).
			Build()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("pipeline.output")
	}

	o := &Output{
		sink:     cfg.Sink,
		buffer:   cfg.Buffer,
		recorder: cfg.Recorder,
		log:      log,
	}
	o.SetVolume(cfg.Volume)
	return o, nil
}

// SetVolume updates gain, mute and balance for subsequent blocks.
func (o *Output) SetVolume(v state.Volume) {
	o.gains.Store(gainsFor(v))
}

// gainsFor maps volume state to channel gains. Balance attenuates the
// opposite side linearly.
func gainsFor(v state.Volume) *outputGains {
	if v.Muted {
		return &outputGains{}
	}
	gain := max(0, v.Gain)
	if !v.BoostEnabled {
		gain = min(gain, 1)
	}
	balance := max(-1, min(1, v.Balance))
	return &outputGains{
		left:  float32(gain * min(1, 1-balance)),
		right: float32(gain * min(1, 1+balance)),
	}
}

// Start starts the sink and the underrun monitor.
func (o *Output) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started || o.stopped {
		return errors.Newf("output already started").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}
	o.started = true

	monitorCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	if o.recorder != nil {
		o.recorder.Start(monitorCtx)
	}
	if err := o.sink.Start(ctx, o.pull); err != nil {
		cancel()
		return errors.New(err).
			Component("pipeline").
			Category(errors.CategoryAudioSink).
			Context("sink", o.sink.Name()).
			Context("operation", "start_sink").
			Build()
	}

	o.wg.Add(1)
	go o.monitor(monitorCtx)

	o.log.Info("output started",
		logger.String("sink", o.sink.Name()),
		logger.Float64("sample_rate", o.sink.Format().SampleRate))
	return nil
}

// Stop stops the sink, the monitor and the recorder. It is safe to call
// more than once.
func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return nil
	}
	o.stopped = true
	if !o.started {
		return nil
	}

	var errs []error
	if err := o.sink.Stop(); err != nil {
		errs = append(errs, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryAudioSink).
			Context("sink", o.sink.Name()).
			Context("operation", "stop_sink").
			Build())
	}
	o.cancel()
	o.wg.Wait()
	if o.recorder != nil {
		if err := o.recorder.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	o.log.Info("output stopped",
		logger.String("sink", o.sink.Name()),
		logger.Uint64("frames", o.frames.Load()),
		logger.Uint64("underruns", o.underruns.Load()))
	return errors.Join(errs...)
}

// pull fills dst from the ring buffer. It runs on the playback thread.
func (o *Output) pull(dst [][]float32) {
	if len(dst) == 0 {
		return
	}
	n := len(dst[0])

	got, status := o.buffer.Read(dst, n)
	switch status {
	case ringbuffer.StatusOverrun:
		o.overruns.Add(1)
	case ringbuffer.StatusUnderrun, ringbuffer.StatusTooMuch:
		o.underruns.Add(1)
	}
	if got < n {
		for ch := range dst {
			clear(dst[ch][got:n])
		}
	}

	g := o.gains.Load()
	if len(dst) == 1 {
		applyGain(dst[0], max(g.left, g.right))
	} else {
		applyGain(dst[0], g.left)
		applyGain(dst[1], g.right)
		for ch := 2; ch < len(dst); ch++ {
			applyGain(dst[ch], max(g.left, g.right))
		}
	}

	o.frames.Add(uint64(n))
	if o.recorder != nil {
		o.recorder.Tap(dst, n)
	}
}

func applyGain(samples []float32, gain float32) {
	if gain == 1 {
		return
	}
	for i := range samples {
		samples[i] *= gain
	}
}

// monitor reports underruns off the playback thread, rate limited.
func (o *Output) monitor(ctx context.Context) {
	defer o.wg.Done()

	limiter := rate.NewLimiter(rate.Every(underrunLogInterval), 1)
	ticker := time.NewTicker(underrunCheckInterval)
	defer ticker.Stop()

	var reported uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := o.underruns.Load()
			if current == reported || !limiter.Allow() {
				continue
			}
			o.log.Warn("output underrun, playing silence",
				logger.String("sink", o.sink.Name()),
				logger.Uint64("underruns", current-reported),
				logger.Uint64("total_underruns", current))
			reported = current
		}
	}
}

// OutputStats are the output's counters.
type OutputStats struct {
	Frames    uint64
	Underruns uint64
	Overruns  uint64
}

// Stats returns a snapshot of the counters.
func (o *Output) Stats() OutputStats {
	return OutputStats{
		Frames:    o.frames.Load(),
		Underruns: o.underruns.Load(),
		Overruns:  o.overruns.Load(),
	}
}
