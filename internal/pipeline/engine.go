package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tphakala/eqroute/internal/equalizer"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/ringbuffer"
)

// EngineConfig holds what one capture graph is built from.
type EngineConfig struct {
	Source  Source
	Effects *equalizer.Processor
	Buffer  *ringbuffer.Buffer
	Logger  logger.Logger
}

// Engine is one capture graph: source, effects chain, then a muted sink
// whose render hook feeds the ring buffer. A graph is never reconfigured
// while running; a rebuild creates a new Engine.
type Engine struct {
	source  Source
	effects *equalizer.Processor
	buffer  *ringbuffer.Buffer
	format  Format
	log     logger.Logger

	mu      sync.Mutex
	started bool
	stopped bool

	attached       atomic.Bool
	lastSampleTime atomic.Int64
	hasSampleTime  atomic.Bool
	blocks         atomic.Uint64
	overruns       atomic.Uint64
	rejected       atomic.Uint64
}

// NewEngine validates cfg and builds an engine. Nothing runs until Start.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Source == nil || cfg.Buffer == nil {
		return nil, errors.Newf("engine requires a source and a ring buffer").
			Component("pipeline").
			Category(errors.CategoryValidation).
			Build()
	}
	format := cfg.Source.Format()
	if err := format.Validate(); err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryAudioSource).
			Context("source", cfg.Source.Name()).
			Build()
	}
	if format.Channels != cfg.Buffer.Channels() {
		return nil, errors.Newf("source has %d channels, ring buffer has %d", format.Channels, cfg.Buffer.Channels()).
			Component("pipeline").
			Category(errors.CategoryValidation).
			Build()
	}

	effects := cfg.Effects
	if effects == nil {
		effects = equalizer.NewProcessor()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("pipeline")
	}

	return &Engine{
		source:  cfg.Source,
		effects: effects,
		buffer:  cfg.Buffer,
		format:  format,
		log:     log,
	}, nil
}

// Format returns the capture format.
func (e *Engine) Format() Format { return e.format }

// Effects returns the effects processor so chains can be swapped live.
func (e *Engine) Effects() *equalizer.Processor { return e.effects }

// Start attaches the render hook and starts the source.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.stopped {
		return errors.Newf("engine already started").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}
	e.started = true
	e.attached.Store(true)

	if err := e.source.Start(ctx, e.render); err != nil {
		e.attached.Store(false)
		return errors.New(err).
			Component("pipeline").
			Category(errors.CategoryAudioSource).
			Context("source", e.source.Name()).
			Context("operation", "start_source").
			Build()
	}

	e.log.Info("capture engine started",
		logger.String("source", e.source.Name()),
		logger.Float64("sample_rate", e.format.SampleRate),
		logger.Int("channels", e.format.Channels),
		logger.Int("frame_size", e.format.FrameSize))
	return nil
}

// Stop detaches the hook and stops the source. It is safe to call more
// than once.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil
	}
	e.stopped = true
	e.attached.Store(false)
	if !e.started {
		return nil
	}

	if err := e.source.Stop(); err != nil {
		return errors.New(err).
			Component("pipeline").
			Category(errors.CategoryAudioSource).
			Context("source", e.source.Name()).
			Context("operation", "stop_source").
			Build()
	}
	e.log.Info("capture engine stopped",
		logger.String("source", e.source.Name()),
		logger.Uint64("blocks", e.blocks.Load()),
		logger.Uint64("overruns", e.overruns.Load()))
	return nil
}

// render is the post-render hook. It runs on the real-time thread and
// must not block, allocate or log.
func (e *Engine) render(frames [][]float32, sampleTime int64) {
	if !e.attached.Load() || len(frames) == 0 {
		return
	}
	n := int64(len(frames[0]))

	e.effects.Process(frames)

	switch e.buffer.Write(frames, sampleTime, sampleTime+n) {
	case ringbuffer.StatusOK:
		e.recordSampleTime(sampleTime + n)
	case ringbuffer.StatusOverrun:
		e.overruns.Add(1)
		e.recordSampleTime(sampleTime + n)
	default:
		e.rejected.Add(1)
	}
	e.blocks.Add(1)

	// muted sink
	for ch := range frames {
		clear(frames[ch])
	}
}

func (e *Engine) recordSampleTime(t int64) {
	e.lastSampleTime.Store(t)
	e.hasSampleTime.Store(true)
}

// LastSampleTime returns the end of the last block written to the ring
// buffer. ok is false until the first write.
func (e *Engine) LastSampleTime() (t int64, ok bool) {
	return e.lastSampleTime.Load(), e.hasSampleTime.Load()
}

// EngineStats are the engine's counters.
type EngineStats struct {
	Blocks   uint64
	Overruns uint64
	Rejected uint64
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Blocks:   e.blocks.Load(),
		Overruns: e.overruns.Load(),
		Rejected: e.rejected.Load(),
	}
}
