package wavfile

import (
	"context"

	"github.com/tphakala/eqroute/internal/equalizer"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/pipeline"
	"github.com/tphakala/eqroute/internal/ringbuffer"
	"github.com/tphakala/eqroute/internal/state"
)

// renderBufferBlocks is the ring buffer size of an offline render, in
// blocks. Source and sink run in lockstep so a few suffice.
const renderBufferBlocks = 4

// RenderConfig describes an offline render.
type RenderConfig struct {
	Input     string
	Output    string
	FrameSize int
	// Preset is the equalizer applied. A zero preset renders flat.
	Preset equalizer.Preset
	Volume state.Volume
	Logger logger.Logger
}

// RenderResult summarizes a finished render.
type RenderResult struct {
	Format    pipeline.Format
	Frames    int64
	Underruns uint64
}

// Render runs Input through the capture engine, ring buffer and output
// writer into Output.
func Render(ctx context.Context, cfg RenderConfig) (RenderResult, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("pipeline")
	}

	src, err := OpenSource(cfg.Input, cfg.FrameSize)
	if err != nil {
		return RenderResult{}, err
	}
	format := src.Format()

	effects := equalizer.NewProcessor()
	if cfg.Preset.Mode != "" {
		chain, err := equalizer.BuildChain(cfg.Preset, format.SampleRate, format.Channels)
		if err != nil {
			_ = src.Stop()
			return RenderResult{}, err
		}
		effects.Swap(chain)
	}

	buf, err := ringbuffer.New(format.Channels, format.FrameSize*renderBufferBlocks)
	if err != nil {
		_ = src.Stop()
		return RenderResult{}, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryBuffer).
			Build()
	}

	sink, err := CreateSink(cfg.Output, format)
	if err != nil {
		_ = src.Stop()
		return RenderResult{}, err
	}

	engine, err := pipeline.NewEngine(pipeline.EngineConfig{Source: src, Effects: effects, Buffer: buf, Logger: log})
	if err != nil {
		_ = src.Stop()
		_ = sink.Stop()
		return RenderResult{}, err
	}
	out, err := pipeline.NewOutput(pipeline.OutputConfig{Sink: sink, Buffer: buf, Volume: cfg.Volume, Logger: log})
	if err != nil {
		_ = src.Stop()
		_ = sink.Stop()
		return RenderResult{}, err
	}

	var pumpErr error
	src.AfterBlock(func(frames int) {
		if err := sink.Pump(frames); err != nil && pumpErr == nil {
			pumpErr = err
		}
	})

	if err := out.Start(ctx); err != nil {
		_ = src.Stop()
		_ = sink.Stop()
		return RenderResult{}, err
	}
	if err := engine.Start(ctx); err != nil {
		_ = out.Stop()
		_ = src.Stop()
		return RenderResult{}, err
	}

	select {
	case <-src.Done():
	case <-ctx.Done():
	}

	stopErr := errors.Join(engine.Stop(), out.Stop())
	result := RenderResult{
		Format:    format,
		Frames:    sink.Written(),
		Underruns: out.Stats().Underruns,
	}

	switch {
	case ctx.Err() != nil:
		return result, ctx.Err()
	case src.Err() != nil:
		return result, src.Err()
	case pumpErr != nil:
		return result, pumpErr
	}
	if stopErr != nil {
		return result, stopErr
	}

	log.Info("render finished",
		logger.String("input", cfg.Input),
		logger.String("output", cfg.Output),
		logger.Int64("frames", result.Frames),
		logger.Float64("sample_rate", format.SampleRate))
	return result, nil
}
