package session

import (
	"time"

	"github.com/tphakala/eqroute/internal/device"
	"github.com/tphakala/eqroute/internal/equalizer"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/events"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/observability/metrics"
	"github.com/tphakala/eqroute/internal/pipeline"
	"github.com/tphakala/eqroute/internal/ringbuffer"
	"github.com/tphakala/eqroute/internal/scheduler"
)

// livePipeline is one epoch: an engine feeding an output through a ring
// buffer, built for one device at one rate.
type livePipeline struct {
	engine   *pipeline.Engine
	output   *pipeline.Output
	buffer   *ringbuffer.Buffer
	recorder *pipeline.Recorder
	format   pipeline.Format
	device   device.AudioDevice
}

// stop halts the output first so it stops reading before the engine
// stops writing.
func (p *livePipeline) stop() error {
	return errors.Join(p.output.Stop(), p.engine.Stop())
}

func (p *livePipeline) snapshot() metrics.PipelineSnapshot {
	es := p.engine.Stats()
	out := p.output.Stats()
	snap := metrics.PipelineSnapshot{
		Running:         true,
		EngineBlocks:    es.Blocks,
		EngineOverruns:  es.Overruns,
		EngineRejected:  es.Rejected,
		OutputFrames:    out.Frames,
		OutputUnderruns: out.Underruns,
		OutputOverruns:  out.Overruns,
		BufferCapacity:  p.buffer.Capacity(),
	}
	if t, ok := p.engine.LastSampleTime(); ok {
		snap.LastSampleTime = t
	}
	if _, end, ok := p.buffer.Bounds(); ok {
		if rt, ok := p.buffer.ReadTime(); ok && end > rt {
			snap.BufferFill = int(end - rt)
		}
	}
	if p.recorder != nil {
		snap.RecorderWritten = p.recorder.Written()
		snap.RecorderDropped = p.recorder.Dropped()
	}
	return snap
}

// PipelineSnapshot reports the running pipeline for metrics. It is safe
// to call from any goroutine.
func (s *AudioSession) PipelineSnapshot() metrics.PipelineSnapshot {
	if p := s.pipe.Load(); p != nil {
		return p.snapshot()
	}
	return metrics.PipelineSnapshot{}
}

// createPipeline builds a fresh engine and output for the selected device
// and starts them. Any previous epoch is retired first.
func (s *AudioSession) createPipeline() (err error) {
	if !s.hasSel {
		return errors.Newf("no device selected").
			Component("session").
			Category(errors.CategoryState).
			Build()
	}
	if old := s.pipe.Swap(nil); old != nil {
		s.retire(old, nil)
	}

	start := time.Now()
	dev := s.selected
	s.phase = PhaseBuilding
	defer func() {
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
			s.phase = PhaseUnbuilt
			s.metrics.SetPassthrough(false, 0)
		}
		s.metrics.RecordOperation(metrics.OpRebuild, status)
		s.metrics.RecordDuration(metrics.OpRebuild, time.Since(start).Seconds())
	}()

	rate := s.drv.NominalSampleRate()
	if rate <= 0 {
		rate = dev.NominalSampleRate
	}

	source, err := s.builder.NewSource(rate)
	if err != nil {
		return errors.New(err).
			Component("session").
			Category(errors.CategoryAudioSource).
			Context("sample_rate", rate).
			Build()
	}
	format := source.Format()

	effects := equalizer.NewProcessor()
	if chain, chainErr := s.buildChain(format); chainErr != nil {
		s.log.Warn("failed to build effects chain, running flat", logger.Error(chainErr))
	} else {
		effects.Swap(chain)
	}

	buffer, err := ringbuffer.New(format.Channels, s.cfg.FrameSize*s.cfg.BufferMultiplier)
	if err != nil {
		return err
	}
	engine, err := pipeline.NewEngine(pipeline.EngineConfig{
		Source:  source,
		Effects: effects,
		Buffer:  buffer,
		Logger:  s.log.Module("engine"),
	})
	if err != nil {
		return err
	}
	s.publish(events.EngineCreated())

	sink, err := s.builder.NewSink(dev.ID, format.SampleRate)
	if err != nil {
		return errors.New(err).
			Component("session").
			Category(errors.CategoryAudioSink).
			DeviceContext(dev.ID, dev.Name).
			Build()
	}

	var recorder *pipeline.Recorder
	if s.cfg.Recorder.Enabled {
		recorder, err = pipeline.NewRecorder(pipeline.RecorderConfig{
			Path:          s.cfg.Recorder.Path,
			SampleRate:    int(format.SampleRate),
			Channels:      format.Channels,
			FrameSize:     format.FrameSize,
			BufferSeconds: s.cfg.Recorder.BufferSeconds,
			Logger:        s.log.Module("recorder"),
		})
		if err != nil {
			s.log.Warn("output recorder disabled", logger.Error(err))
			recorder = nil
		}
	}

	output, err := pipeline.NewOutput(pipeline.OutputConfig{
		Sink:     sink,
		Buffer:   buffer,
		Volume:   s.store.State().Volume,
		Recorder: recorder,
		Logger:   s.log.Module("output"),
	})
	if err != nil {
		if recorder != nil {
			_ = recorder.Close()
		}
		return err
	}
	s.publish(events.OutputCreated())

	if err := output.Start(s.ctx); err != nil {
		_ = output.Stop()
		return err
	}
	if err := engine.Start(s.ctx); err != nil {
		_ = output.Stop()
		_ = engine.Stop()
		return err
	}

	s.pipe.Store(&livePipeline{
		engine:   engine,
		output:   output,
		buffer:   buffer,
		recorder: recorder,
		format:   format,
		device:   dev,
	})
	s.phase = PhaseRunning
	s.rebuilds++
	s.metrics.SetPassthrough(true, format.SampleRate)
	s.publish(events.PipelineRunning(dev.ID, dev.Name, format.SampleRate))

	s.log.Info("pipeline running",
		logger.String("device", dev.Name),
		logger.Float64("sample_rate", format.SampleRate),
		logger.Int("channels", format.Channels),
		logger.Int("buffer_frames", buffer.Capacity()),
		logger.Bool("recording", recorder != nil))
	return nil
}

// buildChain builds the filter chain of the selected preset.
func (s *AudioSession) buildChain(format pipeline.Format) (*equalizer.FilterChain, error) {
	preset, err := s.presets.Selected(s.store.State().Equalizers)
	if err != nil {
		return nil, err
	}
	return equalizer.BuildChain(preset, format.SampleRate, format.Channels)
}

// reloadEffects swaps a new chain into the running engine.
func (s *AudioSession) reloadEffects() {
	p := s.pipe.Load()
	if p == nil {
		return
	}
	chain, err := s.buildChain(p.format)
	if err != nil {
		s.reportError(metrics.OpRebuild, err)
		return
	}
	p.engine.Effects().Swap(chain)
	s.log.Debug("effects chain reloaded", logger.Int("filters", chain.Length()))
}

// stopEngines detaches the running pipeline and stops it. Anything
// scheduled before the call sees a newer teardown generation and backs off.
func (s *AudioSession) stopEngines(completion func()) {
	s.teardownGen++
	p := s.pipe.Swap(nil)
	if p == nil {
		s.phase = PhaseUnbuilt
		if completion != nil {
			completion()
		}
		return
	}
	s.phase = PhaseTearingDown
	s.metrics.SetPassthrough(false, 0)
	s.retire(p, completion)
}

// retire stops p off the loop. completion runs exactly once: when the stop
// returns or when StopTimeout elapses, whichever is first.
func (s *AudioSession) retire(p *livePipeline, completion func()) {
	start := time.Now()
	done := false
	var timeout *scheduler.Timer

	finish := func(status string, err error) {
		if done {
			return
		}
		done = true
		timeout.Stop()

		if err != nil {
			s.log.Warn("pipeline stop reported errors", logger.Error(err))
			s.metrics.RecordError(metrics.OpTeardown, string(errors.CategoryPipeline))
		}
		if status == metrics.StatusTimeout {
			s.log.Warn("pipeline stop timed out, continuing",
				logger.Duration("timeout", s.cfg.Delays.StopTimeout),
				logger.String("device", p.device.Name))
		}
		s.metrics.RecordOperation(metrics.OpTeardown, status)
		s.metrics.RecordDuration(metrics.OpTeardown, time.Since(start).Seconds())

		if s.phase == PhaseTearingDown && s.pipe.Load() == nil {
			s.phase = PhaseUnbuilt
		}
		if completion != nil {
			completion()
		}
	}

	timeout = s.loop.After(s.cfg.Delays.StopTimeout, func() {
		finish(metrics.StatusTimeout, nil)
	})
	go func() {
		err := p.stop()
		s.loop.Post(func() {
			status := metrics.StatusSuccess
			if err != nil {
				status = metrics.StatusError
			}
			finish(status, err)
		})
	}()
}
