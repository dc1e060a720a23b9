package run

import (
	"context"

	"github.com/tphakala/eqroute/internal/conf"
	"github.com/tphakala/eqroute/internal/device"
	devmalgo "github.com/tphakala/eqroute/internal/device/malgo"
	"github.com/tphakala/eqroute/internal/device/simulated"
	"github.com/tphakala/eqroute/internal/driver"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/pipeline"
	pipemalgo "github.com/tphakala/eqroute/internal/pipeline/malgo"
)

const defaultDriverName = "eqroute"

// backend is the OS-facing half of a session.
type backend struct {
	registry device.Registry
	driver   driver.Handle
	builder  pipeline.Builder
	run      func(ctx context.Context) error // nil when nothing needs to run
	close    func() error
}

func openBackend(settings *conf.Settings, log logger.Logger) (*backend, error) {
	switch settings.Audio.Backend {
	case conf.BackendNull:
		return openNull(settings, log), nil
	default:
		return openMalgo(settings, log)
	}
}

func openMalgo(settings *conf.Settings, log logger.Logger) (*backend, error) {
	reg, err := devmalgo.Open(devmalgo.Config{
		DriverName:   settings.Session.DriverName,
		PollInterval: settings.Audio.PollInterval,
	}, log.Module("device"))
	if err != nil {
		return nil, err
	}
	drv, err := devmalgo.NewDriver(reg, settings.Session.SupportedSampleRates)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}
	builder := pipemalgo.NewBuilder(pipemalgo.Config{
		CaptureDevice: settings.Audio.CaptureDevice,
		Channels:      settings.Audio.Channels,
		FrameSize:     settings.Audio.Buffer.FrameSize,
	}, reg, log.Module("pipeline"))

	return &backend{
		registry: reg,
		driver:   drv,
		builder:  builder,
		run:      reg.Run,
		close:    reg.Close,
	}, nil
}

// openNull runs the session against an in-memory registry holding one
// built-in output. Pipelines are built but never move audio.
func openNull(settings *conf.Settings, log logger.Logger) *backend {
	rates := settings.Session.SupportedSampleRates
	if len(rates) == 0 {
		rates = []float64{48000}
	}
	name := settings.Session.DriverName
	if name == "" {
		name = defaultDriverName
	}

	reg := simulated.NewRegistry()
	reg.AddDevice(device.AudioDevice{
		Name:              "Null Output",
		UID:               "null-output",
		Transport:         device.TransportBuiltIn,
		Alive:             true,
		SupportsVolume:    true,
		NominalSampleRate: rates[0],
		ActualSampleRate:  rates[0],
		Volume:            1,
		Balance:           0.5,
	})
	drv := simulated.NewDriver(reg, name, rates)
	log.Info("using null audio backend", logger.String("driver", name))

	return &backend{
		registry: reg,
		driver:   drv,
		builder:  nullBuilder{channels: settings.Audio.Channels, frameSize: settings.Audio.Buffer.FrameSize},
		close:    func() error { return nil },
	}
}

// nullBuilder creates sources and sinks that accept start and stop and
// never call back.
type nullBuilder struct {
	channels  int
	frameSize int
}

func (b nullBuilder) format(rate float64) (pipeline.Format, error) {
	f := pipeline.Format{SampleRate: rate, Channels: b.channels, FrameSize: b.frameSize}
	if err := f.Validate(); err != nil {
		return f, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryValidation).
			Context("backend", conf.BackendNull).
			Build()
	}
	return f, nil
}

func (b nullBuilder) NewSource(rate float64) (pipeline.Source, error) {
	f, err := b.format(rate)
	if err != nil {
		return nil, err
	}
	return nullSource{format: f}, nil
}

func (b nullBuilder) NewSink(_ uint32, rate float64) (pipeline.Sink, error) {
	f, err := b.format(rate)
	if err != nil {
		return nil, err
	}
	return nullSink{format: f}, nil
}

type nullSource struct{ format pipeline.Format }

func (nullSource) Name() string                                     { return "null" }
func (s nullSource) Format() pipeline.Format                        { return s.format }
func (nullSource) Start(context.Context, pipeline.RenderFunc) error { return nil }
func (nullSource) Stop() error                                      { return nil }

type nullSink struct{ format pipeline.Format }

func (nullSink) Name() string                                   { return "null" }
func (s nullSink) Format() pipeline.Format                      { return s.format }
func (nullSink) Start(context.Context, pipeline.PullFunc) error { return nil }
func (nullSink) Stop() error                                    { return nil }
