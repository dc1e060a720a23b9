// Package malgo implements the pipeline's Source and Sink on miniaudio.
// The source captures the virtual driver's loopback device and the sink
// plays on the selected physical output.
package malgo

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/eqroute/internal/device"
	malgodev "github.com/tphakala/eqroute/internal/device/malgo"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/pipeline"
)

const bytesPerSample = 4 // float32

// Config selects devices and block sizes.
type Config struct {
	// CaptureDevice is a name substring of the capture endpoint that
	// carries the driver's rendered audio. Empty uses the default capture device.
	CaptureDevice string
	Channels      int
	FrameSize     int
}

// DeviceLookup resolves session device ids. device.Registry satisfies it.
type DeviceLookup interface {
	Device(id uint32) (device.AudioDevice, bool)
}

// Builder creates malgo sources and sinks for each pipeline epoch.
type Builder struct {
	cfg    Config
	lookup DeviceLookup
	log    logger.Logger
}

// NewBuilder returns a pipeline.Builder backed by miniaudio.
func NewBuilder(cfg Config, lookup DeviceLookup, log logger.Logger) *Builder {
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 512
	}
	if log == nil {
		log = logger.Global().Module("pipeline.malgo")
	}
	return &Builder{cfg: cfg, lookup: lookup, log: log}
}

var _ pipeline.Builder = (*Builder)(nil)

// NewSource implements pipeline.Builder.
func (b *Builder) NewSource(sampleRate float64) (pipeline.Source, error) {
	format := pipeline.Format{SampleRate: sampleRate, Channels: b.cfg.Channels, FrameSize: b.cfg.FrameSize}
	if err := format.Validate(); err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryAudioSource).
			Build()
	}
	want := strings.ToLower(b.cfg.CaptureDevice)
	return &Source{
		stream: newStream(malgo.Capture, format, b.cfg.CaptureDevice, func(name, _ string) bool {
			return want != "" && strings.Contains(strings.ToLower(name), want)
		}, b.log),
	}, nil
}

// NewSink implements pipeline.Builder.
func (b *Builder) NewSink(deviceID uint32, sampleRate float64) (pipeline.Sink, error) {
	d, ok := b.lookup.Device(deviceID)
	if !ok {
		return nil, errors.Newf("output device %d not found", deviceID).
			Component("pipeline").
			Category(errors.CategoryNotFound).
			Build()
	}
	format := pipeline.Format{SampleRate: sampleRate, Channels: b.cfg.Channels, FrameSize: b.cfg.FrameSize}
	if err := format.Validate(); err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryAudioSink).
			DeviceContext(d.ID, d.Name).
			Build()
	}
	uid := d.UID
	return &Sink{
		stream: newStream(malgo.Playback, format, d.Name, func(_, candidate string) bool {
			return candidate == uid
		}, b.log),
	}, nil
}

// stream is the lifecycle shared by capture and playback devices.
type stream struct {
	typ    malgo.DeviceType
	format pipeline.Format
	name   string
	match  func(name, uid string) bool
	log    logger.Logger

	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	dev    *malgo.Device
	id     malgo.DeviceID
	frames [][]float32
	views  [][]float32
}

func newStream(typ malgo.DeviceType, format pipeline.Format, name string, match func(name, uid string) bool, log logger.Logger) *stream {
	frames := make([][]float32, format.Channels)
	for ch := range frames {
		frames[ch] = make([]float32, format.FrameSize)
	}
	return &stream{
		typ:    typ,
		format: format,
		name:   name,
		match:  match,
		log:    log,
		frames: frames,
		views:  make([][]float32, format.Channels),
	}
}

func (s *stream) category() errors.ErrorCategory {
	if s.typ == malgo.Capture {
		return errors.CategoryAudioSource
	}
	return errors.CategoryAudioSink
}

// open initializes the context and device. data receives the raw
// callback buffers.
func (s *stream) open(data malgo.DataProc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev != nil {
		return errors.Newf("device %q already started", s.name).
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return errors.New(err).
			Component("pipeline").
			Category(s.category()).
			Context("operation", "init_context").
			Build()
	}

	found, err := s.findDevice(mctx)
	if err != nil {
		freeContext(mctx)
		return err
	}

	cfg := malgo.DefaultDeviceConfig(s.typ)
	cfg.SampleRate = uint32(s.format.SampleRate)
	cfg.PeriodSizeInFrames = uint32(s.format.FrameSize)
	cfg.Alsa.NoMMap = 1
	sub := &cfg.Playback
	if s.typ == malgo.Capture {
		sub = &cfg.Capture
	}
	sub.Format = malgo.FormatF32
	sub.Channels = uint32(s.format.Channels)
	if found {
		sub.DeviceID = s.id.Pointer()
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: data,
		Stop: s.onStop,
	})
	if err != nil {
		freeContext(mctx)
		return errors.New(err).
			Component("pipeline").
			Category(s.category()).
			Context("device", s.name).
			Context("operation", "init_device").
			Build()
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(mctx)
		return errors.New(err).
			Component("pipeline").
			Category(s.category()).
			Context("device", s.name).
			Context("operation", "start_device").
			Build()
	}

	s.mctx, s.dev = mctx, dev
	s.log.Info("audio device started",
		logger.String("device", s.name),
		logger.String("direction", directionName(s.typ)),
		logger.Int("sample_rate", int(dev.SampleRate())),
		logger.Int("channels", s.format.Channels))
	return nil
}

// findDevice stores the matching endpoint id. found is false when the
// default device should be used.
func (s *stream) findDevice(mctx *malgo.AllocatedContext) (found bool, err error) {
	infos, err := mctx.Devices(s.typ)
	if err != nil {
		return false, errors.New(err).
			Component("pipeline").
			Category(s.category()).
			Context("operation", "enumerate_devices").
			Build()
	}
	for i := range infos {
		if s.match(infos[i].Name(), malgodev.DeviceUID(infos[i].ID.String())) {
			s.id = infos[i].ID
			return true, nil
		}
	}
	if s.typ == malgo.Playback {
		return false, errors.Newf("playback device %q not found", s.name).
			Component("pipeline").
			Category(errors.CategoryNotFound).
			Build()
	}
	return false, nil
}

func (s *stream) onStop() {
	s.log.Debug("audio device stopped", logger.String("device", s.name))
}

func (s *stream) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil
	}
	err := s.dev.Stop()
	s.dev.Uninit()
	freeContext(s.mctx)
	s.dev, s.mctx = nil, nil
	if err != nil {
		return errors.New(err).
			Component("pipeline").
			Category(s.category()).
			Context("device", s.name).
			Context("operation", "stop_device").
			Build()
	}
	return nil
}

// block returns views of the scratch frames sized to n. It only
// allocates if a device delivers more than a period.
func (s *stream) block(n int) [][]float32 {
	if n > len(s.frames[0]) {
		for ch := range s.frames {
			s.frames[ch] = make([]float32, n)
		}
	}
	for ch := range s.frames {
		s.views[ch] = s.frames[ch][:n]
	}
	return s.views
}

func freeContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

func directionName(typ malgo.DeviceType) string {
	if typ == malgo.Capture {
		return "capture"
	}
	return "playback"
}

// Source captures float32 blocks from a capture endpoint.
type Source struct {
	*stream
	sampleTime int64
}

// Name implements pipeline.Source.
func (s *Source) Name() string {
	if s.name == "" {
		return "default capture"
	}
	return s.name
}

// Format implements pipeline.Source.
func (s *Source) Format() pipeline.Format { return s.format }

// Start implements pipeline.Source.
func (s *Source) Start(_ context.Context, render pipeline.RenderFunc) error {
	s.sampleTime = 0
	return s.open(func(_, input []byte, frameCount uint32) {
		n := int(frameCount)
		frames := s.block(n)
		decodeF32(frames, input, n)
		render(frames, s.sampleTime)
		s.sampleTime += int64(n)
	})
}

// Stop implements pipeline.Source.
func (s *Source) Stop() error { return s.close() }

// Sink plays float32 blocks on a playback endpoint.
type Sink struct {
	*stream
}

// Name implements pipeline.Sink.
func (s *Sink) Name() string { return s.name }

// Format implements pipeline.Sink.
func (s *Sink) Format() pipeline.Format { return s.format }

// Start implements pipeline.Sink.
func (s *Sink) Start(_ context.Context, pull pipeline.PullFunc) error {
	return s.open(func(output, _ []byte, frameCount uint32) {
		n := int(frameCount)
		frames := s.block(n)
		pull(frames)
		encodeF32(output, frames, n)
	})
}

// Stop implements pipeline.Sink.
func (s *Sink) Stop() error { return s.close() }

// decodeF32 deinterleaves n little-endian float32 frames from raw.
func decodeF32(dst [][]float32, raw []byte, n int) {
	channels := len(dst)
	n = min(n, len(raw)/(bytesPerSample*channels))
	for i := range n {
		for ch := range channels {
			off := (i*channels + ch) * bytesPerSample
			dst[ch][i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
		}
	}
}

// encodeF32 interleaves n frames into raw as little-endian float32.
func encodeF32(raw []byte, src [][]float32, n int) {
	channels := len(src)
	n = min(n, len(raw)/(bytesPerSample*channels))
	for i := range n {
		for ch := range channels {
			off := (i*channels + ch) * bytesPerSample
			binary.LittleEndian.PutUint32(raw[off:], math.Float32bits(src[ch][i]))
		}
	}
}
