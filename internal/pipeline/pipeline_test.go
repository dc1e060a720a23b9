package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/eqroute/internal/equalizer"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/ringbuffer"
	"github.com/tphakala/eqroute/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testFormat = Format{SampleRate: 48000, Channels: 2, FrameSize: 4}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(nil, logger.LogLevelError, nil)
}

// manualSource renders only when the test calls emit.
type manualSource struct {
	mu     sync.Mutex
	render RenderFunc
}

func (s *manualSource) Name() string   { return "manual" }
func (s *manualSource) Format() Format { return testFormat }

func (s *manualSource) Start(_ context.Context, render RenderFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.render = render
	return nil
}

func (s *manualSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.render = nil
	return nil
}

func (s *manualSource) emit(frames [][]float32, sampleTime int64) bool {
	s.mu.Lock()
	render := s.render
	s.mu.Unlock()
	if render == nil {
		return false
	}
	render(frames, sampleTime)
	return true
}

// manualSink plays only when the test calls play.
type manualSink struct {
	mu   sync.Mutex
	pull PullFunc
}

func (s *manualSink) Name() string   { return "manual" }
func (s *manualSink) Format() Format { return testFormat }

func (s *manualSink) Start(_ context.Context, pull PullFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pull = pull
	return nil
}

func (s *manualSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pull = nil
	return nil
}

func (s *manualSink) play(n int) [][]float32 {
	dst := makeFrames(testFormat.Channels, n)
	s.mu.Lock()
	pull := s.pull
	s.mu.Unlock()
	if pull != nil {
		pull(dst)
	}
	return dst
}

func block(start float32, n int) [][]float32 {
	frames := makeFrames(testFormat.Channels, n)
	for i := range n {
		frames[0][i] = start + float32(i)/100
		frames[1][i] = -(start + float32(i)/100)
	}
	return frames
}

func newBuffer(t *testing.T) *ringbuffer.Buffer {
	t.Helper()
	buf, err := ringbuffer.New(testFormat.Channels, 64)
	require.NoError(t, err)
	return buf
}

func TestEngineRenderHook(t *testing.T) {
	src := &manualSource{}
	buf := newBuffer(t)
	engine, err := NewEngine(EngineConfig{Source: src, Buffer: buf, Logger: quietLogger()})
	require.NoError(t, err)

	_, ok := engine.LastSampleTime()
	assert.False(t, ok)

	require.NoError(t, engine.Start(context.Background()))
	require.Error(t, engine.Start(context.Background()), "an engine starts once")

	frames := block(0.1, 4)
	require.True(t, src.emit(frames, 1000))

	end, ok := engine.LastSampleTime()
	require.True(t, ok)
	assert.Equal(t, int64(1004), end)
	assert.Equal(t, []float32{0, 0, 0, 0}, frames[0], "the graph's own sink is muted")

	got := makeFrames(2, 4)
	assert.Equal(t, ringbuffer.StatusOK, buf.ReadAt(got, 1000, 1004))
	assert.InDelta(t, 0.1, got[0][0], 1e-6)
	assert.InDelta(t, -0.13, got[1][3], 1e-6)

	require.NoError(t, engine.Stop())
	require.NoError(t, engine.Stop())
	assert.False(t, src.emit(block(0, 4), 1004))
	assert.Equal(t, uint64(1), engine.Stats().Blocks)
}

func TestEngineDetachedHookIsNoop(t *testing.T) {
	src := &manualSource{}
	buf := newBuffer(t)
	engine, err := NewEngine(EngineConfig{Source: src, Buffer: buf, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))

	// A block racing teardown arrives after detach but before the source stops.
	engine.attached.Store(false)
	engine.render(block(0.5, 4), 0)

	_, _, ok := buf.Bounds()
	assert.False(t, ok)
	assert.Zero(t, engine.Stats().Blocks)
	require.NoError(t, engine.Stop())
}

func TestEngineAppliesEffects(t *testing.T) {
	src := &manualSource{}
	buf := newBuffer(t)
	effects := equalizer.NewProcessor()
	chain := equalizer.NewFilterChain(2)
	chain.SetPreamp(-6.0206) // half amplitude
	effects.Swap(chain)

	engine, err := NewEngine(EngineConfig{Source: src, Effects: effects, Buffer: buf, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	defer func() { _ = engine.Stop() }()

	src.emit(block(0.4, 4), 0)
	got := makeFrames(2, 4)
	buf.ReadAt(got, 0, 4)
	assert.InDelta(t, 0.2, got[0][0], 1e-3)
}

func TestEngineRejectsMismatchedBuffer(t *testing.T) {
	buf, err := ringbuffer.New(1, 16)
	require.NoError(t, err)
	_, err = NewEngine(EngineConfig{Source: &manualSource{}, Buffer: buf})
	require.Error(t, err)

	_, err = NewEngine(EngineConfig{})
	require.Error(t, err)
}

func TestOutputReadsInOrderAndZeroFillsUnderrun(t *testing.T) {
	src := &manualSource{}
	sink := &manualSink{}
	buf := newBuffer(t)

	engine, err := NewEngine(EngineConfig{Source: src, Buffer: buf, Logger: quietLogger()})
	require.NoError(t, err)
	out, err := NewOutput(OutputConfig{Sink: sink, Buffer: buf, Volume: state.Volume{Gain: 1}, Logger: quietLogger()})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, engine.Start(ctx))
	require.NoError(t, out.Start(ctx))

	// Nothing written yet.
	silent := sink.play(4)
	assert.Equal(t, []float32{0, 0, 0, 0}, silent[0])
	assert.Equal(t, uint64(1), out.Stats().Underruns)

	src.emit(block(0.1, 4), 100)
	src.emit(block(0.2, 4), 104)

	first := sink.play(4)
	assert.InDelta(t, 0.1, first[0][0], 1e-6)
	assert.InDelta(t, 0.13, first[0][3], 1e-6)

	// Four frames remain, six requested: the tail is silence.
	partial := sink.play(6)
	assert.InDelta(t, 0.2, partial[0][0], 1e-6)
	assert.Equal(t, []float32{0, 0}, partial[0][4:])
	assert.Equal(t, uint64(2), out.Stats().Underruns)
	assert.Equal(t, uint64(14), out.Stats().Frames)

	require.NoError(t, out.Stop())
	require.NoError(t, engine.Stop())
}

func TestGainsFor(t *testing.T) {
	tests := []struct {
		name        string
		volume      state.Volume
		left, right float32
	}{
		{"unity", state.Volume{Gain: 1}, 1, 1},
		{"muted", state.Volume{Gain: 1, Muted: true}, 0, 0},
		{"half", state.Volume{Gain: 0.5}, 0.5, 0.5},
		{"full left", state.Volume{Gain: 1, Balance: -1}, 1, 0},
		{"quarter right", state.Volume{Gain: 1, Balance: 0.5}, 0.5, 1},
		{"boost disabled clamps", state.Volume{Gain: 1.5}, 1, 1},
		{"boost enabled", state.Volume{Gain: 1.5, BoostEnabled: true}, 1.5, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gainsFor(tt.volume)
			assert.InDelta(t, tt.left, g.left, 1e-6)
			assert.InDelta(t, tt.right, g.right, 1e-6)
		})
	}
}

func TestOutputAppliesVolume(t *testing.T) {
	src := &manualSource{}
	sink := &manualSink{}
	buf := newBuffer(t)
	engine, err := NewEngine(EngineConfig{Source: src, Buffer: buf, Logger: quietLogger()})
	require.NoError(t, err)
	out, err := NewOutput(OutputConfig{Sink: sink, Buffer: buf, Volume: state.Volume{Gain: 0.5}, Logger: quietLogger()})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, engine.Start(ctx))
	require.NoError(t, out.Start(ctx))
	defer func() {
		_ = out.Stop()
		_ = engine.Stop()
	}()

	src.emit(block(0.4, 4), 0)
	got := sink.play(4)
	assert.InDelta(t, 0.2, got[0][0], 1e-6)
	assert.InDelta(t, -0.2, got[1][0], 1e-6)

	out.SetVolume(state.Volume{Gain: 1, Muted: true})
	src.emit(block(0.4, 4), 4)
	got = sink.play(4)
	assert.Equal(t, []float32{0, 0, 0, 0}, got[0])
}

func TestRecorderWritesWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec", "out.wav")
	rec, err := NewRecorder(RecorderConfig{Path: path, SampleRate: 48000, Channels: 2, Logger: quietLogger()})
	require.NoError(t, err)
	rec.Start(context.Background())

	for i := range 10 {
		rec.Tap(block(float32(i)/20, 4), 4)
	}
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())
	assert.Equal(t, uint64(40), rec.Written())
	assert.Zero(t, rec.Dropped())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	pcm, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 2, pcm.Format.NumChannels)
	assert.Len(t, pcm.Data, 80)
	assert.Equal(t, int(FloatToInt16(0.01)), pcm.Data[2])
}

func TestRecorderSplitsLargeBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "split.wav")
	rec, err := NewRecorder(RecorderConfig{Path: path, SampleRate: 8000, Channels: 2, FrameSize: 3, Logger: quietLogger()})
	require.NoError(t, err)
	assert.Len(t, rec.scratch, 3*4, "scratch is sized up front")
	rec.Start(context.Background())

	src := block(0.25, 10)
	rec.Tap(src, 10)
	require.NoError(t, rec.Close())
	assert.Equal(t, uint64(10), rec.Written())
	assert.Zero(t, rec.Dropped())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	pcm, err := wav.NewDecoder(f).FullPCMBuffer()
	require.NoError(t, err)
	require.Len(t, pcm.Data, 20)
	for i := range 10 {
		assert.Equal(t, int(FloatToInt16(src[0][i])), pcm.Data[2*i], "frame %d", i)
		assert.Equal(t, int(FloatToInt16(src[1][i])), pcm.Data[2*i+1], "frame %d", i)
	}
}

func TestDeinterleaveRoundTrip(t *testing.T) {
	src := []float32{1, -1, 2, -2, 3, -3}
	frames := makeFrames(2, 3)
	assert.Equal(t, 3, Deinterleave(frames, src))
	assert.Equal(t, []float32{1, 2, 3}, frames[0])

	back := make([]float32, 6)
	Interleave(back, frames, 3)
	assert.Equal(t, src, back)
}

func TestFloatToInt16Clips(t *testing.T) {
	assert.Equal(t, int16(32767), FloatToInt16(1.5))
	assert.Equal(t, int16(-32768), FloatToInt16(-2))
	assert.Equal(t, int16(0), FloatToInt16(0))
}
