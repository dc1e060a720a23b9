package wavfile

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/eqroute/internal/equalizer"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testRate = 48000

// writeTone writes a stereo 16-bit file: a 1 kHz sine on the left and its
// inverse on the right.
func writeTone(t *testing.T, path string, frames int) []int {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	data := make([]int, frames*2)
	for i := range frames {
		v := int(math.Round(0.5 * 32767 * math.Sin(2*math.Pi*1000*float64(i)/testRate)))
		data[2*i] = v
		data[2*i+1] = -v
	}
	enc := wav.NewEncoder(f, testRate, 16, 2, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:   data,
		Format: &audio.Format{SampleRate: testRate, NumChannels: 2},
	}))
	require.NoError(t, enc.Close())
	return data
}

func readPCM(t *testing.T, path string) *audio.IntBuffer {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	return buf
}

func TestRenderFlatIsTransparent(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out", "flat.wav")
	// Not a multiple of the frame size, so the last block is partial.
	want := writeTone(t, in, 1000)

	res, err := Render(context.Background(), RenderConfig{
		Input:     in,
		Output:    out,
		FrameSize: 128,
		Volume:    state.Volume{Gain: 1},
		Logger:    logger.NewSlogLogger(nil, logger.LogLevelError, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Frames)
	assert.Zero(t, res.Underruns)
	assert.InDelta(t, testRate, res.Format.SampleRate, 0)

	got := readPCM(t, out)
	require.Len(t, got.Data, len(want))
	for i := range want {
		require.InDelta(t, want[i], got.Data[i], 1, "sample %d", i)
	}
}

func TestRenderAppliesPresetAndVolume(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	want := writeTone(t, in, 4800)

	preset := equalizer.FlatPreset(state.EqualizerBasic)
	preset.Gains = []float64{0, -12, 0}
	quiet := filepath.Join(dir, "quiet.wav")
	_, err := Render(context.Background(), RenderConfig{
		Input:  in,
		Output: quiet,
		Preset: preset,
		Volume: state.Volume{Gain: 1},
		Logger: logger.NewSlogLogger(nil, logger.LogLevelError, nil),
	})
	require.NoError(t, err)

	peak := func(data []int) int {
		p := 0
		for _, v := range data[len(data)/2:] {
			p = max(p, v, -v)
		}
		return p
	}
	got := readPCM(t, quiet)
	assert.Less(t, peak(got.Data), peak(want)/2, "a mid cut attenuates the 1 kHz tone")

	muted := filepath.Join(dir, "muted.wav")
	_, err = Render(context.Background(), RenderConfig{
		Input:  in,
		Output: muted,
		Volume: state.Volume{Gain: 1, Muted: true},
		Logger: logger.NewSlogLogger(nil, logger.LogLevelError, nil),
	})
	require.NoError(t, err)
	assert.Zero(t, peak(readPCM(t, muted).Data))
}

func TestOpenSourceRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not RIFF"), 0o600))

	_, err := OpenSource(path, 0)
	require.Error(t, err)

	_, err = OpenSource(filepath.Join(t.TempDir(), "missing.wav"), 0)
	require.Error(t, err)
}
