package equalizer

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/state"
)

// memoryStore is an in-memory PresetStore.
type memoryStore struct {
	mu      sync.Mutex
	presets map[string]Preset
}

func newMemoryStore() *memoryStore {
	return &memoryStore{presets: make(map[string]Preset)}
}

func (m *memoryStore) Presets(mode state.EqualizerType) ([]Preset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Preset
	for _, p := range m.presets {
		if p.Mode == mode {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (m *memoryStore) SavePreset(p Preset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presets[string(p.Mode)+"/"+p.ID] = p.Clone()
	return nil
}

func (m *memoryStore) DeletePreset(mode state.EqualizerType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.presets, string(mode)+"/"+id)
	return nil
}

// sine renders n samples of a unit sine at freq.
func sine(freq, rate float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / rate))
	}
	return out
}

func peak(samples []float32) float64 {
	var m float64
	for _, s := range samples {
		m = max(m, math.Abs(float64(s)))
	}
	return m
}

func TestFilterZeroGainIsIdentity(t *testing.T) {
	f, err := NewPeaking(48000, 1000, 1, 0, 1)
	require.NoError(t, err)

	in := sine(440, 48000, 256)
	out := slices.Clone(in)
	f.Process(0, out)
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1e-6)
	}
}

func TestPeakingBoostsCentreFrequency(t *testing.T) {
	f, err := NewPeaking(48000, 1000, 1, 12, 1)
	require.NoError(t, err)

	samples := sine(1000, 48000, 48000)
	f.Process(0, samples)

	// Skip the transient, then expect roughly +12 dB.
	assert.InDelta(t, DecibelsToLinear(12), peak(samples[24000:]), 0.1)
}

func TestLowShelfPassesDCWithGain(t *testing.T) {
	f, err := NewLowShelf(48000, 100, 0.707, 6, 1)
	require.NoError(t, err)

	samples := make([]float32, 4800)
	for i := range samples {
		samples[i] = 0.25
	}
	f.Process(0, samples)
	assert.InDelta(t, 0.25*DecibelsToLinear(6), float64(samples[len(samples)-1]), 0.01)
}

func TestFilterChannelStateIsIndependent(t *testing.T) {
	f, err := NewHighShelf(48000, 8000, 0.707, -6, 2)
	require.NoError(t, err)

	left := sine(10000, 48000, 512)
	right := slices.Clone(left)
	f.Process(0, left)
	f.Process(1, right)
	assert.Equal(t, left, right)

	// A third channel passes through untouched.
	extra := sine(10000, 48000, 16)
	want := slices.Clone(extra)
	f.Process(2, extra)
	assert.Equal(t, want, extra)
}

func TestFilterParameterValidation(t *testing.T) {
	_, err := NewPeaking(48000, 30000, 1, 3, 2)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = NewLowShelf(0, 100, 0.7, 3, 2)
	require.Error(t, err)
	_, err = NewHighShelf(48000, 8000, 0, 3, 2)
	require.Error(t, err)
	_, err = NewPeaking(48000, 1000, 1, 3, 0)
	require.Error(t, err)
}

func TestBandwidthFromQ(t *testing.T) {
	assert.InDelta(t, math.Log2((math.Sqrt(5)+1)/2), BandwidthFromQ(1), 1e-12)
	assert.InDelta(t, 0.5, BandwidthFromQ(0), 0)
	assert.Greater(t, BandwidthFromQ(0.5), BandwidthFromQ(2))
}

func TestProcessorSwap(t *testing.T) {
	p := NewProcessor()
	buf := [][]float32{{0.5, 0.5}, {0.5, 0.5}}
	p.Process(buf)
	assert.Equal(t, [][]float32{{0.5, 0.5}, {0.5, 0.5}}, buf, "no chain is passthrough")

	chain := NewFilterChain(2)
	chain.SetPreamp(-6)
	assert.Nil(t, p.Swap(chain))
	p.Process(buf)
	assert.InDelta(t, 0.5*DecibelsToLinear(-6), float64(buf[0][0]), 1e-6)
	assert.Same(t, chain, p.Chain())

	require.Error(t, chain.AddFilter(nil))
	require.Error(t, chain.AddFilter(&Filter{}))
}

func TestBuildChainSkipsIdentityBands(t *testing.T) {
	basic := FlatPreset(state.EqualizerBasic)
	chain, err := BuildChain(basic, 48000, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, chain.Length())

	basic.Gains = []float64{3, 0, -2}
	chain, err = BuildChain(basic, 48000, 2)
	require.NoError(t, err)
	require.Equal(t, 2, chain.Length())
	assert.Equal(t, LowShelf, chain.filters[0].Kind())
	assert.Equal(t, HighShelf, chain.filters[1].Kind())

	adv := FlatPreset(state.EqualizerAdvanced)
	adv.Gains[9] = 4 // 16 kHz, pulled below Nyquist at 22.05 kHz
	chain, err = BuildChain(adv, 22050, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, chain.Length())

	par := FlatPreset(state.EqualizerParametric)
	par.Filters[0] = ParametricFilter{Enabled: true, Type: FilterLowShelf, Frequency: 105, Gain: 5.8, Q: 0.7}
	par.Filters[1] = ParametricFilter{Enabled: false, Type: FilterPeaking, Frequency: 180, Gain: -3, Q: 0.9}
	par.Filters[2] = ParametricFilter{Enabled: true, Type: FilterHighShelf, Frequency: 10000, Gain: 2, Q: 0.7}
	par.Global = -6
	chain, err = BuildChain(par, 48000, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, chain.Length())

	_, err = BuildChain(Preset{Mode: "Bogus"}, 48000, 2)
	require.Error(t, err)
}

func TestPresetValidate(t *testing.T) {
	for _, mode := range []state.EqualizerType{state.EqualizerBasic, state.EqualizerAdvanced, state.EqualizerParametric} {
		require.NoError(t, FlatPreset(mode).Validate(), mode)
	}

	p := FlatPreset(state.EqualizerBasic)
	p.Gains = []float64{30, 0}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need 3 gains")
	assert.Contains(t, err.Error(), "outside")

	par := FlatPreset(state.EqualizerParametric)
	par.Filters[4].Type = "BP"
	require.Error(t, par.Validate())
}

func TestLibraryListOrderAndBuiltIns(t *testing.T) {
	lib := NewLibrary(state.EqualizerBasic, newMemoryStore())

	var changes int
	lib.OnChange(func(state.EqualizerType) { changes++ })

	zeta, err := lib.Create(Preset{Name: "Zeta", Gains: []float64{1, 2, 3}})
	require.NoError(t, err)
	_, err = lib.Create(Preset{Name: "Alpha", Gains: []float64{0, 0, 1}})
	require.NoError(t, err)
	assert.Equal(t, 2, changes)
	assert.NotEmpty(t, zeta.ID)
	assert.False(t, zeta.BuiltIn)

	presets, err := lib.List()
	require.NoError(t, err)
	names := make([]string, 0, len(presets))
	for _, p := range presets {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Manual", "Flat", "Alpha", "Zeta"}, names)

	err = lib.Update(Preset{ID: FlatPresetID, Gains: []float64{1, 1, 1}})
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))
	err = lib.Delete(ManualPresetID)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	require.NoError(t, lib.Update(Preset{ID: ManualPresetID, Name: "ignored", Gains: []float64{2, 2, 2}}))
	manual, err := lib.Get(ManualPresetID)
	require.NoError(t, err)
	assert.Equal(t, "Manual", manual.Name)
	assert.True(t, manual.BuiltIn)
	assert.Equal(t, []float64{2, 2, 2}, manual.Gains)

	require.NoError(t, lib.Delete(zeta.ID))
	_, err = lib.Get(zeta.ID)
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(lib.Delete(zeta.ID)))

	_, err = lib.Create(Preset{Name: "Broken", Gains: []float64{1}})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestLibrariesSelectedFallsBackToFlat(t *testing.T) {
	libs := NewLibraries(newMemoryStore())
	eq := state.Default().Equalizers
	eq.Type = state.EqualizerParametric
	eq.ParametricPresetID = "gone"

	p, err := libs.Selected(eq)
	require.NoError(t, err)
	assert.Equal(t, FlatPresetID, p.ID)
	assert.Equal(t, state.EqualizerParametric, p.Mode)
	assert.Same(t, libs.Basic, libs.For("whatever"))
}

const autoEQSample = `Preamp: -6.2 dB
Filter 1: ON LSC Fc 105 Hz Gain 5.8 dB Q 0.70
Filter 2: ON PK Fc 180 Hz Gain -3.1 dB Q 0.91

Filter 3: ON PK Fc 1450 Hz Gain 30.0 dB Q 1.62
Filter 4: ON PK Fc 3200 Hz Gain -2.2 dB Q 2.76
Filter 5: OFF PK Fc 4800 Hz Gain 1.9 dB Q 3.51
Filter 6: ON PK Fc 6100 Hz Gain -4.4 dB Q 4.50
Filter 7: ON PK Fc 8000 Hz Gain 2.0 dB Q 2.00
Filter 8: ON PK Fc 10000 Hz Gain -1.0 dB Q 2.00
Filter 9: ON HS Fc 12000 Hz Gain -40.0 dB Q 0.70
Filter 10: ON PK Fc 15000 Hz Gain 1.0 dB Q 1.00
`

func TestParseAutoEQ(t *testing.T) {
	p, err := ParseAutoEQ(autoEQSample, "HD 650")
	require.NoError(t, err)
	assert.Equal(t, "HD 650", p.Name)
	assert.Equal(t, state.EqualizerParametric, p.Mode)
	assert.InDelta(t, -6.2, p.Global, 1e-9)
	require.Len(t, p.Filters, 10)

	assert.Equal(t, FilterLowShelf, p.Filters[0].Type)
	assert.InDelta(t, 24, p.Filters[2].Gain, 0, "clamped up")
	assert.False(t, p.Filters[4].Enabled)
	assert.Equal(t, FilterHighShelf, p.Filters[8].Type, "HS alias")
	assert.InDelta(t, -24, p.Filters[8].Gain, 0, "clamped down")
	require.NoError(t, p.Validate())
}

func TestParseAutoEQErrors(t *testing.T) {
	_, err := ParseAutoEQ("  \n\n\t\n", "x")
	require.Error(t, err)
	assert.Equal(t, "File is empty", err.Error())
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))

	lines := strings.Split(strings.TrimSpace(autoEQSample), "\n")
	_, err = ParseAutoEQ(strings.Join(lines[:6], "\n"), "x")
	require.Error(t, err)
	assert.Equal(t, "Expected exactly 10 filters, found 4. AutoEQ parametric presets must have 10 bands.", err.Error())

	p, err := ParseAutoEQ(strings.Join(lines[1:], "\n"), "no preamp")
	require.NoError(t, err)
	assert.InDelta(t, 0, p.Global, 0)
}

func jsonPreset(id, name string, filters int, badType bool) string {
	parts := make([]string, 0, filters)
	for i := range filters {
		typ := "PK"
		if badType && i == 0 {
			typ = "BP"
		}
		parts = append(parts, fmt.Sprintf(`{"enabled":true,"type":%q,"frequency":%d,"gain":1.5,"q":1}`, typ, 100*(i+1)))
	}
	idField := ""
	if id != "" {
		idField = fmt.Sprintf(`"id":%q,`, id)
	}
	return fmt.Sprintf(`{%s"name":%q,"preamp":-2,"filters":[%s]}`, idField, name, strings.Join(parts, ","))
}

func TestImportParametricJSON(t *testing.T) {
	lib := NewLibrary(state.EqualizerParametric, newMemoryStore())
	data := "[" + strings.Join([]string{
		jsonPreset("manual", "Manual", 10, false),
		jsonPreset("abc", "Imported", 10, false),
		jsonPreset("", "Nine", 9, false),
		jsonPreset("", "Bad type", 10, true),
		`{"filters":[]}`,
	}, ",") + "]"

	decoded, err := DecodeParametricJSON([]byte(data))
	require.NoError(t, err)
	assert.NotNil(t, decoded.Manual)
	assert.Len(t, decoded.Presets, 1)
	assert.Equal(t, 3, decoded.Skipped)

	n, err := ImportParametricJSON(lib, []byte(data))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	presets, err := lib.List()
	require.NoError(t, err)
	require.Len(t, presets, 3)
	assert.InDelta(t, -2, presets[0].Global, 0, "manual replaced")
	assert.NotEqual(t, "abc", presets[2].ID, "imports get fresh ids")

	out, err := EncodeParametricJSON(presets)
	require.NoError(t, err)
	again, err := DecodeParametricJSON(out)
	require.NoError(t, err)
	assert.Len(t, again.Presets, 2)
	assert.NotNil(t, again.Manual)

	_, err = DecodeParametricJSON([]byte("{not json"))
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
}
