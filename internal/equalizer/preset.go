package equalizer

import (
	"fmt"
	"slices"

	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/state"
)

// Built-in preset ids shared by every mode.
const (
	FlatPresetID   = state.FlatPresetID
	ManualPresetID = "manual"
)

// Band counts per mode.
const (
	BasicBands      = 3
	AdvancedBands   = 10
	ParametricBands = 10
)

// MaxGain bounds band gains in dB.
const MaxGain = 24.0

// Basic band layout.
const (
	BassFrequency   = 100.0
	MidFrequency    = 1000.0
	TrebleFrequency = 8000.0

	shelfQ      = 0.707
	midWidth    = 2.0
	graphicBand = 1.0
)

// BandFrequencies are the centre frequencies of the advanced equalizer and
// the default parametric filter positions.
var BandFrequencies = [10]float64{32, 64, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}

// FilterType is a parametric filter response.
type FilterType string

const (
	FilterPeaking   FilterType = "PK"
	FilterLowShelf  FilterType = "LSC"
	FilterHighShelf FilterType = "HSC"
)

// ParseFilterType accepts the AutoEQ aliases LS and HS.
func ParseFilterType(s string) (FilterType, bool) {
	switch s {
	case "PK":
		return FilterPeaking, true
	case "LSC", "LS":
		return FilterLowShelf, true
	case "HSC", "HS":
		return FilterHighShelf, true
	}
	return "", false
}

// ParametricFilter is one band of a parametric preset.
type ParametricFilter struct {
	Enabled   bool       `json:"enabled"`
	Type      FilterType `json:"type"`
	Frequency float64    `json:"frequency"`
	Gain      float64    `json:"gain"`
	Q         float64    `json:"q"`
}

// Preset is an equalizer configuration for one mode. Gains holds the band
// gains of Basic (bass, mid, treble) and Advanced presets; Global is the
// advanced global gain or the parametric preamp, in dB.
type Preset struct {
	ID      string              `json:"id"`
	Name    string              `json:"name"`
	Mode    state.EqualizerType `json:"mode"`
	BuiltIn bool                `json:"isDefault"`
	Gains   []float64           `json:"gains,omitempty"`
	Global  float64             `json:"global"`
	Filters []ParametricFilter  `json:"filters,omitempty"`
}

// FlatParametricFilters returns peaking filters with zero gain at the
// default band frequencies.
func FlatParametricFilters() []ParametricFilter {
	out := make([]ParametricFilter, 0, ParametricBands)
	for _, f := range BandFrequencies {
		out = append(out, ParametricFilter{Enabled: true, Type: FilterPeaking, Frequency: f, Q: 1})
	}
	return out
}

// FlatPreset returns the flat built-in for mode.
func FlatPreset(mode state.EqualizerType) Preset {
	return builtIn(mode, FlatPresetID, "Flat")
}

// ManualPreset returns the default manual preset for mode.
func ManualPreset(mode state.EqualizerType) Preset {
	return builtIn(mode, ManualPresetID, "Manual")
}

func builtIn(mode state.EqualizerType, id, name string) Preset {
	p := Preset{ID: id, Name: name, Mode: mode, BuiltIn: true}
	switch mode {
	case state.EqualizerBasic:
		p.Gains = make([]float64, BasicBands)
	case state.EqualizerAdvanced:
		p.Gains = make([]float64, AdvancedBands)
	case state.EqualizerParametric:
		p.Filters = FlatParametricFilters()
	}
	return p
}

// Validate checks the band layout and gain ranges for the preset's mode.
func (p Preset) Validate() error {
	var problems []string
	if p.Name == "" {
		problems = append(problems, "name is required")
	}
	checkGain := func(what string, g float64) {
		if g < -MaxGain || g > MaxGain {
			problems = append(problems, fmt.Sprintf("%s gain %.1f dB outside ±%.0f dB", what, g, MaxGain))
		}
	}

	switch p.Mode {
	case state.EqualizerBasic:
		if len(p.Gains) != BasicBands {
			problems = append(problems, fmt.Sprintf("basic presets need %d gains, got %d", BasicBands, len(p.Gains)))
		}
		for i, g := range p.Gains {
			checkGain(fmt.Sprintf("band %d", i+1), g)
		}
	case state.EqualizerAdvanced:
		if len(p.Gains) != AdvancedBands {
			problems = append(problems, fmt.Sprintf("advanced presets need %d gains, got %d", AdvancedBands, len(p.Gains)))
		}
		for i, g := range p.Gains {
			checkGain(fmt.Sprintf("band %d", i+1), g)
		}
		checkGain("global", p.Global)
	case state.EqualizerParametric:
		if len(p.Filters) != ParametricBands {
			problems = append(problems, fmt.Sprintf("parametric presets need %d filters, got %d", ParametricBands, len(p.Filters)))
		}
		for i, f := range p.Filters {
			if _, ok := ParseFilterType(string(f.Type)); !ok {
				problems = append(problems, fmt.Sprintf("filter %d has unknown type %q", i+1, f.Type))
			}
			if f.Frequency <= 0 {
				problems = append(problems, fmt.Sprintf("filter %d frequency must be positive", i+1))
			}
			if f.Q <= 0 {
				problems = append(problems, fmt.Sprintf("filter %d q must be positive", i+1))
			}
			checkGain(fmt.Sprintf("filter %d", i+1), f.Gain)
		}
		checkGain("preamp", p.Global)
	default:
		problems = append(problems, fmt.Sprintf("unknown equalizer mode %q", p.Mode))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Newf("invalid %s preset %q: %v", p.Mode, p.Name, problems).
		Component("equalizer").
		Category(errors.CategoryValidation).
		Context("preset_id", p.ID).
		Build()
}

// Clone returns a deep copy.
func (p Preset) Clone() Preset {
	p.Gains = slices.Clone(p.Gains)
	p.Filters = slices.Clone(p.Filters)
	return p
}

// BuildChain builds the filter chain for p. Bands with zero gain are
// identity filters and are left out. Frequencies above 0.45 of the sample
// rate are pulled down to keep the biquads stable.
func BuildChain(p Preset, sampleRate float64, channels int) (*FilterChain, error) {
	chain := NewFilterChain(channels)
	limit := sampleRate * 0.45
	add := func(f *Filter, err error) error {
		if err != nil {
			return err
		}
		return chain.AddFilter(f)
	}

	switch p.Mode {
	case state.EqualizerBasic:
		gains := padGains(p.Gains, BasicBands)
		if gains[0] != 0 {
			if err := add(NewLowShelf(sampleRate, min(BassFrequency, limit), shelfQ, gains[0], channels)); err != nil {
				return nil, err
			}
		}
		if gains[1] != 0 {
			if err := add(NewPeaking(sampleRate, min(MidFrequency, limit), midWidth, gains[1], channels)); err != nil {
				return nil, err
			}
		}
		if gains[2] != 0 {
			if err := add(NewHighShelf(sampleRate, min(TrebleFrequency, limit), shelfQ, gains[2], channels)); err != nil {
				return nil, err
			}
		}

	case state.EqualizerAdvanced:
		chain.SetPreamp(p.Global)
		for i, g := range padGains(p.Gains, AdvancedBands) {
			if g == 0 {
				continue
			}
			if err := add(NewPeaking(sampleRate, min(BandFrequencies[i], limit), graphicBand, g, channels)); err != nil {
				return nil, err
			}
		}

	case state.EqualizerParametric:
		chain.SetPreamp(p.Global)
		for _, f := range p.Filters {
			if !f.Enabled || f.Gain == 0 {
				continue
			}
			freq := min(f.Frequency, limit)
			var err error
			switch f.Type {
			case FilterLowShelf:
				err = add(NewLowShelf(sampleRate, freq, f.Q, f.Gain, channels))
			case FilterHighShelf:
				err = add(NewHighShelf(sampleRate, freq, f.Q, f.Gain, channels))
			default:
				err = add(NewPeaking(sampleRate, freq, BandwidthFromQ(f.Q), f.Gain, channels))
			}
			if err != nil {
				return nil, err
			}
		}

	default:
		return nil, errors.Newf("unknown equalizer mode %q", p.Mode).
			Component("equalizer").
			Category(errors.CategoryValidation).
			Build()
	}
	return chain, nil
}

func padGains(gains []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, gains)
	return out
}
