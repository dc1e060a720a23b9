package equalizer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/state"
)

var (
	preampPattern = regexp.MustCompile(`[Pp]reamp:\s*([-+]?\d+\.?\d*)\s*dB`)
	filterPattern = regexp.MustCompile(`Filter\s+\d+:\s+(ON|OFF)\s+(PK|LSC|HSC|LS|HS)\s+Fc\s+([\d.]+)\s+Hz\s+Gain\s+([-+]?\d+\.?\d*)\s+dB\s+Q\s+([\d.]+)`)
)

// ParseAutoEQ parses an AutoEQ "ParametricEQ.txt" file:
//
//	Preamp: -6.2 dB
//	Filter 1: ON LSC Fc 105 Hz Gain 5.8 dB Q 0.70
//	Filter 2: ON PK Fc 180 Hz Gain -3.1 dB Q 0.91
//	...
//
// Lines that do not match the filter pattern are skipped. Gains are clamped
// to ±24 dB. The returned preset has no id.
func ParseAutoEQ(content, name string) (Preset, error) {
	var lines []string
	for line := range strings.Lines(content) {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return Preset{}, parseError("File is empty")
	}

	var preamp float64
	for _, line := range lines {
		if strings.HasPrefix(strings.ToLower(line), "preamp:") {
			if m := preampPattern.FindStringSubmatch(line); m != nil {
				preamp, _ = strconv.ParseFloat(m[1], 64)
			}
			break
		}
	}

	var filters []ParametricFilter
	for _, line := range lines {
		if !strings.HasPrefix(strings.ToLower(line), "filter") {
			continue
		}
		if f, ok := parseAutoEQFilter(line); ok {
			filters = append(filters, f)
		}
	}
	if len(filters) != ParametricBands {
		return Preset{}, parseError(fmt.Sprintf(
			"Expected exactly 10 filters, found %d. AutoEQ parametric presets must have 10 bands.", len(filters)))
	}

	return Preset{
		Name:    name,
		Mode:    state.EqualizerParametric,
		Global:  preamp,
		Filters: filters,
	}, nil
}

func parseAutoEQFilter(line string) (ParametricFilter, bool) {
	m := filterPattern.FindStringSubmatch(line)
	if m == nil {
		return ParametricFilter{}, false
	}
	typ, ok := ParseFilterType(m[2])
	if !ok {
		return ParametricFilter{}, false
	}
	freq, err1 := strconv.ParseFloat(m[3], 64)
	gain, err2 := strconv.ParseFloat(m[4], 64)
	q, err3 := strconv.ParseFloat(m[5], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return ParametricFilter{}, false
	}
	return ParametricFilter{
		Enabled:   m[1] == "ON",
		Type:      typ,
		Frequency: freq,
		Gain:      max(-MaxGain, min(MaxGain, gain)),
		Q:         q,
	}, true
}

func parseError(msg string) error {
	return errors.New(errors.NewStd(msg)).
		Component("equalizer").
		Category(errors.CategoryFileParsing).
		Build()
}

// parametricJSON is the exchange format of parametric presets.
type parametricJSON struct {
	ID      string           `json:"id,omitempty"`
	Name    *string          `json:"name"`
	Preamp  *float64         `json:"preamp"`
	Filters []map[string]any `json:"filters"`
}

// JSONImport is the result of DecodeParametricJSON.
type JSONImport struct {
	// Presets are new presets to create.
	Presets []Preset
	// Manual replaces the manual preset when the file carries one.
	Manual *Preset
	// Skipped counts entries without a name, a preamp or 10 valid filters.
	Skipped int
}

// DecodeParametricJSON reads an array of parametric presets. A filter is
// valid when every field is present, the type is PK, LSC or HSC and the
// gain is within ±24 dB.
func DecodeParametricJSON(data []byte) (JSONImport, error) {
	var raw []parametricJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return JSONImport{}, errors.New(err).
			Component("equalizer").
			Category(errors.CategoryFileParsing).
			Context("operation", "decode_presets_json").
			Build()
	}

	var out JSONImport
	for _, entry := range raw {
		if entry.Name == nil || entry.Preamp == nil {
			out.Skipped++
			continue
		}
		filters := make([]ParametricFilter, 0, len(entry.Filters))
		for _, f := range entry.Filters {
			if pf, ok := decodeJSONFilter(f); ok {
				filters = append(filters, pf)
			}
		}
		if len(filters) != ParametricBands {
			out.Skipped++
			continue
		}
		p := Preset{
			ID:      entry.ID,
			Name:    *entry.Name,
			Mode:    state.EqualizerParametric,
			Global:  *entry.Preamp,
			Filters: filters,
		}
		if entry.ID == ManualPresetID {
			out.Manual = &p
			continue
		}
		p.ID = ""
		out.Presets = append(out.Presets, p)
	}
	return out, nil
}

func decodeJSONFilter(m map[string]any) (ParametricFilter, bool) {
	enabled, ok1 := m["enabled"].(bool)
	typ, ok2 := m["type"].(string)
	freq, ok3 := m["frequency"].(float64)
	gain, ok4 := m["gain"].(float64)
	q, ok5 := m["q"].(float64)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return ParametricFilter{}, false
	}
	switch FilterType(typ) {
	case FilterPeaking, FilterLowShelf, FilterHighShelf:
	default:
		return ParametricFilter{}, false
	}
	if gain < -MaxGain || gain > MaxGain {
		return ParametricFilter{}, false
	}
	return ParametricFilter{Enabled: enabled, Type: FilterType(typ), Frequency: freq, Gain: gain, Q: q}, true
}

// EncodeParametricJSON writes presets in the exchange format.
func EncodeParametricJSON(presets []Preset) ([]byte, error) {
	type presetJSON struct {
		ID      string             `json:"id"`
		Name    string             `json:"name"`
		Preamp  float64            `json:"preamp"`
		Filters []ParametricFilter `json:"filters"`
	}
	out := make([]presetJSON, 0, len(presets))
	for _, p := range presets {
		if p.Mode != state.EqualizerParametric {
			continue
		}
		out = append(out, presetJSON{ID: p.ID, Name: p.Name, Preamp: p.Global, Filters: p.Filters})
	}
	return json.MarshalIndent(out, "", "  ")
}

// ImportParametricJSON decodes data and stores its presets in lib. It
// returns how many presets were imported.
func ImportParametricJSON(lib *Library, data []byte) (int, error) {
	decoded, err := DecodeParametricJSON(data)
	if err != nil {
		return 0, err
	}
	imported := 0
	if decoded.Manual != nil {
		if err := lib.Update(*decoded.Manual); err != nil {
			return imported, err
		}
		imported++
	}
	for _, p := range decoded.Presets {
		if _, err := lib.Create(p); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
