package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/eqroute/internal/device"
)

func TestMatchSampleRate(t *testing.T) {
	tests := []struct {
		name      string
		supported []float64
		rate      float64
		want      float64
	}{
		{"nearest above", []float64{44100, 48000, 96000}, 47000, 48000},
		{"exact", []float64{44100, 48000, 96000}, 96000, 96000},
		{"below range", []float64{44100, 48000}, 8000, 44100},
		{"above range", []float64{44100, 48000}, 384000, 48000},
		{"tie goes to first listed", []float64{48000, 44000}, 46000, 48000},
		{"tie order reversed", []float64{44000, 48000}, 46000, 44000},
		{"empty list keeps rate", nil, 22050, 22050},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MatchSampleRate(tt.supported, tt.rate), 0)
		})
	}
}

func TestBalanceRemap(t *testing.T) {
	assert.InDelta(t, -1.0, BalanceFromDevice(0), 1e-9)
	assert.InDelta(t, 0.0, BalanceFromDevice(0.5), 1e-9)
	assert.InDelta(t, 1.0, BalanceFromDevice(1), 1e-9)
	assert.InDelta(t, 0.5, BalanceFromDevice(0.75), 1e-9)
	assert.InDelta(t, 1.0, BalanceFromDevice(3), 1e-9)

	for _, b := range []float64{-1, -0.3, 0, 0.6, 1} {
		assert.InDelta(t, b, BalanceFromDevice(BalanceToDevice(b)), 1e-9)
	}
}

func TestShadowName(t *testing.T) {
	assert.Equal(t, "Headphones (shadow)", ShadowName(device.AudioDevice{Name: "Built-in Output", SourceName: "Headphones"}, " (shadow)"))
	assert.Equal(t, "USB DAC (shadow)", ShadowName(device.AudioDevice{Name: "USB DAC"}, " (shadow)"))
}
