package simulated

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/eqroute/internal/device"
)

func TestRegistryEmitsEvents(t *testing.T) {
	reg := NewRegistry()

	var got []device.Event
	var subs device.Subscriptions
	for _, typ := range []device.EventType{device.ListChanged, device.OutputChanged, device.IsAliveChanged, device.SampleRateChanged} {
		subs.Add(reg.Subscribe(typ, func(e device.Event) { got = append(got, e) }))
	}
	t.Cleanup(subs.UnsubscribeAll)

	speakers := reg.AddDevice(device.AudioDevice{Name: "Speakers", Alive: true, Transport: device.TransportBuiltIn})
	dac := reg.AddDevice(device.AudioDevice{Name: "USB DAC", Alive: true, Transport: device.TransportUSB})

	def, ok := reg.DefaultOutput()
	require.True(t, ok)
	assert.Equal(t, speakers.ID, def.ID, "first device becomes default")

	require.NoError(t, reg.SetDefaultOutput(dac.ID))
	require.NoError(t, reg.SetDefaultOutput(dac.ID), "no event when unchanged")
	reg.SetAlive(dac.ID, false)
	reg.SetSampleRate(dac.ID, 96000)
	reg.RemoveDevice(dac.ID)

	types := make([]device.EventType, 0, len(got))
	for _, e := range got {
		types = append(types, e.Type)
	}
	assert.Equal(t, []device.EventType{
		device.ListChanged, device.ListChanged, device.OutputChanged,
		device.IsAliveChanged, device.SampleRateChanged, device.ListChanged,
	}, types)

	last := got[len(got)-1]
	require.Len(t, last.Removed, 1)
	assert.Equal(t, dac.ID, last.Removed[0].ID)

	_, ok = reg.Device(dac.ID)
	assert.False(t, ok)
	require.Error(t, reg.SetDefaultOutput(dac.ID))
}

func TestDriverEchoesVolume(t *testing.T) {
	reg := NewRegistry()
	drv := NewDriver(reg, "eqroute", []float64{44100, 48000})

	var echoes int
	sub := reg.Subscribe(device.VolumeChanged, func(e device.Event) {
		if e.Device.ID == drv.ID() {
			echoes++
		}
	})
	defer sub.Unsubscribe()

	require.NoError(t, drv.SetVolume(0.4))
	drv.UserSetVolume(0.6)
	assert.Equal(t, 2, echoes)
	assert.InDelta(t, 0.6, drv.Volume(), 0)

	require.Error(t, drv.SetNominalSampleRate(96000))
	require.NoError(t, drv.SetNominalSampleRate(44100))
	assert.InDelta(t, 44100, drv.NominalSampleRate(), 0)

	require.NoError(t, drv.SetName("Speakers (shadow)"))
	assert.Equal(t, "Speakers (shadow)", drv.Name())
	require.NoError(t, drv.SetName(""))
	assert.Equal(t, "eqroute", drv.Name())

	require.NoError(t, drv.SetBalance(-1))
	assert.InDelta(t, 0, drv.Device().Balance, 1e-9)
	assert.Equal(t, device.TransportVirtual, drv.Device().Transport)
}
