package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/eqroute/internal/conf"
	"github.com/tphakala/eqroute/internal/datastore"
	"github.com/tphakala/eqroute/internal/device"
	"github.com/tphakala/eqroute/internal/device/simulated"
	"github.com/tphakala/eqroute/internal/equalizer"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/events"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/pipeline"
	"github.com/tphakala/eqroute/internal/profile"
	"github.com/tphakala/eqroute/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testDelays() conf.DelaySettings {
	return conf.DelaySettings{
		VolumeEcho:        5 * time.Millisecond,
		MuteSuppress:      5 * time.Millisecond,
		RemovalSettle:     10 * time.Millisecond,
		RebuildSettle:     10 * time.Millisecond,
		StopTimeout:       100 * time.Millisecond,
		WakeSettle:        10 * time.Millisecond,
		WakeRetryInterval: 5 * time.Millisecond,
		TypeChangeSettle:  10 * time.Millisecond,
	}
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(nil, logger.LogLevelError, nil)
}

// inertSource and inertSink accept start and stop and never move audio.
type inertSource struct{ format pipeline.Format }

func (s *inertSource) Name() string                                     { return "inert" }
func (s *inertSource) Format() pipeline.Format                          { return s.format }
func (s *inertSource) Start(context.Context, pipeline.RenderFunc) error { return nil }
func (s *inertSource) Stop() error                                      { return nil }

type inertSink struct {
	format pipeline.Format
	gate   chan struct{}
}

func (s *inertSink) Name() string                                   { return "inert" }
func (s *inertSink) Format() pipeline.Format                        { return s.format }
func (s *inertSink) Start(context.Context, pipeline.PullFunc) error { return nil }

func (s *inertSink) Stop() error {
	if s.gate != nil {
		<-s.gate
	}
	return nil
}

type fakeBuilder struct {
	mu    sync.Mutex
	rates []float64
	sinks []uint32
	gate  chan struct{} // when set, sink Stop blocks until closed
}

func (b *fakeBuilder) NewSource(rate float64) (pipeline.Source, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rates = append(b.rates, rate)
	return &inertSource{format: pipeline.Format{SampleRate: rate, Channels: 2, FrameSize: 16}}, nil
}

func (b *fakeBuilder) NewSink(deviceID uint32, rate float64) (pipeline.Sink, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, deviceID)
	return &inertSink{format: pipeline.Format{SampleRate: rate, Channels: 2, FrameSize: 16}, gate: b.gate}, nil
}

func (b *fakeBuilder) lastRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.rates) == 0 {
		return 0
	}
	return b.rates[len(b.rates)-1]
}

// memoryProfiles is an in-memory profile.Backend.
type memoryProfiles struct {
	mu   sync.Mutex
	rows map[string]datastore.DeviceProfile
}

func (m *memoryProfiles) GetProfile(uid string) (datastore.DeviceProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[uid]
	if !ok {
		return datastore.DeviceProfile{}, errors.Newf("profile %q not found", uid).
			Category(errors.CategoryNotFound).
			Build()
	}
	return row, nil
}

func (m *memoryProfiles) SaveProfile(p *datastore.DeviceProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.UID] = *p
	return nil
}

func (m *memoryProfiles) DeleteProfile(uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, uid)
	return nil
}

func (m *memoryProfiles) ListProfiles() ([]datastore.DeviceProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]datastore.DeviceProfile, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row)
	}
	return out, nil
}

func (m *memoryProfiles) get(uid string) (datastore.DeviceProfile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[uid]
	return row, ok
}

// memoryPresets is an in-memory equalizer.PresetStore.
type memoryPresets struct{}

func (memoryPresets) Presets(state.EqualizerType) ([]equalizer.Preset, error) { return nil, nil }
func (memoryPresets) SavePreset(equalizer.Preset) error                       { return nil }
func (memoryPresets) DeletePreset(state.EqualizerType, string) error          { return nil }

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []events.Kind
}

func (r *recordingPublisher) Publish(n events.Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, n.Kind)
	return true
}

func (r *recordingPublisher) count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

type harness struct {
	reg      *simulated.Registry
	drv      *simulated.Driver
	st       *state.Store
	builder  *fakeBuilder
	profiles *memoryProfiles
	pub      *recordingPublisher
	delays   conf.DelaySettings
	session  *AudioSession

	speakers device.AudioDevice
	dac      device.AudioDevice
}

// newHarness builds a registry with built-in speakers (the default output),
// a USB DAC and the driver. before runs ahead of Start and may adjust delays.
func newHarness(t *testing.T, initial state.State, before func(h *harness)) *harness {
	t.Helper()
	h := &harness{
		reg:      simulated.NewRegistry(),
		st:       state.NewStore(initial),
		builder:  &fakeBuilder{},
		profiles: &memoryProfiles{rows: make(map[string]datastore.DeviceProfile)},
		pub:      &recordingPublisher{},
		delays:   testDelays(),
	}
	h.speakers = h.reg.AddDevice(device.AudioDevice{
		Name:              "MacBook Speakers",
		UID:               "builtin-speakers",
		Transport:         device.TransportBuiltIn,
		SupportsVolume:    true,
		Alive:             true,
		NominalSampleRate: 48000,
		ActualSampleRate:  48000,
		Latency:           512,
		Volume:            0.5,
		Balance:           0.5,
	})
	h.dac = h.reg.AddDevice(device.AudioDevice{
		Name:              "USB DAC",
		UID:               "usb-dac",
		Transport:         device.TransportUSB,
		Alive:             true,
		NominalSampleRate: 44100,
		ActualSampleRate:  44100,
	})
	h.drv = simulated.NewDriver(h.reg, "eqroute", []float64{44100, 48000, 96000})

	if before != nil {
		before(h)
	}

	log := quietLogger()
	s, err := New(Config{
		NameSuffix:       " (shadow)",
		BuiltInName:      "Speakers",
		Delays:           h.delays,
		WakeRetries:      3,
		Channels:         2,
		FrameSize:        16,
		BufferMultiplier: 4,
	}, Deps{
		Registry:  h.reg,
		Driver:    h.drv,
		State:     h.st,
		Profiles:  profile.New(h.profiles, h.st, nil, log),
		Presets:   equalizer.NewLibraries(memoryPresets{}),
		Builder:   h.builder,
		Publisher: h.pub,
		Logger:    log,
	})
	require.NoError(t, err)
	h.session = s

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		assert.NoError(t, s.Terminate(ctx))
	})
	return h
}

func disabled() state.State {
	st := state.Default()
	st.Enabled = false
	return st
}

func (h *harness) waitRunningOn(t *testing.T, d device.AudioDevice) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := h.session.Status()
		return st.Phase == PhaseRunning && st.Device.ID == d.ID && !st.Switching
	}, waitFor, tick, "passthrough on %s", d.Name)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestConfigFromSettings(t *testing.T) {
	settings := &conf.Settings{}
	settings.Session.NameSuffix = " (eq)"
	settings.Session.Delays = testDelays()
	settings.Audio.Buffer.FrameSize = 256
	settings.Recorder.Enabled = true

	cfg := ConfigFromSettings(settings)
	cfg.applyDefaults()
	assert.Equal(t, " (eq)", cfg.NameSuffix)
	assert.Equal(t, 256, cfg.FrameSize)
	assert.Equal(t, 2048, cfg.BufferMultiplier)
	assert.Equal(t, 16, cfg.VolumeSteps.Full)
	assert.True(t, cfg.Recorder.Enabled)
}

func TestEnableStartsPassthrough(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)

	out, ok := h.reg.DefaultOutput()
	require.True(t, ok)
	assert.Equal(t, h.drv.ID(), out.ID, "the driver intercepts the output")
	assert.Equal(t, h.drv.ID(), h.reg.SystemOutput())

	assert.Equal(t, "MacBook Speakers (shadow)", h.drv.Name())
	assert.True(t, h.drv.Shown())
	assert.InDelta(t, 48000, h.drv.NominalSampleRate(), 0)
	assert.Equal(t, uint32(512), h.drv.Latency(0))
	assert.InDelta(t, 0.5, h.st.State().Volume.Gain, 1e-9, "hardware volume wins")
	assert.InDelta(t, 0.5, h.drv.Volume(), 1e-9)

	st := h.session.Status()
	assert.True(t, st.Enabled)
	assert.Equal(t, 1, st.Rebuilds)
	assert.InDelta(t, 48000, st.SampleRate, 0)
	assert.Equal(t, 1, h.pub.count(events.KindEngineCreated))
	assert.Equal(t, 1, h.pub.count(events.KindOutputCreated))
	assert.Equal(t, 1, h.pub.count(events.KindPipelineRunning))
	assert.Equal(t, 1, h.pub.count(events.KindEnabledChanged))

	snap := h.session.PipelineSnapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, 64, snap.BufferCapacity)
}

func TestSwitchRequestsCoalesce(t *testing.T) {
	h := newHarness(t, disabled(), nil)

	var first, second atomic.Int32
	h.session.loop.Do(func() {
		h.session.enabled = true
		h.session.startPassthrough(func() { first.Add(1) })
		h.session.startPassthrough(func() { second.Add(1) })
	})

	require.Eventually(t, func() bool {
		return first.Load() == 1 && second.Load() == 1
	}, waitFor, tick)

	st := h.session.Status()
	assert.Equal(t, 1, st.Rebuilds, "one rebuild for two requests")
	assert.Equal(t, PhaseRunning, st.Phase)
	assert.False(t, st.Switching)
}

func TestSelectedDeviceRemovalFallsBack(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)

	require.NoError(t, h.session.SelectOutput(h.dac.ID))
	h.waitRunningOn(t, h.dac)
	assert.InDelta(t, 44100, h.drv.NominalSampleRate(), 0)

	h.reg.RemoveDevice(h.dac.ID)
	h.waitRunningOn(t, h.speakers)

	st := h.session.Status()
	assert.NotEqual(t, h.dac.ID, st.Device.ID)
	assert.NotEqual(t, h.drv.ID(), st.Device.ID)
	assert.InDelta(t, 48000, h.drv.NominalSampleRate(), 0)
}

func TestSelectedDeviceDeathFallsBack(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)
	require.NoError(t, h.session.SelectOutput(h.dac.ID))
	h.waitRunningOn(t, h.dac)

	h.reg.SetAlive(h.dac.ID, false)
	h.waitRunningOn(t, h.speakers)
}

func TestSelectOutputRejectsDriver(t *testing.T) {
	h := newHarness(t, disabled(), nil)
	err := h.session.SelectOutput(h.drv.ID())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	err = h.session.SelectOutput(999)
	assert.True(t, errors.IsNotFound(err))
}

func TestLastKnownDeviceSkipsAbsentEntries(t *testing.T) {
	h := newHarness(t, disabled(), nil)
	goneA := device.AudioDevice{ID: 100, Name: "Gone A"}
	goneC := device.AudioDevice{ID: 101, Name: "Gone C"}

	for _, leading := range []int{1, 3, 10} {
		var got device.AudioDevice
		var ok bool
		h.session.loop.Do(func() {
			h.session.history = []device.AudioDevice{goneC, h.dac}
			for range leading {
				h.session.history = append(h.session.history, goneA)
			}
			got, ok = h.session.lastKnownDevice()
		})
		require.True(t, ok)
		assert.Equal(t, h.dac.ID, got.ID, "with %d absent entries before it", leading)
	}
}

func TestLastKnownDeviceMatchesByName(t *testing.T) {
	h := newHarness(t, disabled(), nil)
	replugged := h.dac
	replugged.ID = 77

	var got device.AudioDevice
	h.session.loop.Do(func() {
		h.session.history = []device.AudioDevice{replugged, {ID: h.drv.ID(), Name: "eqroute"}}
		got, _ = h.session.lastKnownDevice()
	})
	assert.Equal(t, h.dac.ID, got.ID, "the registry's current id is returned")
}

func TestLastKnownDeviceFallbacks(t *testing.T) {
	h := newHarness(t, disabled(), nil)

	var got device.AudioDevice
	var ok bool
	h.session.loop.Do(func() {
		got, ok = h.session.lastKnownDevice()
	})
	require.True(t, ok)
	assert.Equal(t, h.speakers.ID, got.ID, "built-in output when history is empty")

	h.session.loop.Do(func() {
		h.session.selected, h.session.hasSel = h.dac, true
		got, ok = h.session.lastKnownDevice()
	})
	require.True(t, ok)
	assert.Equal(t, h.dac.ID, got.ID, "previous selection before built-in")
}

func TestVolumeStepTables(t *testing.T) {
	full := volumeSteps(16, 2)
	quarter := volumeSteps(64, 2)
	require.Len(t, full, 33)
	require.Len(t, quarter, 129)
	assert.InDelta(t, 2.0, full[len(full)-1], 0)

	for _, table := range [][]float64{full, quarter} {
		for _, g := range table {
			up := stepUp(table, g)
			assert.GreaterOrEqual(t, up, g)
			assert.LessOrEqual(t, stepDown(table, up), g, "up then down from %v", g)
		}
	}

	assert.InDelta(t, 0.5625, stepUp(full, 0.5), 1e-9)
	assert.InDelta(t, 0.5625, stepUp(full, 0.53), 1e-9)
	assert.InDelta(t, 0.4375, stepDown(full, 0.5), 1e-9)
	assert.InDelta(t, 0.5, stepDown(full, 0.53), 1e-9)
	assert.InDelta(t, 0, stepDown(full, 0), 0, "floor at zero")
	assert.InDelta(t, 2, stepUp(full, 2), 0, "ceiling at max")
}

func TestBalanceRemappedFromDevice(t *testing.T) {
	h := newHarness(t, state.Default(), func(h *harness) {
		h.reg.Update(h.speakers.ID, func(d *device.AudioDevice) {
			d.SupportsBalance = true
			d.Balance = 0
		})
	})
	h.waitRunningOn(t, h.speakers)

	assert.InDelta(t, -1, h.st.State().Volume.Balance, 1e-9)
	assert.InDelta(t, -1, h.drv.Balance(), 1e-9)
}

func TestSampleRateChangeRebuilds(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)

	h.reg.SetSampleRate(h.speakers.ID, 96000)
	require.Eventually(t, func() bool {
		st := h.session.Status()
		return st.Rebuilds == 2 && st.Phase == PhaseRunning
	}, waitFor, tick)

	assert.InDelta(t, 96000, h.drv.NominalSampleRate(), 0)
	assert.InDelta(t, 96000, h.builder.lastRate(), 0)
}

func TestJackConnectSwitches(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)

	h.reg.SetJackConnected(h.dac.ID, true)
	h.waitRunningOn(t, h.dac)
}

func TestJackDisconnectRebuildsAtDeviceRate(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)
	require.InDelta(t, 48000, h.drv.NominalSampleRate(), 0)

	h.reg.Update(h.speakers.ID, func(d *device.AudioDevice) {
		d.NominalSampleRate = 44100
		d.ActualSampleRate = 44100
	})
	h.reg.SetJackConnected(h.speakers.ID, false)
	require.Eventually(t, func() bool {
		st := h.session.Status()
		return st.Rebuilds == 2 && st.Phase == PhaseRunning
	}, waitFor, tick)

	assert.Equal(t, h.speakers.ID, h.session.Status().Device.ID)
	assert.InDelta(t, 44100, h.drv.NominalSampleRate(), 0)
	assert.InDelta(t, 44100, h.builder.lastRate(), 0)
}

func TestStopEnginesCompletesOnce(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, state.Default(), func(h *harness) {
		h.builder.gate = gate
	})
	var released sync.Once
	release := func() { released.Do(func() { close(gate) }) }
	t.Cleanup(release)

	h.waitRunningOn(t, h.speakers)

	var calls atomic.Int32
	h.session.loop.Do(func() {
		h.session.stopEngines(func() { calls.Add(1) })
	})
	assert.Equal(t, PhaseTearingDown, h.session.Status().Phase)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick, "timeout completes the stop")
	release()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "late stop does not complete again")
	assert.Equal(t, PhaseUnbuilt, h.session.Status().Phase)
}

func TestDriverVolumeMirroredIntoState(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)
	time.Sleep(20 * time.Millisecond)

	h.drv.UserSetVolume(0.25)
	require.Eventually(t, func() bool {
		return h.st.State().Volume.Gain == 0.25
	}, waitFor, tick)

	h.drv.UserSetMuted(true)
	require.Eventually(t, func() bool {
		return h.st.State().Volume.Muted
	}, waitFor, tick)
}

func TestBoostStepDownKeepsGain(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)

	h.st.Dispatch(state.SetBoostEnabled(true, state.OriginExternal))
	h.st.Dispatch(state.SetGain(1.5, state.OriginExternal))
	require.Eventually(t, func() bool { return h.drv.Volume() == 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)

	h.session.VolumeDown(false)
	require.Eventually(t, func() bool {
		return h.st.State().Volume.Gain == 1.4375
	}, waitFor, tick)
	time.Sleep(30 * time.Millisecond)
	assert.InDelta(t, 1.4375, h.st.State().Volume.Gain, 1e-9, "the driver echo is not taken as a gain")

	h.drv.UserSetVolume(0.5)
	require.Eventually(t, func() bool {
		return h.st.State().Volume.Gain == 0.5
	}, waitFor, tick, "echo tags are consumed")
}

func TestVolumeUpClampsWithoutBoost(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)
	time.Sleep(20 * time.Millisecond)

	h.st.Dispatch(state.SetGain(1, state.OriginExternal))
	time.Sleep(20 * time.Millisecond)
	h.session.VolumeUp(false)
	time.Sleep(20 * time.Millisecond)
	assert.InDelta(t, 1, h.st.State().Volume.Gain, 1e-9)

	h.session.VolumeDown(true)
	require.Eventually(t, func() bool {
		return h.st.State().Volume.Gain == 1-1.0/64
	}, waitFor, tick)
	assert.InDelta(t, 1-1.0/64, h.drv.Volume(), 1e-9)
}

func TestMuteButtonTogglesDriver(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)
	time.Sleep(20 * time.Millisecond)

	h.session.MuteButtonPressed()
	require.Eventually(t, func() bool { return h.st.State().Volume.Muted }, waitFor, tick)
	assert.True(t, h.drv.Muted())
}

func TestDriverMuteIgnoredAfterVolumeUp(t *testing.T) {
	h := newHarness(t, state.Default(), func(h *harness) {
		h.delays.MuteSuppress = 150 * time.Millisecond
	})
	h.waitRunningOn(t, h.speakers)
	time.Sleep(20 * time.Millisecond)

	h.session.VolumeUp(false)
	require.Eventually(t, func() bool {
		return h.st.State().Volume.Gain == 0.5625
	}, waitFor, tick)

	h.drv.UserSetMuted(true)
	assert.Never(t, func() bool {
		return h.st.State().Volume.Muted
	}, 50*time.Millisecond, tick, "mute echo of a volume step is swallowed")

	// once the window closes, driver mute changes are mirrored again
	time.Sleep(150 * time.Millisecond)
	h.drv.UserSetMuted(false)
	h.drv.UserSetMuted(true)
	require.Eventually(t, func() bool {
		return h.st.State().Volume.Muted
	}, waitFor, tick)
}

func TestMuteButtonClearsMuteSuppression(t *testing.T) {
	h := newHarness(t, state.Default(), func(h *harness) {
		h.delays.MuteSuppress = time.Minute
	})
	h.waitRunningOn(t, h.speakers)
	time.Sleep(20 * time.Millisecond)

	h.session.VolumeUp(false)
	require.Eventually(t, func() bool {
		return h.st.State().Volume.Gain == 0.5625
	}, waitFor, tick)

	h.session.MuteButtonPressed()
	require.Eventually(t, h.drv.Muted, waitFor, tick)
	require.Eventually(t, func() bool {
		return h.st.State().Volume.Muted
	}, waitFor, tick, "the button's own mute is mirrored")

	h.drv.UserSetMuted(false)
	require.Eventually(t, func() bool {
		return !h.st.State().Volume.Muted
	}, waitFor, tick)
}

func TestVolumeFloodKeepsLoopResponsive(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 600 {
			h.session.VolumeUp(true)
			h.session.VolumeDown(true)
		}
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		require.FailNow(t, "volume keys blocked")
	}

	status := make(chan Status, 1)
	go func() { status <- h.session.Status() }()
	select {
	case st := <-status:
		assert.Equal(t, PhaseRunning, st.Phase)
	case <-time.After(waitFor):
		require.FailNow(t, "control loop stopped answering")
	}
}

func TestDeviceVolumePushedToDriver(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)
	time.Sleep(20 * time.Millisecond)

	h.reg.SetDeviceVolume(h.speakers.ID, 0.8)
	require.Eventually(t, func() bool { return h.drv.Volume() == 0.8 }, waitFor, tick)
	assert.InDelta(t, 0.8, h.st.State().Volume.Gain, 1e-9)
	assert.Positive(t, h.pub.count(events.KindGainChanged))
}

func TestUnsupportedOutputIgnored(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)

	agg := h.reg.AddDevice(device.AudioDevice{Name: "Aggregate", Transport: device.TransportAggregate, Alive: true})
	require.NoError(t, h.reg.SetDefaultOutput(agg.ID))

	assert.Never(t, func() bool {
		return h.session.Status().Rebuilds != 1
	}, 100*time.Millisecond, tick)
	assert.Equal(t, h.speakers.ID, h.session.Status().Device.ID)
}

func TestProfileAppliedOnSwitchWithoutRestart(t *testing.T) {
	h := newHarness(t, state.Default(), func(h *harness) {
		h.profiles.rows["usb-dac"] = datastore.DeviceProfile{
			UID:                "usb-dac",
			EqualizerType:      string(state.EqualizerParametric),
			ParametricPresetID: state.FlatPresetID,
		}
	})
	h.waitRunningOn(t, h.speakers)

	require.NoError(t, h.session.SelectOutput(h.dac.ID))
	h.waitRunningOn(t, h.dac)

	assert.Equal(t, state.EqualizerParametric, h.st.State().Equalizers.Type)
	assert.Never(t, func() bool {
		return h.session.Status().Rebuilds != 2
	}, 100*time.Millisecond, tick, "a profile's type change only reloads effects")
}

func TestEqualizerTypeChangeRestartsAudio(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)

	h.st.Dispatch(state.SetEqualizerType(state.EqualizerAdvanced, state.OriginExternal))
	require.Eventually(t, func() bool {
		st := h.session.Status()
		return st.Rebuilds == 2 && st.Phase == PhaseRunning
	}, waitFor, tick)

	row, ok := h.profiles.get("builtin-speakers")
	require.True(t, ok, "the user edit is saved for the device")
	assert.Equal(t, string(state.EqualizerAdvanced), row.EqualizerType)
	assert.Equal(t, state.EqualizerAdvanced, h.st.State().Equalizers.Type)
}

func TestDisableRestoresOutput(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)

	h.session.SetEnabled(false)
	require.Eventually(t, func() bool {
		st := h.session.Status()
		return !st.Enabled && st.Phase == PhaseUnbuilt
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		out, ok := h.reg.DefaultOutput()
		return ok && out.ID == h.speakers.ID
	}, waitFor, tick)
	assert.Equal(t, h.speakers.ID, h.reg.SystemOutput())
	assert.Equal(t, "eqroute", h.drv.Name())
	assert.Equal(t, 2, h.pub.count(events.KindEnabledChanged))
}

func TestSleepAndWake(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.session.Sleep(ctx))

	st := h.session.Status()
	assert.Equal(t, PhaseUnbuilt, st.Phase)
	assert.True(t, st.IgnoringEvents)
	out, _ := h.reg.DefaultOutput()
	assert.Equal(t, h.speakers.ID, out.ID)

	h.session.Wake()
	require.Eventually(t, func() bool {
		st := h.session.Status()
		return st.Rebuilds == 2 && st.Phase == PhaseRunning && st.Device.ID == h.speakers.ID
	}, waitFor, tick)
}

func TestWakeResumesWhenDeviceNeverReturns(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)
	require.NoError(t, h.session.SelectOutput(h.dac.ID))
	h.waitRunningOn(t, h.dac)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.session.Sleep(ctx))
	h.reg.RemoveDevice(h.dac.ID)

	h.session.Wake()
	h.waitRunningOn(t, h.speakers)
}

func TestTerminateHidesDriverAndRestoresOutput(t *testing.T) {
	h := newHarness(t, state.Default(), nil)
	h.waitRunningOn(t, h.speakers)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.session.Terminate(ctx))
	require.NoError(t, h.session.Terminate(ctx), "terminate is idempotent")

	assert.False(t, h.drv.Shown())
	out, _ := h.reg.DefaultOutput()
	assert.Equal(t, h.speakers.ID, out.ID)
	assert.False(t, h.session.PipelineSnapshot().Running)
}
