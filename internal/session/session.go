// Package session implements the AudioSession: the control plane that keeps
// the virtual driver shadowing a physical output, reacts to device events
// and rebuilds the capture pipeline.
//
// Every handler runs on one scheduler loop. Device events, state changes
// and delayed continuations are posted to it, so the guard flags below are
// plain fields that only the loop goroutine touches.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/eqroute/internal/conf"
	"github.com/tphakala/eqroute/internal/device"
	"github.com/tphakala/eqroute/internal/driver"
	"github.com/tphakala/eqroute/internal/equalizer"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/events"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/observability/metrics"
	"github.com/tphakala/eqroute/internal/pipeline"
	"github.com/tphakala/eqroute/internal/profile"
	"github.com/tphakala/eqroute/internal/scheduler"
	"github.com/tphakala/eqroute/internal/state"
)

// maxHistory bounds the selected-device history.
const maxHistory = 32

// Config holds the tunables of a session.
type Config struct {
	NameSuffix           string
	BuiltInName          string
	Delays               conf.DelaySettings
	WakeRetries          int
	VolumeSteps          conf.VolumeStepSettings
	SupportedSampleRates []float64

	Channels         int
	FrameSize        int
	BufferMultiplier int

	Recorder conf.RecorderSettings
}

// ConfigFromSettings maps loaded settings to a session config.
func ConfigFromSettings(s *conf.Settings) Config {
	return Config{
		NameSuffix:           s.Session.NameSuffix,
		BuiltInName:          s.Session.BuiltInName,
		Delays:               s.Session.Delays,
		WakeRetries:          s.Session.WakeRetries,
		VolumeSteps:          s.Session.VolumeSteps,
		SupportedSampleRates: s.Session.SupportedSampleRates,
		Channels:             s.Audio.Channels,
		FrameSize:            s.Audio.Buffer.FrameSize,
		BufferMultiplier:     s.Audio.Buffer.Multiplier,
		Recorder:             s.Recorder,
	}
}

func (c *Config) applyDefaults() {
	if c.Channels <= 0 {
		c.Channels = 2
	}
	if c.FrameSize <= 0 {
		c.FrameSize = 512
	}
	if c.BufferMultiplier <= 0 {
		c.BufferMultiplier = 2048
	}
	if c.VolumeSteps.Full <= 0 {
		c.VolumeSteps.Full = 16
	}
	if c.VolumeSteps.Quarter <= 0 {
		c.VolumeSteps.Quarter = 64
	}
	if c.VolumeSteps.Max <= 0 {
		c.VolumeSteps.Max = 2
	}
}

// Publisher receives session notifications. events.Bus satisfies it.
type Publisher interface {
	Publish(n events.Notification) bool
}

// Flusher forces pending storage writes. datastore.Interface satisfies it.
type Flusher interface {
	Flush() error
}

// Deps are the collaborators a session drives.
type Deps struct {
	Registry device.Registry
	Driver   driver.Handle
	Policy   device.Policy
	State    *state.Store
	Profiles *profile.Store
	Presets  *equalizer.Libraries
	Builder  pipeline.Builder

	// Optional.
	Storage   Flusher
	Publisher Publisher
	Metrics   metrics.SessionRecorder
	Logger    logger.Logger
}

// Phase is the pipeline lifecycle.
type Phase int

const (
	PhaseUnbuilt Phase = iota
	PhaseBuilding
	PhaseRunning
	PhaseTearingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseBuilding:
		return "building"
	case PhaseRunning:
		return "running"
	case PhaseTearingDown:
		return "tearing-down"
	default:
		return "unbuilt"
	}
}

// AudioSession is the one orchestrator of a process.
type AudioSession struct {
	cfg       Config
	registry  device.Registry
	drv       driver.Handle
	policy    device.Policy
	store     *state.Store
	profiles  *profile.Store
	presets   *equalizer.Libraries
	builder   pipeline.Builder
	storage   Flusher
	publisher Publisher
	metrics   metrics.SessionRecorder
	log       logger.Logger

	loop     *scheduler.Loop
	ctx      context.Context
	stateSub *state.Subscription
	started  atomic.Bool
	stopOnce sync.Once

	fullSteps    []float64
	quarterSteps []float64

	// Loop-owned state.
	enabled  bool
	history  []device.AudioDevice
	selected device.AudioDevice
	hasSel   bool
	subs     device.Subscriptions

	startingPassthrough bool
	pendingSwitch       []func()
	settingUpAudio      bool
	ignoreEvents        bool
	ignoreVolumeEvents  bool
	volumeEchoGen       uint64
	teardownGen         uint64

	overrideNextVolumeEvent   bool
	ignoreNextVolumeEvent     bool
	ignoreNextDriverMuteEvent bool
	muteSuppressGen           uint64

	phase    Phase
	rebuilds int
	pipe     atomic.Pointer[livePipeline]
}

// New validates deps and creates a session. Nothing runs until Start.
func New(cfg Config, deps Deps) (*AudioSession, error) {
	if deps.Registry == nil || deps.Driver == nil || deps.State == nil ||
		deps.Profiles == nil || deps.Presets == nil || deps.Builder == nil {
		return nil, errors.Newf("session requires a registry, driver, state, profiles, presets and a pipeline builder").
			Component("session").
			Category(errors.CategoryValidation).
			Build()
	}
	cfg.applyDefaults()

	log := deps.Logger
	if log == nil {
		log = logger.Global().Module("session")
	}
	rec := deps.Metrics
	if rec == nil {
		rec = metrics.NoOpRecorder{}
	}
	policy := deps.Policy
	if policy == nil {
		policy = device.TransportPolicy{Registry: deps.Registry, DriverID: deps.Driver.ID()}
	}

	return &AudioSession{
		cfg:          cfg,
		registry:     deps.Registry,
		drv:          deps.Driver,
		policy:       policy,
		store:        deps.State,
		profiles:     deps.Profiles,
		presets:      deps.Presets,
		builder:      deps.Builder,
		storage:      deps.Storage,
		publisher:    deps.Publisher,
		metrics:      rec,
		log:          log,
		loop:         scheduler.New(scheduler.DefaultQueueSize, log.Module("loop")),
		fullSteps:    volumeSteps(cfg.VolumeSteps.Full, cfg.VolumeSteps.Max),
		quarterSteps: volumeSteps(cfg.VolumeSteps.Quarter, cfg.VolumeSteps.Max),
	}, nil
}

// Start runs the control loop and, if the state says so, sets up audio.
func (s *AudioSession) Start(ctx context.Context) error {
	if s.started.Swap(true) {
		return errors.Newf("session already started").
			Component("session").
			Category(errors.CategoryState).
			Build()
	}
	s.ctx = ctx
	s.loop.Start(ctx)

	s.stateSub = s.store.Subscribe(s.onStateChange)
	s.presets.OnChange(func(mode state.EqualizerType) {
		s.loop.Post(func() { s.onPresetsChanged(mode) })
	})

	s.loop.Post(func() {
		enabled := s.store.State().Enabled
		s.metrics.SetEnabled(enabled)
		s.setEnabled(enabled)
	})
	return nil
}

// Terminate saves and tears everything down, restores the last physical
// output and hides the driver. It blocks until done or ctx expires.
func (s *AudioSession) Terminate(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}
	var err error
	s.stopOnce.Do(func() {
		s.stateSub.Unsubscribe()

		done := make(chan struct{})
		if s.loop.Post(func() {
			s.log.Info("terminating session")
			s.stopSave(func() {
				if e := s.drv.SetShown(false); e != nil {
					s.log.Warn("failed to hide driver", logger.Error(e))
				}
				close(done)
			})
		}) {
			select {
			case <-done:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		s.loop.Stop()

		// The loop is gone; stop whatever a timed out teardown left running.
		if p := s.pipe.Swap(nil); p != nil {
			_ = p.stop()
		}
	})
	return err
}

// SetEnabled switches passthrough on or off through application state.
func (s *AudioSession) SetEnabled(enabled bool) {
	s.store.Dispatch(state.SetEnabled(enabled, state.OriginExternal))
}

// SelectOutput routes to d.
func (s *AudioSession) SelectOutput(id uint32) error {
	d, ok := s.registry.Device(id)
	if !ok {
		return errors.Newf("device %d not found", id).
			Component("session").
			Category(errors.CategoryNotFound).
			Build()
	}
	if !s.policy.IsDeviceAllowed(d) {
		return errors.Newf("device %q cannot be selected", d.Name).
			Component("session").
			Category(errors.CategoryValidation).
			DeviceContext(d.ID, d.Name).
			Build()
	}
	s.loop.Post(func() { s.selectOutput(d) })
	return nil
}

// Status is a snapshot of the session.
type Status struct {
	Enabled        bool
	Phase          Phase
	Device         device.AudioDevice
	HasDevice      bool
	SampleRate     float64
	History        []device.AudioDevice
	Rebuilds       int
	Switching      bool
	IgnoringEvents bool
}

// Status returns a snapshot taken on the control loop.
func (s *AudioSession) Status() Status {
	var st Status
	s.loop.Do(func() {
		st = Status{
			Enabled:        s.enabled,
			Phase:          s.phase,
			Device:         s.selected,
			HasDevice:      s.hasSel,
			History:        append([]device.AudioDevice(nil), s.history...),
			Rebuilds:       s.rebuilds,
			Switching:      s.startingPassthrough,
			IgnoringEvents: s.ignoreEvents,
		}
		if p := s.pipe.Load(); p != nil {
			st.SampleRate = p.format.SampleRate
		}
	})
	return st
}

// setEnabled reacts to the enabled flag.
func (s *AudioSession) setEnabled(enabled bool) {
	if enabled == s.enabled {
		return
	}
	s.enabled = enabled
	s.metrics.SetEnabled(enabled)
	s.publish(events.EnabledChanged(enabled))
	s.log.Info("session enabled changed", logger.Bool("enabled", enabled))

	if enabled {
		s.setupAudio()
		return
	}
	s.stopSave(nil)
}

// setupAudio shows the driver, arms device events and starts passthrough.
func (s *AudioSession) setupAudio() {
	if s.settingUpAudio {
		return
	}
	s.settingUpAudio = true
	start := time.Now()

	if err := s.drv.SetShown(true); err != nil {
		s.log.Warn("failed to show driver", logger.Error(err))
	}
	s.setupDeviceEvents()
	s.startPassthrough(func() {
		s.settingUpAudio = false
		s.metrics.RecordOperation(metrics.OpSetup, metrics.StatusSuccess)
		s.metrics.RecordDuration(metrics.OpSetup, time.Since(start).Seconds())
	})
}

// stopSave flushes storage, drops listeners, removes the engines and
// hands the system output back to the last physical device.
func (s *AudioSession) stopSave(completion func()) {
	if s.storage != nil {
		if err := s.storage.Flush(); err != nil {
			s.log.Warn("failed to flush storage", logger.Error(err))
		}
	}
	s.subs.UnsubscribeAll()
	s.stopEngines(func() {
		s.switchBackToLastKnownDevice()
		if completion != nil {
			completion()
		}
	})
}

func (s *AudioSession) switchBackToLastKnownDevice() {
	d, ok := s.lastKnownDevice()
	if !ok {
		s.log.Warn("no device to switch back to")
		return
	}
	s.pushHistory(d)

	if err := s.drv.SetName(""); err != nil {
		s.log.Warn("failed to reset driver name", logger.Error(err))
	}
	if err := s.registry.SetDefaultOutput(d.ID); err != nil {
		s.log.Warn("failed to restore output", logger.Error(err), logger.String("device", d.Name))
	}
	if err := s.registry.SetDefaultSystemOutput(d.ID); err != nil {
		s.log.Warn("failed to restore system output", logger.Error(err), logger.String("device", d.Name))
	}
	s.log.Info("switched back to physical output", logger.String("device", d.Name))
}

// selectOutput stops the pipeline, waits for the registry to settle and
// makes d the system output.
func (s *AudioSession) selectOutput(d device.AudioDevice) {
	s.log.Info("selecting output", logger.String("device", d.Name), logger.Int("id", int(d.ID)))
	s.ignoreEvents = true
	s.stopEngines(nil)

	s.loop.After(s.cfg.Delays.RemovalSettle, func() {
		s.ignoreEvents = false
		if err := s.registry.SetDefaultOutput(d.ID); err != nil {
			s.log.Warn("failed to set output", logger.Error(err), logger.String("device", d.Name))
		}
		if s.enabled {
			s.startPassthrough(nil)
		}
	})
}

func (s *AudioSession) publish(n events.Notification) {
	if s.publisher != nil {
		s.publisher.Publish(n)
	}
}

// reportError logs err and makes sure collaborators hear about it once.
func (s *AudioSession) reportError(operation string, err error) {
	s.log.Error("session operation failed", logger.String("operation", operation), logger.Error(err))

	category := string(errors.CategoryGeneric)
	reported := false
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		category = ee.GetCategory()
		reported = ee.IsReported()
	}
	s.metrics.RecordError(operation, category)
	if reported {
		return
	}
	n := events.ErrorMessage(err.Error())
	n.Component = "session"
	n.Category = category
	s.publish(n)
}
