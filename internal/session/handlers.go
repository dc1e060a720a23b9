package session

import (
	"time"

	"github.com/tphakala/eqroute/internal/device"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/observability/metrics"
	"github.com/tphakala/eqroute/internal/state"
)

// setupDeviceEvents (re)arms every device listener. Handlers are posted to
// the control loop.
func (s *AudioSession) setupDeviceEvents() {
	s.subs.UnsubscribeAll()

	handlers := []struct {
		t  device.EventType
		fn func(device.Event)
	}{
		{device.OutputChanged, s.onOutputChanged},
		{device.ListChanged, s.onListChanged},
		{device.JackConnectedChanged, s.onJackConnectedChanged},
		{device.IsAliveChanged, s.onIsAliveChanged},
		{device.VolumeChanged, s.onVolumeChanged},
		{device.MuteChanged, s.onMuteChanged},
		{device.SampleRateChanged, s.onSampleRateChanged},
	}
	for _, h := range handlers {
		fn := h.fn
		s.subs.Add(s.registry.Subscribe(h.t, func(ev device.Event) {
			s.loop.Post(func() { fn(ev) })
		}))
	}
}

func (s *AudioSession) recordEvent(t device.EventType, outcome string) {
	s.metrics.RecordDeviceEvent(t.String(), outcome)
}

func (s *AudioSession) isSelected(d device.AudioDevice) bool {
	return s.hasSel && d.ID == s.selected.ID
}

func (s *AudioSession) onOutputChanged(ev device.Event) {
	d := ev.Device
	if d.ID == s.drv.ID() {
		s.recordEvent(ev.Type, metrics.OutcomeIgnored)
		return
	}
	if !s.policy.IsDeviceAllowed(d) {
		s.log.Debug("output changed to unsupported device", logger.String("device", d.Name))
		s.recordEvent(ev.Type, metrics.OutcomeIgnored)
		return
	}
	if s.ignoreEvents {
		s.publishSelection(d)
		s.recordEvent(ev.Type, metrics.OutcomeSuppressed)
		return
	}
	if !s.enabled {
		s.recordEvent(ev.Type, metrics.OutcomeIgnored)
		return
	}
	s.recordEvent(ev.Type, metrics.OutcomeHandled)
	s.log.Info("output changed", logger.String("device", d.Name))
	s.startPassthrough(nil)
}

func (s *AudioSession) onListChanged(ev device.Event) {
	if s.ignoreEvents {
		s.recordEvent(ev.Type, metrics.OutcomeSuppressed)
		return
	}
	for _, d := range ev.Added {
		if s.policy.ShouldAutoSelect(d) {
			s.recordEvent(ev.Type, metrics.OutcomeHandled)
			s.log.Info("auto-selecting new device", logger.String("device", d.Name))
			s.selectOutput(d)
			return
		}
	}
	for _, d := range ev.Removed {
		if s.isSelected(d) {
			s.recordEvent(ev.Type, metrics.OutcomeHandled)
			s.log.Info("selected device removed", logger.String("device", d.Name))
			s.fallBack()
			return
		}
	}
	s.recordEvent(ev.Type, metrics.OutcomeIgnored)
}

func (s *AudioSession) onJackConnectedChanged(ev device.Event) {
	if s.ignoreEvents {
		s.recordEvent(ev.Type, metrics.OutcomeSuppressed)
		return
	}
	d := ev.Device
	switch {
	case ev.Connected && !s.isSelected(d) && s.policy.IsDeviceAllowed(d):
		s.recordEvent(ev.Type, metrics.OutcomeHandled)
		s.log.Info("jack connected, switching", logger.String("device", d.Name))
		s.selectOutput(d)
	case !ev.Connected && s.isSelected(d):
		s.recordEvent(ev.Type, metrics.OutcomeHandled)
		s.log.Info("jack disconnected on selected device, rebuilding", logger.String("device", d.Name))
		s.rebuild()
	default:
		s.recordEvent(ev.Type, metrics.OutcomeIgnored)
	}
}

func (s *AudioSession) onIsAliveChanged(ev device.Event) {
	if s.ignoreEvents {
		s.recordEvent(ev.Type, metrics.OutcomeSuppressed)
		return
	}
	if ev.Alive || !s.isSelected(ev.Device) {
		s.recordEvent(ev.Type, metrics.OutcomeIgnored)
		return
	}
	s.recordEvent(ev.Type, metrics.OutcomeHandled)
	s.log.Info("selected device died", logger.String("device", ev.Device.Name))
	s.fallBack()
}

func (s *AudioSession) onSampleRateChanged(ev device.Event) {
	if s.ignoreEvents {
		s.recordEvent(ev.Type, metrics.OutcomeSuppressed)
		return
	}
	if !s.isSelected(ev.Device) {
		s.recordEvent(ev.Type, metrics.OutcomeIgnored)
		return
	}
	s.recordEvent(ev.Type, metrics.OutcomeHandled)
	s.log.Info("selected device changed sample rate",
		logger.String("device", ev.Device.Name),
		logger.Float64("rate", ev.Device.ActualSampleRate))
	s.rebuild()
}

// fallBack tears down after the selected device went away and, once the
// registry settles, routes to the last known device.
func (s *AudioSession) fallBack() {
	s.ignoreEvents = true
	s.stopEngines(nil)
	s.setupDeviceEvents()

	gen := s.teardownGen
	s.loop.After(s.cfg.Delays.RemovalSettle, func() {
		if gen != s.teardownGen || !s.enabled {
			return
		}
		s.ignoreEvents = false
		d, ok := s.lastKnownDevice()
		if !ok {
			s.log.Warn("no device left to fall back to")
			s.metrics.RecordOperation(metrics.OpFallback, metrics.StatusError)
			return
		}
		s.metrics.RecordOperation(metrics.OpFallback, metrics.StatusSuccess)
		s.log.Info("falling back", logger.String("device", d.Name))
		s.selectOutput(d)
	})
}

// rebuild recreates the pipeline for the selected device at its current
// rate, once in-flight events from the teardown have been delivered.
func (s *AudioSession) rebuild() {
	s.ignoreEvents = true
	s.stopEngines(nil)
	s.setupDeviceEvents()

	gen := s.teardownGen
	s.loop.After(s.cfg.Delays.RebuildSettle, func() {
		if gen != s.teardownGen || !s.enabled || s.startingPassthrough {
			return
		}
		s.ignoreEvents = false
		if d, ok := s.registry.Device(s.selected.ID); ok {
			s.selected = d
			s.matchSampleRate(d)
		}
		if err := s.createPipeline(); err != nil {
			s.reportError(metrics.OpRebuild, err)
		}
	})
}

// onStateChange runs on the dispatching goroutine; the reaction is posted.
func (s *AudioSession) onStateChange(prev, next state.State, a state.Action) {
	s.loop.Post(func() { s.handleAction(prev, next, a) })
}

func (s *AudioSession) handleAction(prev, next state.State, a state.Action) {
	switch a.Type {
	case state.ActionSetEnabled:
		s.setEnabled(next.Enabled)

	case state.ActionSetGain, state.ActionSetMuted, state.ActionSetBalance, state.ActionSetBoostEnabled:
		s.applyVolume(next.Volume, a)

	case state.ActionSetEqualizerType:
		if prev.Equalizers.Type != next.Equalizers.Type {
			s.onEqualizerTypeChanged(a)
		}

	case state.ActionSelectBasicPreset, state.ActionSelectAdvancedPreset, state.ActionSelectParametricPreset:
		if prev.Equalizers == next.Equalizers {
			return
		}
		if !a.FromSelf() {
			s.saveSelectedProfile()
		}
		if prev.Equalizers.SelectedPresetID() != next.Equalizers.SelectedPresetID() {
			s.reloadEffects()
		}
	}
}

// onEqualizerTypeChanged rebuilds for a user mode switch. A switch made by
// a profile apply only needs new effects.
func (s *AudioSession) onEqualizerTypeChanged(a state.Action) {
	if a.FromSelf() {
		s.reloadEffects()
		return
	}
	s.saveSelectedProfile()
	if !s.enabled {
		return
	}
	s.log.Info("equalizer type changed, restarting audio", logger.String("type", a.String))
	s.stopSave(func() {
		s.loop.After(s.cfg.Delays.TypeChangeSettle, func() {
			if s.enabled {
				s.setupAudio()
			}
		})
	})
}

func (s *AudioSession) onPresetsChanged(mode state.EqualizerType) {
	if s.store.State().Equalizers.Type == mode {
		s.reloadEffects()
	}
}

func (s *AudioSession) saveSelectedProfile() {
	if !s.hasSel {
		return
	}
	start := time.Now()
	if err := s.profiles.SaveCurrentProfile(s.selected.UID); err != nil {
		s.reportError(metrics.OpProfileSave, err)
		return
	}
	s.metrics.RecordOperation(metrics.OpProfileSave, metrics.StatusSuccess)
	s.metrics.RecordDuration(metrics.OpProfileSave, time.Since(start).Seconds())
}
