package session

import (
	"time"

	"github.com/tphakala/eqroute/internal/device"
	"github.com/tphakala/eqroute/internal/driver"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/events"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/observability/metrics"
	"github.com/tphakala/eqroute/internal/state"
)

// startPassthrough makes the driver shadow the current output and, after
// RebuildSettle, applies the device profile and builds the pipeline.
// A request arriving while a switch is in flight is folded into it:
// completion runs once the in-flight switch finishes.
func (s *AudioSession) startPassthrough(completion func()) {
	if s.startingPassthrough {
		s.log.Debug("switch already in flight, coalescing request")
		s.metrics.RecordOperation(metrics.OpSwitch, metrics.StatusCoalesced)
		s.pendingSwitch = append(s.pendingSwitch, completionOrNoop(completion))
		return
	}
	s.startingPassthrough = true
	start := time.Now()
	gen := s.teardownGen

	if s.hasSel {
		if err := s.profiles.SaveCurrentProfile(s.selected.UID); err != nil {
			s.log.Warn("failed to save outgoing device profile",
				logger.String("uid", s.selected.UID),
				logger.Error(err))
		}
	}

	dev, ok := s.resolveOutput()
	if !ok {
		err := errors.Newf("no output device available for passthrough").
			Component("session").
			Category(errors.CategoryDevice).
			Build()
		s.reportError(metrics.OpSwitch, err)
		s.finishSwitch(completion, start, err)
		return
	}

	s.log.Info("starting passthrough",
		logger.String("device", dev.Name),
		logger.Int("id", int(dev.ID)),
		logger.String("uid", dev.UID))

	s.selected, s.hasSel = dev, true
	s.pushHistory(dev)
	s.ignoreEvents = true
	s.phase = PhaseBuilding

	s.shadowVolume(dev)
	s.shadowDevice(dev)

	if err := s.registry.SetDefaultOutput(s.drv.ID()); err != nil {
		s.log.Warn("failed to route output to driver", logger.Error(err))
	}
	if err := s.registry.SetDefaultSystemOutput(s.drv.ID()); err != nil {
		s.log.Warn("failed to route system output to driver", logger.Error(err))
	}

	s.loop.After(s.cfg.Delays.RebuildSettle, func() {
		if gen != s.teardownGen || !s.enabled {
			s.log.Debug("passthrough torn down before build, skipping")
			s.finishSwitch(completion, start, nil)
			return
		}

		if err := s.profiles.Apply(dev.UID); err != nil {
			s.log.Warn("failed to apply device profile", logger.String("uid", dev.UID), logger.Error(err))
		}
		s.ignoreEvents = false

		err := s.createPipeline()
		if err != nil {
			s.reportError(metrics.OpSwitch, err)
		}
		s.finishSwitch(completion, start, err)
	})
}

// finishSwitch clears the switch guard and runs the caller's completion
// and every coalesced one. A switch that was superseded by a teardown
// restarts once for the requests that queued behind it.
func (s *AudioSession) finishSwitch(completion func(), start time.Time, err error) {
	pending := s.pendingSwitch
	s.pendingSwitch = nil
	s.startingPassthrough = false

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		s.ignoreEvents = false
	}
	s.metrics.RecordOperation(metrics.OpSwitch, status)
	s.metrics.RecordDuration(metrics.OpSwitch, time.Since(start).Seconds())

	if s.pipe.Load() == nil && len(pending) > 0 && s.enabled && err == nil {
		s.startPassthrough(func() {
			runAll(completion, pending)
		})
		return
	}
	runAll(completion, pending)
}

func runAll(first func(), rest []func()) {
	if first != nil {
		first()
	}
	for _, fn := range rest {
		fn()
	}
}

func completionOrNoop(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	return fn
}

// resolveOutput returns the device to shadow: the current output, unless
// that is the driver itself or missing.
func (s *AudioSession) resolveOutput() (device.AudioDevice, bool) {
	d, ok := s.registry.DefaultOutput()
	if ok && d.ID != s.drv.ID() {
		return d, true
	}
	return s.lastKnownDevice()
}

// shadowVolume copies the volume the user hears into application state.
// Hardware values win over remembered ones when the device has them.
func (s *AudioSession) shadowVolume(d device.AudioDevice) {
	vol := s.store.State().Volume
	gain, muted, balance := vol.Gain, vol.Muted, vol.Balance
	if d.SupportsVolume {
		gain, muted = d.Volume, d.Muted
	}
	if d.SupportsBalance {
		balance = driver.BalanceFromDevice(d.Balance)
	}

	s.store.Dispatch(state.SetBalance(balance, state.OriginSelf))
	s.store.Dispatch(state.SetGain(gain, state.OriginSelf))
	s.store.Dispatch(state.SetMuted(muted, state.OriginSelf))

	s.suppressVolumeEcho()
	if err := s.drv.SetVolume(min(gain, 1)); err != nil {
		s.log.Warn("failed to set driver volume", logger.Error(err))
	}
	if err := s.drv.SetMuted(muted); err != nil {
		s.log.Warn("failed to set driver mute", logger.Error(err))
	}
	if err := s.drv.SetBalance(balance); err != nil {
		s.log.Warn("failed to set driver balance", logger.Error(err))
	}
}

// shadowDevice makes the driver look like d: latency, name and rate.
func (s *AudioSession) shadowDevice(d device.AudioDevice) {
	if err := s.drv.SetLatency(d.Latency); err != nil {
		s.log.Warn("failed to set driver latency", logger.Error(err))
	}
	if err := s.drv.SetName(driver.ShadowName(d, s.cfg.NameSuffix)); err != nil {
		s.log.Warn("failed to rename driver", logger.Error(err))
	}
	s.matchSampleRate(d)
}

// matchSampleRate sets the driver to the supported rate closest to the
// device's.
func (s *AudioSession) matchSampleRate(d device.AudioDevice) {
	rate := d.ActualSampleRate
	if rate <= 0 {
		rate = d.NominalSampleRate
	}
	if rate <= 0 {
		return
	}
	supported := s.drv.SupportedSampleRates()
	if len(supported) == 0 {
		supported = s.cfg.SupportedSampleRates
	}
	target := driver.MatchSampleRate(supported, rate)
	if target == s.drv.NominalSampleRate() {
		return
	}
	s.log.Debug("matching driver sample rate",
		logger.Float64("device_rate", rate),
		logger.Float64("driver_rate", target))
	if err := s.drv.SetNominalSampleRate(target); err != nil {
		s.log.Warn("failed to set driver sample rate", logger.Float64("rate", target), logger.Error(err))
	}
}

// pushHistory records d as the newest selection.
func (s *AudioSession) pushHistory(d device.AudioDevice) {
	if n := len(s.history); n > 0 && s.history[n-1].SameAs(d) {
		s.history[n-1] = d
		return
	}
	s.history = append(s.history, d)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
}

// lastKnownDevice finds where to route when the selection is gone. It pops
// the history until an entry is present again (same id or same name), then
// tries the previous selection and the built-in output, then any allowed
// device, and finally the built-in output whatever the policy says.
func (s *AudioSession) lastKnownDevice() (device.AudioDevice, bool) {
	allowed := s.policy.AllowedDevices()
	driverID := s.drv.ID()
	present := func(want device.AudioDevice) (device.AudioDevice, bool) {
		for _, d := range allowed {
			if d.ID != driverID && d.SameAs(want) {
				return d, true
			}
		}
		return device.AudioDevice{}, false
	}

	for len(s.history) > 0 {
		top := s.history[len(s.history)-1]
		s.history = s.history[:len(s.history)-1]
		if top.ID == driverID {
			continue
		}
		if d, ok := present(top); ok {
			return d, true
		}
	}

	if s.hasSel {
		if d, ok := present(s.selected); ok {
			return d, true
		}
	}
	builtIn, hasBuiltIn := device.BuiltInOutput(s.registry, s.cfg.BuiltInName)
	if hasBuiltIn {
		if d, ok := present(builtIn); ok {
			return d, true
		}
	}
	for _, d := range allowed {
		if d.ID != driverID {
			return d, true
		}
	}
	if hasBuiltIn && builtIn.ID != driverID {
		return builtIn, true
	}
	return device.AudioDevice{}, false
}

// publishSelection reports a selection the session is not acting on.
func (s *AudioSession) publishSelection(d device.AudioDevice) {
	s.publish(events.OutputSelected(d.ID, d.Name))
}
