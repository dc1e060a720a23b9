package session

import (
	"math"

	"github.com/tphakala/eqroute/internal/device"
	"github.com/tphakala/eqroute/internal/events"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/observability/metrics"
	"github.com/tphakala/eqroute/internal/state"
)

// volumeSteps returns the ascending gain table 0, 1/steps, ... up to maxGain.
func volumeSteps(steps int, maxGain float64) []float64 {
	n := int(math.Round(float64(steps) * maxGain))
	table := make([]float64, n+1)
	for i := range table {
		table[i] = float64(i) / float64(steps)
	}
	return table
}

// stepUp returns the first entry above gain, or the last entry.
func stepUp(table []float64, gain float64) float64 {
	for _, v := range table {
		if v > gain {
			return v
		}
	}
	return table[len(table)-1]
}

// stepDown returns the entry before the first one at or above gain.
func stepDown(table []float64, gain float64) float64 {
	i := len(table)
	for j, v := range table {
		if v >= gain {
			i = j
			break
		}
	}
	return table[max(i-1, 0)]
}

// VolumeUp steps the gain up. fine uses the quarter-step table.
func (s *AudioSession) VolumeUp(fine bool) {
	s.loop.Post(func() { s.stepVolume(true, fine) })
}

// VolumeDown steps the gain down. fine uses the quarter-step table.
func (s *AudioSession) VolumeDown(fine bool) {
	s.loop.Post(func() { s.stepVolume(false, fine) })
}

// MuteButtonPressed toggles the driver mute.
func (s *AudioSession) MuteButtonPressed() {
	s.loop.Post(func() {
		s.ignoreNextDriverMuteEvent = false
		s.muteSuppressGen++
		if err := s.drv.SetMuted(!s.drv.Muted()); err != nil {
			s.log.Warn("failed to toggle driver mute", logger.Error(err))
		}
	})
}

func (s *AudioSession) stepVolume(up, fine bool) {
	if s.ignoreEvents || s.pipe.Load() == nil {
		return
	}
	table := s.fullSteps
	if fine {
		table = s.quarterSteps
	}

	vol := s.store.State().Volume
	var gain float64
	if up {
		gain = stepUp(table, vol.Gain)
	} else {
		gain = stepDown(table, vol.Gain)
	}
	if gain > 1 && !vol.BoostEnabled {
		gain = 1
	}

	if up {
		s.ignoreNextDriverMuteEvent = true
		s.muteSuppressGen++
		gen := s.muteSuppressGen
		s.loop.After(s.cfg.Delays.MuteSuppress, func() {
			if gen == s.muteSuppressGen {
				s.ignoreNextDriverMuteEvent = false
			}
		})
	}

	s.store.Dispatch(state.SetGain(gain, state.OriginSelf))

	switch {
	case gain <= 1:
		if err := s.drv.SetVolume(gain); err != nil {
			s.log.Warn("failed to set driver volume", logger.Error(err))
		}
	case !up:
		// Stepping down inside the boost region: park the driver at full
		// scale and swallow its echo.
		s.overrideNextVolumeEvent = true
		if err := s.drv.SetVolume(1); err != nil {
			s.log.Warn("failed to set driver volume", logger.Error(err))
		}
	}
	s.publish(events.GainChanged(gain))
}

// suppressVolumeEcho ignores driver volume and mute events for VolumeEcho.
func (s *AudioSession) suppressVolumeEcho() {
	s.ignoreVolumeEvents = true
	s.volumeEchoGen++
	gen := s.volumeEchoGen
	s.loop.After(s.cfg.Delays.VolumeEcho, func() {
		if gen == s.volumeEchoGen {
			s.ignoreVolumeEvents = false
		}
	})
}

func (s *AudioSession) onVolumeChanged(ev device.Event) {
	switch {
	case ev.Device.ID == s.drv.ID():
		s.onDriverVolume(ev)
	case s.isSelected(ev.Device):
		s.onDeviceVolume(ev)
	default:
		s.recordEvent(ev.Type, metrics.OutcomeIgnored)
	}
}

func (s *AudioSession) onMuteChanged(ev device.Event) {
	switch {
	case ev.Device.ID == s.drv.ID():
		s.onDriverMute(ev)
	case s.isSelected(ev.Device):
		s.onDeviceVolume(ev)
	default:
		s.recordEvent(ev.Type, metrics.OutcomeIgnored)
	}
}

// onDriverVolume mirrors the driver's own slider into application state.
// Driver values above 1 belong to boost and are never taken as a gain.
func (s *AudioSession) onDriverVolume(ev device.Event) {
	if s.ignoreVolumeEvents {
		s.recordEvent(ev.Type, metrics.OutcomeSuppressed)
		return
	}
	if s.ignoreNextVolumeEvent {
		s.ignoreNextVolumeEvent = false
		s.recordEvent(ev.Type, metrics.OutcomeSuppressed)
		return
	}
	if s.overrideNextVolumeEvent {
		s.overrideNextVolumeEvent = false
		s.ignoreNextVolumeEvent = true
		s.recordEvent(ev.Type, metrics.OutcomeSuppressed)
		if err := s.drv.SetVolume(1); err != nil {
			s.log.Warn("failed to reset driver volume", logger.Error(err))
		}
		return
	}

	gain := ev.Device.Volume
	if gain > 1 || gain == s.store.State().Volume.Gain {
		s.recordEvent(ev.Type, metrics.OutcomeIgnored)
		return
	}
	s.recordEvent(ev.Type, metrics.OutcomeHandled)
	s.store.Dispatch(state.SetGain(gain, state.OriginSelf))
	s.publish(events.GainChanged(gain))
}

func (s *AudioSession) onDriverMute(ev device.Event) {
	if s.ignoreVolumeEvents || s.ignoreNextDriverMuteEvent {
		s.recordEvent(ev.Type, metrics.OutcomeSuppressed)
		return
	}
	muted := ev.Device.Muted
	if muted == s.store.State().Volume.Muted {
		s.recordEvent(ev.Type, metrics.OutcomeIgnored)
		return
	}
	s.recordEvent(ev.Type, metrics.OutcomeHandled)
	s.store.Dispatch(state.SetMuted(muted, state.OriginSelf))
}

// onDeviceVolume follows a volume or mute change made on the physical
// device by someone else.
func (s *AudioSession) onDeviceVolume(ev device.Event) {
	d := ev.Device
	if !d.SupportsVolume || (d.Volume == s.drv.Volume() && d.Muted == s.drv.Muted()) {
		s.recordEvent(ev.Type, metrics.OutcomeIgnored)
		return
	}
	s.recordEvent(ev.Type, metrics.OutcomeHandled)

	s.suppressVolumeEcho()
	if err := s.drv.SetVolume(d.Volume); err != nil {
		s.log.Warn("failed to mirror device volume", logger.Error(err))
	}
	if err := s.drv.SetMuted(d.Muted); err != nil {
		s.log.Warn("failed to mirror device mute", logger.Error(err))
	}
	s.store.Dispatch(state.SetGain(d.Volume, state.OriginSelf))
	s.store.Dispatch(state.SetMuted(d.Muted, state.OriginSelf))
	s.publish(events.GainChanged(d.Volume))
}

// applyVolume hands new volume state to the output stage and, for changes
// made outside the session, to the driver.
func (s *AudioSession) applyVolume(v state.Volume, a state.Action) {
	if p := s.pipe.Load(); p != nil {
		p.output.SetVolume(v)
	}
	if a.FromSelf() {
		return
	}

	var err error
	switch a.Type {
	case state.ActionSetGain:
		s.suppressVolumeEcho()
		err = s.drv.SetVolume(min(v.Gain, 1))
	case state.ActionSetMuted:
		s.suppressVolumeEcho()
		err = s.drv.SetMuted(v.Muted)
	case state.ActionSetBalance:
		s.suppressVolumeEcho()
		err = s.drv.SetBalance(v.Balance)
	}
	if err != nil {
		s.log.Warn("failed to push volume to driver", logger.String("action", string(a.Type)), logger.Error(err))
	}
}
