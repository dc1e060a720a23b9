package session

import (
	"context"
	"time"

	"github.com/tphakala/eqroute/internal/device"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/observability/metrics"
)

// Sleep tears the pipeline down and saves before the system sleeps. It
// returns once the teardown is done or ctx expires. Nothing is scheduled
// to resume; call Wake.
func (s *AudioSession) Sleep(ctx context.Context) error {
	done := make(chan struct{})
	if !s.loop.Post(func() { s.sleep(func() { close(done) }) }) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wake resumes passthrough once the last device is back.
func (s *AudioSession) Wake() {
	s.loop.Post(s.wake)
}

func (s *AudioSession) sleep(completion func()) {
	s.log.Info("system going to sleep", logger.Bool("enabled", s.enabled))
	s.ignoreEvents = true
	if !s.enabled {
		completion()
		return
	}
	s.stopSave(completion)
}

func (s *AudioSession) wake() {
	s.log.Info("system woke up")
	start := time.Now()

	s.loop.After(s.cfg.Delays.WakeSettle, func() {
		s.ignoreEvents = false
		if !s.enabled {
			s.metrics.RecordOperation(metrics.OpWake, metrics.StatusSkipped)
			return
		}
		resume := func(status string) {
			s.metrics.RecordOperation(metrics.OpWake, status)
			s.metrics.RecordDuration(metrics.OpWake, time.Since(start).Seconds())
			s.setupAudio()
		}
		if len(s.history) == 0 {
			resume(metrics.StatusSuccess)
			return
		}
		s.awaitDevice(s.history[len(s.history)-1], s.cfg.WakeRetries, resume)
	})
}

// awaitDevice polls until want is usable again, then calls resume. When the
// retries run out it resumes anyway with whatever resolves.
func (s *AudioSession) awaitDevice(want device.AudioDevice, retries int, resume func(status string)) {
	if s.deviceReady(want) {
		resume(metrics.StatusSuccess)
		return
	}
	if retries <= 0 {
		s.log.Warn("last device did not come back after wake, resuming anyway",
			logger.String("device", want.Name))
		resume(metrics.StatusTimeout)
		return
	}
	s.log.Debug("waiting for device after wake",
		logger.String("device", want.Name),
		logger.Int("retries_left", retries))
	s.loop.After(s.cfg.Delays.WakeRetryInterval, func() {
		if !s.enabled {
			return
		}
		s.awaitDevice(want, retries-1, resume)
	})
}

func (s *AudioSession) deviceReady(want device.AudioDevice) bool {
	for _, d := range s.policy.AllowedDevices() {
		if d.SameAs(want) && d.Alive && d.NominalSampleRate > 0 {
			return true
		}
	}
	return false
}
